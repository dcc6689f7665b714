package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetSession(t *testing.T) {
	s, _ := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, sess.Uuid, 20)
	assert.Equal(t, entity.StatusActive, sess.Status)
	assert.Equal(t, entity.PhaseNew, sess.Phase)
	assert.True(t, sess.ContextState.Empty())

	withDS, err := s.CreateSession(ctx, "u1", "sales_dw")
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseReady, withDS.Phase)

	got, err := s.GetSession(ctx, sess.Uuid, false)
	require.NoError(t, err)
	assert.Equal(t, sess.Uuid, got.Session.Uuid)
	assert.Nil(t, got.Messages)

	_, err = s.GetSession(ctx, "CSDOESNOTEXIST000000", false)
	assert.ErrorIs(t, err, xerr.ErrSessionNotFound)

	_, err = s.GetOwnedSession(ctx, "u2", sess.Uuid, false)
	assert.ErrorIs(t, err, xerr.ErrSessionNotFound)

	_, err = s.CreateSession(ctx, " ", "")
	assert.ErrorIs(t, err, xerr.ErrUnauthorized)
}

func TestGetSessionExpiredIsNotResurrected(t *testing.T) {
	s, c := newTestSessionStore(t, nil, SessionOptions{InactivityWindow: time.Hour})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	c.advance(59 * time.Minute)
	_, err = s.GetSession(ctx, sess.Uuid, false)
	require.NoError(t, err)

	c.advance(time.Minute)
	_, err = s.GetSession(ctx, sess.Uuid, false)
	assert.ErrorIs(t, err, xerr.ErrSessionExpired)

	_, err = s.AddMessage(ctx, sess.Uuid, userMsg("still there?"))
	assert.ErrorIs(t, err, xerr.ErrSessionExpired)
}

func TestAddMessageSequenceAndTitle(t *testing.T) {
	s, c := newTestSessionStore(t, nil, SessionOptions{InactivityWindow: time.Hour})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "sales_dw")
	require.NoError(t, err)

	c.advance(30 * time.Minute)
	m1, err := s.AddMessage(ctx, sess.Uuid, userMsg("  What is   total revenue\nfor last quarter?"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, m1.Seq)
	assert.Equal(t, entity.RoleUser, m1.Role)
	assert.Len(t, m1.Uuid, 20)

	m2, err := s.AddMessage(ctx, sess.Uuid, sqlMsg("SELECT SUM(amount) FROM orders"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, m2.Seq)

	_, err = s.AddMessage(ctx, sess.Uuid, userMsg("another question"))
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.Uuid, true)
	require.NoError(t, err)
	assert.Equal(t, "What is total revenue", got.Session.Title)
	assert.EqualValues(t, 3, got.Session.MessageSeq)
	assert.True(t, got.Session.LastActivityAt.Equal(c.now()))
	assert.True(t, got.Session.ExpiresAt.Equal(c.now().Add(time.Hour)))
	require.Len(t, got.Messages, 3)
	assert.Equal(t, entity.TypeQueryResult, got.Messages[1].Type)
	assert.Equal(t, entity.QueryResult{Text: "done", SQL: "SELECT SUM(amount) FROM orders", Hint: HintTable, Result: entity.ResultSample{}}, got.Messages[1].Payload())

	_, err = s.AddMessage(ctx, sess.Uuid, nil)
	assert.ErrorIs(t, err, xerr.ErrParam)
}

func TestTitleTruncated(t *testing.T) {
	assert.Equal(t, "short", deriveTitle(" short "))
	long := "this question is definitely longer than forty characters in total"
	title := deriveTitle(long)
	assert.Equal(t, long[:40]+"...", title)
}

func TestConcurrentAppendsSameStore(t *testing.T) {
	s, _ := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "sales_dw")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddMessage(ctx, sess.Uuid, userMsg("double submit"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := s.History(ctx, sess.Uuid, 0)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.EqualValues(t, i+1, m.Seq)
	}
}

// 两个实例共享一张表，只能靠版本号保证顺序
func TestConcurrentAppendsAcrossInstances(t *testing.T) {
	db := NewTestDB(t)
	a, _ := newTestSessionStore(t, db, SessionOptions{})
	b, _ := newTestSessionStore(t, db, SessionOptions{})
	ctx := context.Background()
	sess, err := a.CreateSession(ctx, "u1", "sales_dw")
	require.NoError(t, err)

	const n = 10
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < n; i++ {
		for _, store := range []*sessionStoreImpl{a, b} {
			wg.Add(1)
			go func(store *sessionStoreImpl) {
				defer wg.Done()
				_, err := store.AddMessage(ctx, sess.Uuid, userMsg("hello"))
				if err != nil {
					assert.ErrorIs(t, err, xerr.ErrSessionBusy)
					return
				}
				mu.Lock()
				ok++
				mu.Unlock()
			}(store)
		}
	}
	wg.Wait()

	msgs, err := a.History(ctx, sess.Uuid, 0)
	require.NoError(t, err)
	require.Len(t, msgs, ok)
	seqs := make([]int, 0, len(msgs))
	for _, m := range msgs {
		seqs = append(seqs, int(m.Seq))
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq, "sequence positions must be unique and contiguous")
	}
}

func TestUpdateContextUnionsLists(t *testing.T) {
	s, _ := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "sales_dw")
	require.NoError(t, err)

	_, err = s.UpdateContext(ctx, sess.Uuid, contextitem.SessionContext{TablesUsed: []string{"orders"}, FiltersApplied: []string{"is_test = 0"}, LastTopic: "revenue"})
	require.NoError(t, err)
	got, err := s.UpdateContext(ctx, sess.Uuid, contextitem.SessionContext{TablesUsed: []string{"customers", "orders"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"orders", "customers"}, got.ContextState.TablesUsed)
	assert.Equal(t, []string{"is_test = 0"}, got.ContextState.FiltersApplied)
	assert.Equal(t, "revenue", got.ContextState.LastTopic)

	reloaded, err := s.GetSession(ctx, sess.Uuid, false)
	require.NoError(t, err)
	assert.Equal(t, got.ContextState, reloaded.Session.ContextState)
}

func TestExtractContextFromHistoryFollowUp(t *testing.T) {
	s, _ := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "sales_dw")
	require.NoError(t, err)

	for _, m := range []*entity.ConversationMessage{
		userMsg("How many orders did we get last week?"),
		sqlMsg("SELECT COUNT(*) FROM orders WHERE created_at >= '2024-02-19' AND status = 'paid'"),
		userMsg("break that down by region"),
	} {
		_, err := s.AddMessage(ctx, sess.Uuid, m)
		require.NoError(t, err)
	}

	got, err := s.ExtractContextFromHistory(ctx, sess.Uuid)
	require.NoError(t, err)
	assert.Contains(t, got.ContextState.TablesUsed, "orders")
	assert.Equal(t, []string{"created_at >= '2024-02-19'", "status = 'paid'"}, got.ContextState.FiltersApplied)
	assert.Equal(t, "How many orders did we get last week?", got.ContextState.LastTopic)
}

func TestEndSession(t *testing.T) {
	s, c := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	_, err = s.EndSession(ctx, "u2", sess.Uuid)
	assert.ErrorIs(t, err, xerr.ErrSessionNotFound)

	ended, err := s.EndSession(ctx, "u1", sess.Uuid)
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseEnded, ended.Phase)
	assert.Equal(t, entity.StatusCompleted, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(c.now()))

	_, err = s.AddMessage(ctx, sess.Uuid, userMsg("hello?"))
	assert.ErrorIs(t, err, xerr.ErrSessionEnded)
	_, err = s.EndSession(ctx, "u1", sess.Uuid)
	assert.ErrorIs(t, err, xerr.ErrSessionEnded)
	_, err = s.SetPhase(ctx, sess.Uuid, entity.PhaseProcessing)
	assert.ErrorIs(t, err, xerr.ErrSessionEnded)
}

func TestSetDataSource(t *testing.T) {
	s, _ := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "u1", "")
	require.NoError(t, err)
	_, err = s.SetPhase(ctx, sess.Uuid, entity.PhaseDiscovery)
	require.NoError(t, err)

	got, err := s.SetDataSource(ctx, "u1", sess.Uuid, "sales_dw")
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseReady, got.Phase)
	assert.Equal(t, "sales_dw", got.DataSourceId)

	_, err = s.UpdateContext(ctx, sess.Uuid, contextitem.SessionContext{TablesUsed: []string{"orders"}, LastTopic: "revenue"})
	require.NoError(t, err)
	switched, err := s.SetDataSource(ctx, "u1", sess.Uuid, "hr_dw")
	require.NoError(t, err)
	assert.Empty(t, switched.ContextState.TablesUsed)
	assert.Equal(t, "revenue", switched.ContextState.LastTopic)

	_, err = s.SetDataSource(ctx, "u1", sess.Uuid, " ")
	assert.ErrorIs(t, err, xerr.ErrParam)
	_, err = s.SetDataSource(ctx, "u2", sess.Uuid, "sales_dw")
	assert.ErrorIs(t, err, xerr.ErrSessionNotFound)
}

func TestCleanupExpired(t *testing.T) {
	s, c := newTestSessionStore(t, nil, SessionOptions{InactivityWindow: time.Hour, SweepBatch: 2})
	ctx := context.Background()

	var stale []string
	for i := 0; i < 5; i++ {
		sess, err := s.CreateSession(ctx, "u1", "")
		require.NoError(t, err)
		stale = append(stale, sess.Uuid)
	}
	c.advance(50 * time.Minute)
	fresh, err := s.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	c.advance(15 * time.Minute)
	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range stale {
		raw, err := s.repo.GetByUuid(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusExpired, raw.Status)
		assert.Equal(t, entity.PhaseExpired, raw.Phase)
		_, err = s.GetSession(ctx, id, false)
		assert.ErrorIs(t, err, xerr.ErrSessionExpired)
	}
	_, err = s.GetSession(ctx, fresh.Uuid, false)
	assert.NoError(t, err)
}

func TestListSessionsPaged(t *testing.T) {
	s, c := newTestSessionStore(t, nil, SessionOptions{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.CreateSession(ctx, "u1", "")
		require.NoError(t, err)
		c.advance(time.Minute)
	}
	_, err := s.CreateSession(ctx, "u2", "")
	require.NoError(t, err)

	page, err := s.ListSessions(ctx, "u1", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Sessions, 2)
	assert.True(t, page.Sessions[0].LastActivityAt.After(page.Sessions[1].LastActivityAt))

	page, err = s.ListSessions(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 1)

	empty, err := s.ListSessions(ctx, "nobody", 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty.Sessions)
	assert.Equal(t, 20, empty.Size)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock2 := k.Lock("b")
	unlock()
	unlock2()
	assert.Empty(t, k.locks)
}
