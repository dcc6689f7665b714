package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"InsightLink/internal/modules/ai/domain/contextitem"
	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/internal/modules/conversation/domain/repository"
	"InsightLink/pkg/util"
	"InsightLink/pkg/xerr"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

const (
	maxTitleRunes   = 40
	maxVersionRetry = 3
)

// SessionDetail 会话及其消息
type SessionDetail struct {
	Session  *entity.ConversationSession  `json:"session"`
	Messages []entity.ConversationMessage `json:"messages,omitempty"`
}

type SessionPage struct {
	Total    int64                        `json:"total"`
	Page     int                          `json:"page"`
	Size     int                          `json:"size"`
	Sessions []entity.ConversationSession `json:"sessions"`
}

// SessionStore 会话与消息的唯一写入口
type SessionStore interface {
	CreateSession(ctx context.Context, userID, dataSourceID string) (*entity.ConversationSession, error)
	// GetSession 不存在返回 ErrSessionNotFound，过期返回 ErrSessionExpired，不会自动续期
	GetSession(ctx context.Context, sessionID string, includeHistory bool) (*SessionDetail, error)
	// GetOwnedSession 同 GetSession，并且只对会话所有者可见
	GetOwnedSession(ctx context.Context, userID, sessionID string, includeHistory bool) (*SessionDetail, error)
	ListSessions(ctx context.Context, userID string, page, size int) (*SessionPage, error)
	// AddMessage 分配递增 seq 后原子追加，首条用户消息生成标题
	AddMessage(ctx context.Context, sessionID string, msg *entity.ConversationMessage) (*entity.ConversationMessage, error)
	// UpdateContext 浅合并，列表字段取并集
	UpdateContext(ctx context.Context, sessionID string, patch contextitem.SessionContext) (*entity.ConversationSession, error)
	// ExtractContextFromHistory 解析最近的 SQL，把表和过滤条件并入会话上下文
	ExtractContextFromHistory(ctx context.Context, sessionID string) (*entity.ConversationSession, error)
	History(ctx context.Context, sessionID string, limit int) ([]entity.ConversationMessage, error)
	SetPhase(ctx context.Context, sessionID string, phase entity.Phase) (*entity.ConversationSession, error)
	SetDataSource(ctx context.Context, userID, sessionID, dataSourceID string) (*entity.ConversationSession, error)
	EndSession(ctx context.Context, userID, sessionID string) (*entity.ConversationSession, error)
	// CleanupExpired 批量把已过期的会话置为 expired
	CleanupExpired(ctx context.Context) (int64, error)
}

type SessionOptions struct {
	InactivityWindow time.Duration
	HistoryWindow    int
	SweepBatch       int
}

type sessionStoreImpl struct {
	repo      repository.SessionRepository
	extractor ContextExtractor
	opts      SessionOptions
	locks     *keyedMutex
	now       func() time.Time
}

func NewSessionStore(repo repository.SessionRepository, extractor ContextExtractor, opts SessionOptions) SessionStore {
	if opts.InactivityWindow <= 0 {
		opts.InactivityWindow = 24 * time.Hour
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 500
	}
	if extractor == nil {
		extractor = NewRegexExtractor(opts.HistoryWindow)
	}
	return &sessionStoreImpl{repo: repo, extractor: extractor, opts: opts, locks: newKeyedMutex(), now: time.Now}
}

func (s *sessionStoreImpl) CreateSession(ctx context.Context, userID, dataSourceID string) (*entity.ConversationSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, xerr.ErrUnauthorized
	}
	now := s.now()
	sess := &entity.ConversationSession{
		Uuid:           util.GenerateID("CS"),
		UserId:         userID,
		Status:         entity.StatusActive,
		Phase:          entity.PhaseNew,
		DataSourceId:   strings.TrimSpace(dataSourceID),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.opts.InactivityWindow),
	}
	if sess.DataSourceId != "" {
		sess.Phase = entity.PhaseReady
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	zlog.Info("conversation session created", zap.String("session_id", sess.Uuid), zap.String("user_id", userID))
	return sess, nil
}

// load 读取并检查过期，不检查所有者
func (s *sessionStoreImpl) load(ctx context.Context, sessionID string) (*entity.ConversationSession, error) {
	sess, err := s.repo.GetByUuid(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, xerr.ErrSessionNotFound
	}
	if sess.ExpiredAt(s.now()) {
		return nil, xerr.ErrSessionExpired
	}
	return sess, nil
}

func (s *sessionStoreImpl) GetSession(ctx context.Context, sessionID string, includeHistory bool) (*SessionDetail, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := &SessionDetail{Session: sess}
	if includeHistory {
		if out.Messages, err = s.repo.ListMessages(ctx, sess.Uuid, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sessionStoreImpl) GetOwnedSession(ctx context.Context, userID, sessionID string, includeHistory bool) (*SessionDetail, error) {
	d, err := s.GetSession(ctx, sessionID, includeHistory)
	if err != nil {
		return nil, err
	}
	if d.Session.UserId != userID {
		return nil, xerr.ErrSessionNotFound
	}
	return d, nil
}

func (s *sessionStoreImpl) ListSessions(ctx context.Context, userID string, page, size int) (*SessionPage, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	list, total, err := s.repo.ListByUser(ctx, userID, (page-1)*size, size)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []entity.ConversationSession{}
	}
	return &SessionPage{Total: total, Page: page, Size: size, Sessions: list}, nil
}

// mutate 同一进程内按会话串行，跨进程靠版本号冲突重试
func (s *sessionStoreImpl) mutate(ctx context.Context, sessionID string, apply func(*entity.ConversationSession) error, save func(*entity.ConversationSession, int64) error) (*entity.ConversationSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	for attempt := 0; attempt < maxVersionRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := s.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		expected := sess.Version
		if err := apply(sess); err != nil {
			return nil, err
		}
		err = save(sess, expected)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		zlog.Debug("conversation session version conflict, retrying", zap.String("session_id", sessionID), zap.Int("attempt", attempt+1))
	}
	return nil, xerr.ErrSessionBusy
}

func (s *sessionStoreImpl) update(ctx context.Context, sessionID string, apply func(*entity.ConversationSession) error) (*entity.ConversationSession, error) {
	return s.mutate(ctx, sessionID, apply, func(sess *entity.ConversationSession, expected int64) error {
		return s.repo.Update(ctx, sess, expected)
	})
}

func requireOpen(sess *entity.ConversationSession) error {
	if sess.Status == entity.StatusExpired || sess.Phase == entity.PhaseExpired {
		return xerr.ErrSessionExpired
	}
	if !sess.Open() {
		return xerr.ErrSessionEnded
	}
	return nil
}

func (s *sessionStoreImpl) AddMessage(ctx context.Context, sessionID string, msg *entity.ConversationMessage) (*entity.ConversationMessage, error) {
	if msg == nil {
		return nil, xerr.ErrParam
	}
	var stored entity.ConversationMessage
	_, err := s.mutate(ctx, sessionID, func(sess *entity.ConversationSession) error {
		if err := requireOpen(sess); err != nil {
			return err
		}
		now := s.now()
		stored = *msg
		stored.Id = 0
		stored.Uuid = util.GenerateID("CM")
		stored.SessionUuid = sess.Uuid
		stored.Seq = sess.MessageSeq + 1
		stored.CreatedAt = now

		sess.MessageSeq = stored.Seq
		sess.LastActivityAt = now
		sess.ExpiresAt = now.Add(s.opts.InactivityWindow)
		if sess.Title == "" && stored.Role == entity.RoleUser {
			sess.Title = deriveTitle(stored.Content)
		}
		return nil
	}, func(sess *entity.ConversationSession, expected int64) error {
		return s.repo.AppendMessage(ctx, sess, expected, &stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func deriveTitle(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	return util.TruncateRunes(strings.Join(strings.Fields(line), " "), maxTitleRunes)
}

func (s *sessionStoreImpl) UpdateContext(ctx context.Context, sessionID string, patch contextitem.SessionContext) (*entity.ConversationSession, error) {
	return s.update(ctx, sessionID, func(sess *entity.ConversationSession) error {
		sess.ContextState = MergeContext(sess.ContextState, patch)
		return nil
	})
}

func (s *sessionStoreImpl) ExtractContextFromHistory(ctx context.Context, sessionID string) (*entity.ConversationSession, error) {
	msgs, err := s.repo.ListMessages(ctx, sessionID, s.opts.HistoryWindow*2)
	if err != nil {
		return nil, err
	}
	extracted := s.extractor.Extract(msgs)
	return s.UpdateContext(ctx, sessionID, extracted)
}

func (s *sessionStoreImpl) History(ctx context.Context, sessionID string, limit int) ([]entity.ConversationMessage, error) {
	return s.repo.ListMessages(ctx, sessionID, limit)
}

func (s *sessionStoreImpl) SetPhase(ctx context.Context, sessionID string, phase entity.Phase) (*entity.ConversationSession, error) {
	return s.update(ctx, sessionID, func(sess *entity.ConversationSession) error {
		if sess.Phase.Terminal() && sess.Phase != phase {
			return xerr.ErrSessionEnded
		}
		sess.Phase = phase
		if phase == entity.PhaseError {
			sess.Status = entity.StatusError
		}
		return nil
	})
}

func (s *sessionStoreImpl) SetDataSource(ctx context.Context, userID, sessionID, dataSourceID string) (*entity.ConversationSession, error) {
	dataSourceID = strings.TrimSpace(dataSourceID)
	if dataSourceID == "" {
		return nil, xerr.ErrParam
	}
	return s.update(ctx, sessionID, func(sess *entity.ConversationSession) error {
		if sess.UserId != userID {
			return xerr.ErrSessionNotFound
		}
		if err := requireOpen(sess); err != nil {
			return err
		}
		if sess.DataSourceId != dataSourceID {
			// 换数据源后旧的表和过滤条件不再适用
			sess.ContextState = contextitem.SessionContext{LastTopic: sess.ContextState.LastTopic}
		}
		sess.DataSourceId = dataSourceID
		sess.Phase = entity.PhaseReady
		return nil
	})
}

func (s *sessionStoreImpl) EndSession(ctx context.Context, userID, sessionID string) (*entity.ConversationSession, error) {
	return s.update(ctx, sessionID, func(sess *entity.ConversationSession) error {
		if sess.UserId != userID {
			return xerr.ErrSessionNotFound
		}
		if sess.Phase == entity.PhaseEnded {
			return xerr.ErrSessionEnded
		}
		now := s.now()
		sess.Status = entity.StatusCompleted
		sess.Phase = entity.PhaseEnded
		sess.EndedAt = &now
		return nil
	})
}

func (s *sessionStoreImpl) CleanupExpired(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := s.repo.ExpireBefore(ctx, s.now(), s.opts.SweepBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.opts.SweepBatch) {
			break
		}
	}
	if total > 0 {
		zlog.Info("conversation sessions expired", zap.Int64("count", total))
	}
	return total, nil
}

// keyedMutex 按 key 加锁，没有等待者时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
