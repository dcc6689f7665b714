package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/internal/modules/conversation/infrastructure/persistence"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// NewTestDB 每个测试一个独立的内存库
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&entity.ConversationSession{}, &entity.ConversationMessage{}))
	return db
}

// clock 可手动拨动的时钟
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessionStore(t *testing.T, db *gorm.DB, opts SessionOptions) (*sessionStoreImpl, *clock) {
	t.Helper()
	if db == nil {
		db = NewTestDB(t)
	}
	s := NewSessionStore(persistence.NewSessionRepository(db), nil, opts).(*sessionStoreImpl)
	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)}
	s.now = c.now
	return s, c
}

func userMsg(text string) *entity.ConversationMessage {
	return entity.NewMessage(entity.UserText{Text: text})
}

func sqlMsg(sql string) *entity.ConversationMessage {
	return entity.NewMessage(entity.QueryResult{Text: "done", SQL: sql, Hint: HintTable})
}
