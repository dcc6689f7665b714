package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"InsightLink/internal/modules/conversation/application/service"
	"InsightLink/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	sweepLockKey = "insightlink:lock:session_sweep"
	sweepTimeout = 2 * time.Minute
)

// Locker 多实例部署时保证同一时刻只有一个实例在清理
type Locker interface {
	Lock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ExpirySweeper 定时把过期会话标记为 expired，与请求处理互不阻塞
type ExpirySweeper struct {
	cron     *cron.Cron
	sessions service.SessionStore
	locker   Locker
	spec     string

	mu      sync.Mutex
	started bool
	running atomic.Bool
}

func NewExpirySweeper(sessions service.SessionStore, locker Locker, spec string) *ExpirySweeper {
	if spec == "" {
		spec = "@every 5m"
	}
	return &ExpirySweeper{
		// 使用标准5段Cron表达式（不含秒）
		cron:     cron.New(),
		sessions: sessions,
		locker:   locker,
		spec:     spec,
	}
}

func (s *ExpirySweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() {
		_, _ = s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	zlog.Info("session expiry sweeper started", zap.String("spec", s.spec))
	return nil
}

// Stop 等待正在执行的清理结束
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}

// Sweep 执行一次清理；上一次还没结束或锁被其他实例持有时跳过
func (s *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	if s.locker != nil {
		ok, err := s.locker.Lock(ctx, sweepLockKey, sweepTimeout)
		if err != nil {
			// 锁服务不可用时仍然执行，ExpireBefore 本身是幂等的
			zlog.Warn("session sweep lock unavailable", zap.Error(err))
		} else if !ok {
			return 0, nil
		} else {
			defer func() { _ = s.locker.Unlock(context.Background(), sweepLockKey) }()
		}
	}
	n, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		zlog.Error("session sweep failed", zap.Int64("expired", n), zap.Error(err))
		return n, err
	}
	return n, nil
}
