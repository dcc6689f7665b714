package queue

import (
	"context"
	"errors"
	"strings"

	"InsightLink/internal/modules/ai/domain/event"
	"InsightLink/internal/modules/ai/infrastructure/mq"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

// Invalidator 收到业务元数据变更后清理上下文缓存
type Invalidator interface {
	InvalidateForChange(ctx context.Context, ev event.SemanticChanged) error
}

// InvalidationConsumerWorker 消费 semantic.changed 事件，多实例时每个实例用独立的 group 各自清理本地缓存
type InvalidationConsumerWorker struct {
	consumer    mq.Consumer
	invalidator Invalidator
}

func NewInvalidationConsumerWorker(consumer mq.Consumer, invalidator Invalidator) *InvalidationConsumerWorker {
	return &InvalidationConsumerWorker{consumer: consumer, invalidator: invalidator}
}

func (w *InvalidationConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.invalidator == nil {
		return errors.New("invalidator is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *InvalidationConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	if t := strings.TrimSpace(msg.Headers[event.HeaderEventType]); t != "" && t != event.TypeSemanticChanged {
		return nil
	}
	ev, err := event.DecodeSemanticChanged(msg.Value)
	if err != nil {
		// 坏消息直接提交位点，不阻塞分区
		zlog.Warn("context invalidation consumer bad payload", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}
	if err := w.invalidator.InvalidateForChange(ctx, ev); err != nil {
		zlog.Warn("context invalidation failed",
			zap.String("event_id", ev.EventID),
			zap.String("kind", ev.Kind),
			zap.String("key", ev.Key),
			zap.Error(err))
		return err
	}
	zlog.Debug("context invalidated by semantic change",
		zap.String("event_id", ev.EventID),
		zap.String("data_source_id", ev.DataSourceID),
		zap.String("action", ev.Action))
	return nil
}
