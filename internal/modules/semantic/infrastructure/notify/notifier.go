package notify

import (
	"context"
	"fmt"

	aiService "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/event"
	"InsightLink/internal/modules/ai/infrastructure/mq"
)

// KafkaNotifier 变更事件写入 Kafka；进程内缓存时每个实例使用独立消费者组，都会收到并执行失效
type KafkaNotifier struct {
	publisher mq.Publisher
	topic     string
}

func NewKafkaNotifier(publisher mq.Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev event.SemanticChanged) error {
	body, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = n.publisher.Publish(ctx, mq.Message{
		Topic:   n.topic,
		Key:     ev.PartitionKey(),
		Value:   body,
		Headers: map[string]string{event.HeaderEventType: event.TypeSemanticChanged},
	})
	if err != nil {
		return fmt.Errorf("publish semantic change: %w", err)
	}
	return nil
}

// LocalNotifier 单实例部署时直接失效本地缓存
type LocalNotifier struct {
	manager aiService.ContextManager
}

func NewLocalNotifier(manager aiService.ContextManager) *LocalNotifier {
	return &LocalNotifier{manager: manager}
}

func (n *LocalNotifier) Notify(ctx context.Context, ev event.SemanticChanged) error {
	return n.manager.InvalidateForChange(ctx, ev)
}
