package initial

import (
	"time"

	"InsightLink/internal/config"
	"InsightLink/internal/modules/ai/infrastructure/mq/kafka"
)

// invalidationRetention 失效事件过期后没有意义，只保留一天
const invalidationRetention = 24 * time.Hour

func EnsureKafkaTopics(conf *config.Config) error {
	kc := conf.KafkaConfig
	if !kc.Enabled {
		return nil
	}
	return kafka.EnsureTopic(
		kafka.TopicAdminConfig{Brokers: kc.Brokers, ClientID: kc.ClientID},
		kc.InvalidationTopic, kc.Partitions, kc.Replication, invalidationRetention,
	)
}
