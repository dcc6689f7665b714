package kafka

import (
	"strings"

	"github.com/IBM/sarama"
)

// newSaramaConfig 生产、消费、管理端共用的基础配置
func newSaramaConfig(clientID string) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	if id := strings.TrimSpace(clientID); id != "" {
		sc.ClientID = id
	}
	return sc
}
