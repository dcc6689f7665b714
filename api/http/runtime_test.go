package http

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidationGroup(t *testing.T) {
	assert.Equal(t, "insightlink-invalidation", invalidationGroup("insightlink-invalidation", true))

	// 进程内缓存：每个实例独立的消费者组才能各自收到全部事件
	a := invalidationGroup("insightlink-invalidation", false)
	b := invalidationGroup("insightlink-invalidation", false)
	assert.True(t, strings.HasPrefix(a, "insightlink-invalidation-"))
	assert.NotEqual(t, a, b)
}
