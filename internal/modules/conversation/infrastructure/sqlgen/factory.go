package sqlgen

import (
	"context"
	"errors"

	"InsightLink/internal/config"
	"InsightLink/internal/modules/ai/infrastructure/llm"
	"InsightLink/internal/modules/conversation/application/service"
	"InsightLink/pkg/zlog"

	"go.uber.org/zap"
)

// NewGeneratorFromConfig 未配置大模型时退回规则生成
func NewGeneratorFromConfig(ctx context.Context, cfg config.AIChatModelConfig) (service.SQLGenerator, error) {
	cm, meta, err := llm.NewChatModel(ctx, cfg)
	if errors.Is(err, llm.ErrChatModelDisabled) {
		zlog.Info("chat model disabled, using rule based sql generator")
		return NewRuleGenerator(), nil
	}
	if err != nil {
		return nil, err
	}
	zlog.Info("sql generator ready", zap.String("provider", meta.Provider), zap.String("model", meta.Model))
	return NewChatGenerator(cm), nil
}
