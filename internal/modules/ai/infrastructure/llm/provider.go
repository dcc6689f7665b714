package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"InsightLink/internal/config"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// ErrChatModelDisabled 未配置对话模型，调用方应使用规则生成器
var ErrChatModelDisabled = errors.New("chat model provider not configured")

type ChatModelMeta struct {
	Provider string
	Model    string
}

func envOr(v, key string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(key))
}

// NewChatModel 根据 aiConfig.chatModel 构造 SQL 生成使用的对话模型
func NewChatModel(ctx context.Context, cfg config.AIChatModelConfig) (model.BaseChatModel, ChatModelMeta, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	switch provider {
	case "", "none", "disabled", "rule":
		return nil, ChatModelMeta{}, ErrChatModelDisabled

	case "openai":
		apiKey := envOr(cfg.APIKey, "OPENAI_API_KEY")
		modelName := envOr(cfg.Model, "OPENAI_MODEL")
		if apiKey == "" || modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("openai chat model missing apiKey/model")
		}
		cm, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:     apiKey,
			Model:      modelName,
			BaseURL:    envOr(cfg.BaseURL, "OPENAI_BASE_URL"),
			ByAzure:    cfg.ByAzure,
			APIVersion: strings.TrimSpace(cfg.AzureAPIVersion),
			Timeout:    timeout,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: provider, Model: modelName}, nil

	case "ark":
		apiKey := envOr(cfg.APIKey, "ARK_API_KEY")
		accessKey := envOr(cfg.AccessKey, "ARK_ACCESS_KEY")
		secretKey := envOr(cfg.SecretKey, "ARK_SECRET_KEY")
		modelName := envOr(cfg.Model, "ARK_MODEL_ID")
		if apiKey == "" && (accessKey == "" || secretKey == "") {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing apiKey or accessKey/secretKey")
		}
		if modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing model")
		}
		retryTimes := 2
		if cfg.RetryTimes > 0 {
			retryTimes = cfg.RetryTimes
		}
		cm, err := arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
			APIKey:     apiKey,
			AccessKey:  accessKey,
			SecretKey:  secretKey,
			Model:      modelName,
			BaseURL:    envOr(cfg.BaseURL, "ARK_BASE_URL"),
			Region:     envOr(cfg.Region, "ARK_REGION"),
			Timeout:    &timeout,
			RetryTimes: &retryTimes,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: provider, Model: modelName}, nil
	}
	return nil, ChatModelMeta{}, fmt.Errorf("unknown chat model provider: %s", provider)
}
