package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"InsightLink/internal/config"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// EmbedderMeta 当前生效的模型信息，Version 写入每条向量记录，用于判断是否需要重建
type EmbedderMeta struct {
	Provider string
	Model    string
	Version  string
	Dim      int
}

// pick 配置优先，其次环境变量
func pick(v string, envKey string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	if envKey == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

func NewEmbedderFromConfig(ctx context.Context, conf *config.Config) (embedding.Embedder, EmbedderMeta, error) {
	if conf == nil {
		return nil, EmbedderMeta{}, fmt.Errorf("nil config")
	}

	ec := conf.AIConfig.Embedding
	dim := ec.Dimensions
	if dim <= 0 {
		dim = conf.MilvusConfig.VectorDim
	}
	provider := strings.ToLower(strings.TrimSpace(ec.Provider))
	meta := EmbedderMeta{Provider: provider, Dim: dim, Version: strings.TrimSpace(ec.ModelVersion)}

	timeout := 30 * time.Second
	if ec.TimeoutSeconds > 0 {
		timeout = time.Duration(ec.TimeoutSeconds) * time.Second
	}

	var (
		em  embedding.Embedder
		err error
	)
	switch provider {
	case "", "mock", "hashing":
		meta.Provider = "hashing"
		meta.Model = "fnv-hashing"
		em = NewHashingEmbedder(dim)
	case "openai":
		apiKey := pick(ec.APIKey, "OPENAI_API_KEY")
		meta.Model = pick(ec.Model, "OPENAI_EMBED_MODEL")
		if apiKey == "" || meta.Model == "" {
			return nil, EmbedderMeta{}, fmt.Errorf("openai embedding missing apiKey/model")
		}
		localDim := dim
		em, err = openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			APIKey:     apiKey,
			Model:      meta.Model,
			BaseURL:    pick(ec.BaseURL, "OPENAI_BASE_URL"),
			ByAzure:    ec.ByAzure,
			APIVersion: strings.TrimSpace(ec.AzureAPIVersion),
			Timeout:    timeout,
			Dimensions: &localDim,
		})
	case "ark":
		apiKey := pick(ec.APIKey, "ARK_API_KEY")
		meta.Model = pick(ec.Model, "ARK_EMBED_MODEL")
		if apiKey == "" || meta.Model == "" {
			return nil, EmbedderMeta{}, fmt.Errorf("ark embedding missing apiKey/model")
		}
		em, err = arkEmbed.NewEmbedder(ctx, &arkEmbed.EmbeddingConfig{
			APIKey:  apiKey,
			Model:   meta.Model,
			BaseURL: pick(ec.BaseURL, "ARK_BASE_URL"),
			Region:  pick(ec.Region, "ARK_REGION"),
			Timeout: &timeout,
		})
	case "dashscope":
		apiKey := pick(ec.APIKey, "DASHSCOPE_API_KEY")
		meta.Model = pick(ec.Model, "DASHSCOPE_EMBED_MODEL")
		if apiKey == "" || meta.Model == "" {
			return nil, EmbedderMeta{}, fmt.Errorf("dashscope embedding missing apiKey/model")
		}
		localDim := dim
		em, err = dashscopeEmbed.NewEmbedder(ctx, &dashscopeEmbed.EmbeddingConfig{
			Model:      meta.Model,
			APIKey:     apiKey,
			Timeout:    timeout,
			Dimensions: &localDim,
		})
	default:
		return nil, EmbedderMeta{}, fmt.Errorf("unknown embedding provider: %s", provider)
	}
	if err != nil {
		return nil, EmbedderMeta{}, err
	}
	if meta.Version == "" {
		meta.Version = fmt.Sprintf("%s:%s:%d", meta.Provider, meta.Model, dim)
	}
	return em, meta, nil
}
