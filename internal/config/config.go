package config

import (
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName  string `toml:"appName"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	CertFile string `toml:"certFile"`
	KeyFile  string `toml:"keyFile"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
	Level   string `toml:"level"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MilvusConfig struct {
	Enabled        bool   `toml:"enabled"`
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	VectorDim      int    `toml:"vectorDim"`
	MetricType     string `toml:"metricType"`
}

type KafkaConfig struct {
	Enabled           bool     `toml:"enabled"`
	Brokers           []string `toml:"brokers"`
	ClientID          string   `toml:"clientID"`
	InvalidationTopic string   `toml:"invalidationTopic"`
	ConsumerGroupID   string   `toml:"consumerGroupID"`
	Partitions        int32    `toml:"partitions"`
	Replication       int16    `toml:"replication"`
}

type AIEmbeddingConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	ModelVersion    string `toml:"modelVersion"`
	Dimensions      int    `toml:"dimensions"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	User            string `toml:"user"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

// ContextConfig 业务上下文组装配置
type ContextConfig struct {
	MaxTokens          int     `toml:"maxTokens"`
	ReservedTokens     int     `toml:"reservedTokens"`
	TopK               int     `toml:"topK"`
	NamespaceTimeoutMs int     `toml:"namespaceTimeoutMs"`
	OverallTimeoutMs   int     `toml:"overallTimeoutMs"`
	CacheTTLSeconds    int     `toml:"cacheTTLSeconds"`
	CacheBackend       string  `toml:"cacheBackend"`
	RetryBudgetRatio   float64 `toml:"retryBudgetRatio"`
	SummaryChunkSize   int     `toml:"summaryChunkSize"`
}

// SessionConfig 对话会话配置
type SessionConfig struct {
	InactivityHours          int    `toml:"inactivityHours"`
	SweepSpec                string `toml:"sweepSpec"`
	ResultSampleRows         int    `toml:"resultSampleRows"`
	HistoryWindow            int    `toml:"historyWindow"`
	GenerationTimeoutSeconds int    `toml:"generationTimeoutSeconds"`
	ExecutionTimeoutSeconds  int    `toml:"executionTimeoutSeconds"`
}

// MCPConfig MCP 配置
type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

// DataSourceConfig 可查询数据源登记
type DataSourceConfig struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Domain      string `toml:"domain"`
	DSN         string `toml:"dsn"`
	Schema      string `toml:"schema"`
}

type Config struct {
	MainConfig    `toml:"mainConfig"`
	MysqlConfig   `toml:"mysqlConfig"`
	JwtConfig     `toml:"jwtConfig"`
	MilvusConfig  `toml:"milvusConfig"`
	KafkaConfig   `toml:"kafkaConfig"`
	AIConfig      `toml:"aiConfig"`
	LogConfig     `toml:"logConfig"`
	MCPConfig     `toml:"mcpConfig"`
	RedisConfig   `toml:"redisConfig"`
	ContextConfig `toml:"contextConfig"`
	SessionConfig `toml:"sessionConfig"`
	DataSources   []DataSourceConfig `toml:"dataSources"`
}

var config *Config

const defaultConfigPath = "configs/config_local.toml"

// LoadConfig 读取配置文件，路径可由 INSIGHTLINK_CONFIG 覆盖
func LoadConfig() error {
	configPath := os.Getenv("INSIGHTLINK_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		config.ApplyDefaults()
	}
	return config
}

// ApplyDefaults 补齐未配置项
func (c *Config) ApplyDefaults() {
	if c.AppName == "" {
		c.AppName = "InsightLink"
	}
	if c.Port <= 0 {
		c.Port = 8000
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hashing"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 256
	}
	if c.Embedding.ModelVersion == "" {
		c.Embedding.ModelVersion = c.Embedding.Provider + ":" + c.Embedding.Model
	}
	if c.MilvusConfig.VectorDim <= 0 {
		c.MilvusConfig.VectorDim = c.Embedding.Dimensions
	}
	if c.KafkaConfig.InvalidationTopic == "" {
		c.KafkaConfig.InvalidationTopic = "insightlink.semantic.changed"
	}
	if c.KafkaConfig.ConsumerGroupID == "" {
		c.KafkaConfig.ConsumerGroupID = "insightlink-context-invalidator"
	}

	cc := &c.ContextConfig
	if cc.MaxTokens <= 0 {
		cc.MaxTokens = 4000
	}
	if cc.ReservedTokens <= 0 {
		cc.ReservedTokens = 1000
	}
	if cc.TopK <= 0 {
		cc.TopK = 8
	}
	if cc.NamespaceTimeoutMs <= 0 {
		cc.NamespaceTimeoutMs = 2000
	}
	if cc.OverallTimeoutMs <= 0 {
		cc.OverallTimeoutMs = 5000
	}
	if cc.CacheTTLSeconds <= 0 {
		cc.CacheTTLSeconds = 300
	}
	if cc.CacheBackend == "" {
		cc.CacheBackend = "memory"
	}
	if cc.RetryBudgetRatio <= 0 || cc.RetryBudgetRatio >= 1 {
		cc.RetryBudgetRatio = 0.5
	}
	if cc.SummaryChunkSize <= 0 {
		cc.SummaryChunkSize = 240
	}

	sc := &c.SessionConfig
	if sc.InactivityHours <= 0 {
		sc.InactivityHours = 24
	}
	if sc.SweepSpec == "" {
		sc.SweepSpec = "@every 5m"
	}
	if sc.ResultSampleRows <= 0 {
		sc.ResultSampleRows = 20
	}
	if sc.HistoryWindow <= 0 {
		sc.HistoryWindow = 10
	}
	if sc.GenerationTimeoutSeconds <= 0 {
		sc.GenerationTimeoutSeconds = 30
	}
	if sc.ExecutionTimeoutSeconds <= 0 {
		sc.ExecutionTimeoutSeconds = 15
	}

	if c.MCPConfig.Name == "" {
		c.MCPConfig.Name = "insightlink-context"
	}
	if c.MCPConfig.Version == "" {
		c.MCPConfig.Version = "1.0.0"
	}
}

func (c ContextConfig) NamespaceTimeout() time.Duration {
	return time.Duration(c.NamespaceTimeoutMs) * time.Millisecond
}

func (c ContextConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutMs) * time.Millisecond
}

func (c ContextConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c SessionConfig) InactivityWindow() time.Duration {
	return time.Duration(c.InactivityHours) * time.Hour
}

// FindDataSource 按 ID 查找数据源
func (c *Config) FindDataSource(id string) (DataSourceConfig, bool) {
	for _, ds := range c.DataSources {
		if ds.ID == id {
			return ds, true
		}
	}
	return DataSourceConfig{}, false
}
