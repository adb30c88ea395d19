// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
// UseInMemory 为 true 时不连接 MySQL/Redis，全部使用内存实现（本地调试用）。
type DatabaseConfig struct {
	MySQL       MySQLConfig `mapstructure:"mysql"`
	Redis       RedisConfig `mapstructure:"redis"`
	UseInMemory bool        `mapstructure:"use_in_memory"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// SubscriptionTopic 承载订阅等级变更事件。
type KafkaConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Brokers           string `mapstructure:"brokers"`
	SubscriptionTopic string `mapstructure:"subscription_topic"`
	GroupID           string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置，用于客户模糊检索。
type ElasticsearchConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientIndex string `mapstructure:"client_index"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用于保存商户 Logo。
type MinIOConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Endpoint          string `mapstructure:"endpoint"`
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	UseSSL            bool   `mapstructure:"use_ssl"`
	BucketName        string `mapstructure:"bucket_name"`
	PresignExpiryMins int    `mapstructure:"presign_expiry_mins"`
}

// PresignExpiry 返回预签名 URL 的有效期。
func (c MinIOConfig) PresignExpiry() time.Duration {
	if c.PresignExpiryMins <= 0 {
		return time.Hour
	}
	return time.Duration(c.PresignExpiryMins) * time.Minute
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	MaxToolRounds  int                 `mapstructure:"max_tool_rounds"`
	HistoryWindow  int                 `mapstructure:"history_window"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Timeout 返回单次模型调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChatConfig 控制聊天回合的串行化。
type ChatConfig struct {
	TurnLockTTLSeconds  int `mapstructure:"turn_lock_ttl_seconds"`
	TurnLockWaitSeconds int `mapstructure:"turn_lock_wait_seconds"`
}

// turnLockMargin 是模型调用之外的数据库与工具执行时间余量。
const turnLockMargin = 30 * time.Second

// TurnLockTTL 返回回合锁的过期时间，不小于一个回合可能的最长耗时。
func (c Config) TurnLockTTL() time.Duration {
	rounds := c.LLM.MaxToolRounds
	if rounds <= 0 {
		rounds = 3
	}
	floor := time.Duration(rounds)*c.LLM.Timeout() + turnLockMargin
	ttl := time.Duration(c.Chat.TurnLockTTLSeconds) * time.Second
	if ttl < floor {
		return floor
	}
	return ttl
}

// Init 从指定路径读取 YAML 配置文件并解析到 Conf 变量中。
// 环境变量可覆盖任意配置项，例如 LLM_API_KEY 覆盖 llm.api_key。
func Init(configPath string) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("kafka.subscription_topic", "subscription-events")
	v.SetDefault("kafka.group_id", "invoice-assistant-subscriptions")
	v.SetDefault("elasticsearch.client_index", "clients")
	v.SetDefault("minio.bucket_name", "business-logos")
	v.SetDefault("minio.presign_expiry_mins", 60)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_tool_rounds", 3)
	v.SetDefault("llm.history_window", 20)
	v.SetDefault("chat.turn_lock_ttl_seconds", 240)
	v.SetDefault("chat.turn_lock_wait_seconds", 90)
}
