// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，由 Init 在启动时填充。
var Conf Config

// 环境变量前缀，例如 HEALTH_JWT_SECRET 覆盖 jwt.secret。
const envPrefix = "HEALTH"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Log            LogConfig            `mapstructure:"log"`
	PasswordPolicy PasswordPolicyConfig `mapstructure:"password_policy"`
	LLM            LLMConfig            `mapstructure:"llm"`
	Chat           ChatConfig           `mapstructure:"chat"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	MinIO          MinIOConfig          `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port                   string `mapstructure:"port"`
	Mode                   string `mapstructure:"mode"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅停机的最长等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig 存储关系数据库的配置。Driver 取值 mysql 或 sqlite。
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// PasswordPolicyConfig 定义注册与改密时的密码强度要求。
type PasswordPolicyConfig struct {
	MinLength     int  `mapstructure:"min_length"`
	RequireUpper  bool `mapstructure:"require_upper"`
	RequireLower  bool `mapstructure:"require_lower"`
	RequireDigit  bool `mapstructure:"require_digit"`
	RequireSymbol bool `mapstructure:"require_symbol"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示。System 为空时使用内置的健康顾问提示。
type LLMPromptConfig struct {
	System string `mapstructure:"system"`
}

// ChatConfig 控制聊天代理的行为。
type ChatConfig struct {
	TimeoutSeconds   int  `mapstructure:"timeout_seconds"`
	RequireAuth      bool `mapstructure:"require_auth"`
	MaxMessages      int  `mapstructure:"max_messages"`
	MaxContentLength int  `mapstructure:"max_content_length"`
}

// Timeout 返回单次对话的总时长上限。
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateLimitConfig 作用于注册、登录与聊天接口，按客户端 IP 计数。
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// KafkaConfig 存储记录变更事件所用 Kafka 的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// BrokerList 将逗号分隔的 brokers 拆分为列表。
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// MinIOConfig 存储导出归档所用对象存储的配置。
type MinIOConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Endpoint             string `mapstructure:"endpoint"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	SecretAccessKey      string `mapstructure:"secret_access_key"`
	UseSSL               bool   `mapstructure:"use_ssl"`
	Region               string `mapstructure:"region"`
	BucketName           string `mapstructure:"bucket_name"`
	PresignExpireMinutes int    `mapstructure:"presign_expire_minutes"`
}

// PresignExpiry 返回预签名下载地址的有效期。
func (m MinIOConfig) PresignExpiry() time.Duration {
	return time.Duration(m.PresignExpireMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime_minutes", 60)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("password_policy.min_length", 8)
	v.SetDefault("password_policy.require_upper", true)
	v.SetDefault("password_policy.require_lower", true)
	v.SetDefault("password_policy.require_digit", true)
	v.SetDefault("password_policy.require_symbol", false)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.generation.temperature", 0)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("llm.prompt.system", "")

	v.SetDefault("chat.timeout_seconds", 30)
	v.SetDefault("chat.require_auth", true)
	v.SetDefault("chat.max_messages", 40)
	v.SetDefault("chat.max_content_length", 4000)

	v.SetDefault("rate_limit.per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "health-record-events")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "us-east-1")
	v.SetDefault("minio.bucket_name", "health-exports")
	v.SetDefault("minio.presign_expire_minutes", 15)
}

// Load 读取指定路径的 YAML 文件（可为空，仅使用默认值与环境变量）并返回解析后的配置。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启动所必需的配置项。
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 16 {
		return errors.New("jwt.secret 必须至少 16 个字符")
	}
	if c.JWT.AccessTokenExpireHours <= 0 {
		return errors.New("jwt.access_token_expire_hours 必须大于 0")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的 database.driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn 不能为空")
	}
	if c.Chat.TimeoutSeconds <= 0 {
		return errors.New("chat.timeout_seconds 必须大于 0")
	}
	if c.PasswordPolicy.MinLength < 1 {
		return errors.New("password_policy.min_length 必须大于 0")
	}
	return nil
}

// Init 加载配置到全局 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
