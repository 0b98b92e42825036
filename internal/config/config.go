package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultClearMemoryCommand 是未配置时清除个人记忆的指令。
const DefaultClearMemoryCommand = "#清除记忆"

// Config 描述了 OllamaBot 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Bot      BotConfig      `json:"bot" yaml:"bot"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Channel  ChannelConfig  `json:"channel" yaml:"channel"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制 HTTP 服务的监听地址与访问令牌，令牌为空时不校验。
type ServerConfig struct {
	Address   string   `json:"address" yaml:"address"`
	APITokens []string `json:"api_tokens" yaml:"api_tokens"`
}

// BotConfig 对应机器人与 Ollama 服务交互时的参数，重载后全部立即生效。
type BotConfig struct {
	OllamaModel           string   `json:"ollama_model" yaml:"ollama_model"`
	OllamaModelURL        string   `json:"ollama_model_url" yaml:"ollama_model_url"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	ClearMemoryCommands   []string `json:"clear_memory_commands" yaml:"clear_memory_commands"`
	CharacterDesc         string   `json:"character_desc" yaml:"character_desc"`
	ConversationMaxTokens int      `json:"conversation_max_tokens" yaml:"conversation_max_tokens"`
	ExpiresInSeconds      int      `json:"expires_in_seconds" yaml:"expires_in_seconds"`
}

// RequestTimeout 返回调用 Ollama 的 HTTP 超时时间。
func (b BotConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// SessionTTL 返回会话空闲过期时间，0 表示永不过期。
func (b BotConfig) SessionTTL() time.Duration {
	if b.ExpiresInSeconds <= 0 {
		return 0
	}
	return time.Duration(b.ExpiresInSeconds) * time.Second
}

// SessionConfig 选择会话存储后端。
type SessionConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`
}

// RedisConfig 描述 Redis 连接信息，会话存储与消息通道共用。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// MySQLConfig 描述 MySQL 会话存储的连接参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// ChannelConfig 描述通过消息队列接入机器人框架时的参数，driver 取值 none、redis 或 rabbitmq。
type ChannelConfig struct {
	Driver        string         `json:"driver" yaml:"driver"`
	Worker        int            `json:"worker" yaml:"worker"`
	InboundQueue  string         `json:"inbound_queue" yaml:"inbound_queue"`
	OutboundQueue string         `json:"outbound_queue" yaml:"outbound_queue"`
	Redis         RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ      RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// LogConfig 对应 pkg/logger 的初始化参数。
type LogConfig struct {
	Level       string         `json:"level" yaml:"level"`
	Format      string         `json:"format" yaml:"format"`
	OutputPaths []string       `json:"output_paths" yaml:"output_paths"`
	Audit       AuditLogConfig `json:"audit" yaml:"audit"`
}

// AuditLogConfig 控制审计日志输出。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// Load 解析指定路径的配置文件，按扩展名选择 JSON 或 YAML。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Bot.OllamaModelURL == "" {
		c.Bot.OllamaModelURL = "http://127.0.0.1:11434"
	}
	c.Bot.OllamaModelURL = strings.TrimRight(c.Bot.OllamaModelURL, "/")
	if c.Bot.RequestTimeoutSeconds <= 0 {
		c.Bot.RequestTimeoutSeconds = 120
	}
	if len(c.Bot.ClearMemoryCommands) == 0 {
		c.Bot.ClearMemoryCommands = []string{DefaultClearMemoryCommand}
	}
	if c.Bot.ConversationMaxTokens <= 0 {
		c.Bot.ConversationMaxTokens = 1000
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.Redis.KeyPrefix == "" {
		c.Session.Redis.KeyPrefix = "ollamabot:session:"
	}

	if c.Channel.Driver == "" {
		c.Channel.Driver = "none"
	}
	if c.Channel.Worker <= 0 {
		c.Channel.Worker = 4
	}
	if c.Channel.InboundQueue == "" {
		c.Channel.InboundQueue = "ollamabot.inbound"
	}
	if c.Channel.OutboundQueue == "" {
		c.Channel.OutboundQueue = "ollamabot.outbound"
	}

	if c.Log.Audit.Enabled {
		if c.Log.Audit.Path == "" {
			c.Log.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else if !filepath.IsAbs(c.Log.Audit.Path) {
			c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
		}
	}
}

// Validate 检查驱动名称与必填项。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.OllamaModel) == "" {
		return errors.New("bot.ollama_model 不能为空")
	}
	switch c.Session.Driver {
	case "memory":
	case "redis":
		if c.Session.Redis.Address == "" {
			return errors.New("session.redis.address 不能为空")
		}
	case "mysql":
		if c.Session.MySQL.DSN == "" {
			return errors.New("session.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的会话存储驱动: %s", c.Session.Driver)
	}
	switch c.Channel.Driver {
	case "none":
	case "memory":
		return errors.New("channel.driver 不支持 memory：进程外无法投递消息，请使用 redis 或 rabbitmq")
	case "redis":
		if c.Channel.Redis.Address == "" {
			return errors.New("channel.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Channel.RabbitMQ.URL == "" {
			return errors.New("channel.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的消息通道驱动: %s", c.Channel.Driver)
	}
	return nil
}
