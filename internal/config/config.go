package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Manager  ManagerConfig  `yaml:"manager_api"`
	Redis    RedisConfig    `yaml:"redis"`
	Teaching TeachingConfig `yaml:"teaching"`
	FreeChat FreeChatConfig `yaml:"free_chat"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ManagerConfig 管理端 API 客户端配置。
type ManagerConfig struct {
	URL      string `yaml:"url"`
	Secret   string `yaml:"secret"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Timeout 单次请求硬超时，默认 30s。
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries 网络/5xx 错误的最大重试次数，默认 6。
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay 重试间隔，默认 10s。
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TeachingConfig 教学会话参数。
type TeachingConfig struct {
	// AgentID 拉取教学场景时使用的智能体 id，空串表示不过滤。
	AgentID string `yaml:"agent_id"`
	// DefaultMaxUserReplies 场景未配置回复上限时的默认值。
	DefaultMaxUserReplies int `yaml:"default_max_user_replies"`
	// DefaultTimeoutSeconds 步骤未配置等待时间时的默认值。
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	// WarningRatio / FinalRatio 渐进式提示的时间点（占总等待时间比例）。
	WarningRatio float64 `yaml:"warning_ratio"`
	FinalRatio   float64 `yaml:"final_ratio"`
	// SessionTTL 会话快照与聊天状态的过期时间，默认 30 分钟。
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// FreeChatConfig 自由聊天模式的 LLM 配置；APIKey 为空时退回内置语料。
type FreeChatConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Load 从文件加载配置，并用环境变量覆盖敏感信息。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 敏感信息优先从环境变量取，不落盘。
	if secret := os.Getenv("MANAGER_API_SECRET"); secret != "" {
		cfg.Manager.Secret = secret
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.FreeChat.APIKey = key
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Manager.Timeout == 0 {
		c.Manager.Timeout = 30 * time.Second
	}
	if c.Manager.MaxRetries == 0 {
		c.Manager.MaxRetries = 6
	}
	if c.Manager.RetryDelay == 0 {
		c.Manager.RetryDelay = 10 * time.Second
	}
	if c.Teaching.DefaultMaxUserReplies == 0 {
		c.Teaching.DefaultMaxUserReplies = 3
	}
	if c.Teaching.DefaultTimeoutSeconds == 0 {
		c.Teaching.DefaultTimeoutSeconds = 20
	}
	if c.Teaching.WarningRatio == 0 {
		c.Teaching.WarningRatio = 0.7
	}
	if c.Teaching.FinalRatio == 0 {
		c.Teaching.FinalRatio = 0.9
	}
	if c.Teaching.SessionTTL == 0 {
		c.Teaching.SessionTTL = 30 * time.Minute
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Manager.URL == "" {
		return fmt.Errorf("manager_api.url is required")
	}
	if c.Manager.Secret == "" && c.Manager.Username == "" {
		return fmt.Errorf("manager_api needs a secret or login credentials (set MANAGER_API_SECRET env var or config)")
	}
	if c.Teaching.WarningRatio <= 0 || c.Teaching.WarningRatio >= c.Teaching.FinalRatio || c.Teaching.FinalRatio >= 1 {
		return fmt.Errorf("teaching prompt ratios must satisfy 0 < warning < final < 1")
	}
	return nil
}
