package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CHAT_PROXY_COMPLETION_URL
const EnvPrefix = "CHAT_PROXY"

var ProxyConfig *Config

// Config 存储应用配置
type Config struct {
	Listen            string        `mapstructure:"listen"`
	CompletionURL     string        `mapstructure:"completion_url"`
	BearerToken       string        `mapstructure:"bearer_token"`
	MaxLineBytes      int           `mapstructure:"max_line_bytes"`
	MaxQueue          int           `mapstructure:"max_queue"`
	StrictChoices     bool          `mapstructure:"strict_choices"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SummaryCapacity   int           `mapstructure:"summary_capacity"`
	Debug             bool          `mapstructure:"debug"`
	LogFormat         string        `mapstructure:"log_format"`
	MetricsNamespace  string        `mapstructure:"metrics_namespace"`
}

// Default 默认配置，也是 viper 默认值的唯一来源
func Default() Config {
	return Config{
		Listen:            "0.0.0.0:8080",
		CompletionURL:     "http://localhost:3001/chat/completion",
		MaxLineBytes:      1024 * 1024,
		HeartbeatInterval: 30 * time.Second,
		SummaryCapacity:   1000,
		LogFormat:         "pretty",
		MetricsNamespace:  "chat_proxy",
	}
}

// NewViper 加载 .env（不存在也没关系），注册默认值并绑定环境变量。
// 优先级：命令行参数 > 环境变量 > 默认值
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	d := Default()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("completion_url", d.CompletionURL)
	v.SetDefault("bearer_token", d.BearerToken)
	v.SetDefault("max_line_bytes", d.MaxLineBytes)
	v.SetDefault("max_queue", d.MaxQueue)
	v.SetDefault("strict_choices", d.StrictChoices)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("summary_capacity", d.SummaryCapacity)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("metrics_namespace", d.MetricsNamespace)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig 从 viper 读取并校验配置，同时设置全局 ProxyConfig
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ProxyConfig = cfg
	return cfg, nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	u, err := url.Parse(c.CompletionURL)
	if err != nil {
		return fmt.Errorf("invalid completion_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid completion_url %q: must be an absolute http(s) URL", c.CompletionURL)
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.MaxLineBytes <= 0 {
		return errors.New("max_line_bytes must be positive")
	}
	if c.MaxQueue < 0 {
		return errors.New("max_queue must not be negative")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	switch c.LogFormat {
	case "pretty", "json", "text":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
