package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"moneymate-trader/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Service  ServiceConfig  `yaml:"service"`
	User     UserConfig     `yaml:"user"`
	Strategy StrategyConfig `yaml:"strategy"`
	Notices  NoticeConfig   `yaml:"notices"`
	Log      logger.Config  `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServiceConfig 投资服务地址与客户端限流。
type ServiceConfig struct {
	BaseURL   string  `yaml:"baseURL"`
	TimeoutMs int     `yaml:"timeoutMs"`
	RateLimit float64 `yaml:"rateLimit"` // 每秒请求数，0 表示不限流
	Burst     int     `yaml:"burst"`
	// 连续 BreakerThreshold 次服务端/网络故障后熔断，0 表示关闭熔断
	BreakerThreshold  int `yaml:"breakerThreshold"`
	BreakerCooldownMs int `yaml:"breakerCooldownMs"`
}

// Timeout 请求超时，未配置时 10s。
func (s ServiceConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// UserConfig 当前用户身份，由登录流程外部注入。
type UserConfig struct {
	ID string `yaml:"id"`
}

type StrategyConfig struct {
	AutoClose            bool  `yaml:"autoClose"`            // 停止状态下卖空最后一个持仓后自动关闭
	RefreshAfterMutation *bool `yaml:"refreshAfterMutation"` // 缺省为 true
}

// RefreshEnabled 变更后是否全量刷新。
func (s StrategyConfig) RefreshEnabled() bool {
	return s.RefreshAfterMutation == nil || *s.RefreshAfterMutation
}

type NoticeConfig struct {
	ThrottleMs int `yaml:"throttleMs"` // 相同提示的最小间隔
	BoardLimit int `yaml:"boardLimit"`
}

// Throttle 相同提示的最小间隔，未配置时 2s。
func (n NoticeConfig) Throttle() time.Duration {
	if n.ThrottleMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(n.ThrottleMs) * time.Millisecond
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空时不启动 /metrics
}

// Default 返回本地开发的默认配置。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Service: ServiceConfig{
			BaseURL:   "http://localhost:8080",
			TimeoutMs: 10000,
			RateLimit: 5,
			Burst:     5,

			BreakerThreshold:  5,
			BreakerCooldownMs: 30000,
		},
		Notices: NoticeConfig{ThrottleMs: 2000, BoardLimit: 20},
		Log:     logger.DefaultConfig(),
	}
}

func load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// Load reads YAML config from path (defaults when path is empty) and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// EnvFile 在工作目录下读取的 dotenv 文件，已存在的环境变量优先。
var EnvFile = ".env"

// LoadWithEnvOverrides loads config then overrides fields from env vars (and .env) if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("MT_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("MT_SERVICE_BASE_URL"); v != "" {
		cfg.Service.BaseURL = v
	}
	if v := os.Getenv("MT_USER_ID"); v != "" {
		cfg.User.ID = v
	}
	if v := os.Getenv("MT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MT_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}
