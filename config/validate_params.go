package config

import (
	"net/url"

	"github.com/google/uuid"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if cfg.Service.BaseURL == "" {
		return ErrInvalid("service.baseURL is required (or MT_SERVICE_BASE_URL)")
	}
	u, err := url.Parse(cfg.Service.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalid("service.baseURL must be an absolute http(s) URL")
	}
	if cfg.Service.TimeoutMs < 0 {
		return ErrInvalid("service.timeoutMs must be >= 0")
	}
	if cfg.Service.RateLimit < 0 || cfg.Service.Burst < 0 {
		return ErrInvalid("service.rateLimit/burst must be >= 0")
	}
	if cfg.Service.BreakerThreshold < 0 || cfg.Service.BreakerCooldownMs < 0 {
		return ErrInvalid("service.breakerThreshold/breakerCooldownMs must be >= 0")
	}
	if cfg.Notices.ThrottleMs < 0 || cfg.Notices.BoardLimit < 0 {
		return ErrInvalid("notices.throttleMs/boardLimit must be >= 0")
	}
	return nil
}

// ValidateUser 需要身份的命令（下单、自动策略、历史）额外校验用户。
func ValidateUser(cfg AppConfig) error {
	if cfg.User.ID == "" {
		return ErrInvalid("user.id is required (or MT_USER_ID)")
	}
	id, err := uuid.Parse(cfg.User.ID)
	if err != nil || id == uuid.Nil {
		return ErrInvalid("user.id must be a uuid")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
