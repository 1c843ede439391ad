package config

import "time"

type AuthConfig interface {
	GetRefreshMargin() time.Duration
	GetRefreshRetryInterval() time.Duration
	GetCaptchaTTL() time.Duration
	GetThrottleRetries() int
	GetThrottleCooldown() time.Duration
}

type Auth struct{}

var _ AuthConfig = Auth{}

// GetRefreshMargin is how long before the provider's real expiry a refresh is attempted.
func (Auth) GetRefreshMargin() time.Duration {
	return GetEnvDuration("CD_REFRESH_MARGIN", 15*time.Minute)
}

// GetRefreshRetryInterval is the pause after a tolerated refresh failure.
func (Auth) GetRefreshRetryInterval() time.Duration {
	if d := GetEnvDuration("CD_REFRESH_RETRY", time.Minute); d > 0 {
		return d
	}
	return time.Minute
}

func (Auth) GetCaptchaTTL() time.Duration {
	return GetEnvDuration("CD_CAPTCHA_TTL", 2*time.Minute)
}

func (Auth) GetThrottleRetries() int {
	return GetEnvInt("CD_THROTTLE_RETRIES", 3)
}

func (Auth) GetThrottleCooldown() time.Duration {
	return GetEnvDuration("CD_THROTTLE_COOLDOWN", 15*time.Second)
}
