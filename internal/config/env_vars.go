package config

import (
	"os"
	"strconv"
	"time"
)

const (
	appNameVar      = "APP_NAME"
	usernameVar     = "CD_USERNAME"
	passwordVar     = "CD_PASSWORD"
	captchaVar      = "CD_CAPTCHA"
	regionVar       = "CD_REGION"
	unitsVar        = "CD_UNITS"
	subscriptionVar = "CD_SUBSCRIPTION_KEY"
	logLevelVar     = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "ConnectedDrive")
}

func (EnvVars) GetUsername() string {
	return GetEnv(usernameVar, "")
}

func (EnvVars) GetPassword() string {
	return GetEnv(passwordVar, "")
}

// GetCaptchaToken returns the one-time hCaptcha token needed for the first login of an account.
func (EnvVars) GetCaptchaToken() string {
	return GetEnv(captchaVar, "")
}

func (EnvVars) GetRegion() string {
	return GetEnv(regionVar, "rest_of_world")
}

func (EnvVars) GetUnits() string {
	return GetEnv(unitsVar, "metric")
}

// GetSubscriptionKey overrides the API gateway key of the selected region.
func (EnvVars) GetSubscriptionKey() string {
	return GetEnv(subscriptionVar, "")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses envVar with time.ParseDuration, falling back to
// defaultValue when unset or malformed.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(envVar))
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}

func GetEnvInt(envVar string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}
