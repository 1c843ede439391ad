package config

type Config interface {
	EnvConfig
	AuthConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetUsername() string
	GetPassword() string
	GetCaptchaToken() string
	GetRegion() string
	GetUnits() string
	GetSubscriptionKey() string
	GetLogLevel() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Auth
	Store
}

func New() Config {
	return mainConfig{}
}
