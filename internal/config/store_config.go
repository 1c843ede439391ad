package config

type StoreConfig interface {
	GetTokenStore() string
	GetTokenFile() string
	GetRedisAddr() string
	GetRedisPrefix() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetTokenStore selects the token store backend: file, redis or memory.
func (Store) GetTokenStore() string {
	return GetEnv("CD_TOKEN_STORE", "file")
}

func (Store) GetTokenFile() string {
	return GetEnv("CD_TOKEN_FILE", "./data/tokens.json")
}

func (Store) GetRedisAddr() string {
	return GetEnv("CD_REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPrefix() string {
	return GetEnv("CD_REDIS_PREFIX", "connecteddrive:token:")
}
