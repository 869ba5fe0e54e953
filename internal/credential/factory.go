package credential

import (
	"fmt"

	"github.com/weiawesome/peace-chat/internal/config"
)

// New opens the store selected by cfg.Credentials.Driver.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Credentials.Driver {
	case "", "file":
		return NewFileStore(cfg.Credentials.File, cfg.Credentials.Watch)
	case "database":
		return NewGormStore(&cfg.Database)
	case "redis":
		return NewRedisStore(RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported credentials driver: %s", cfg.Credentials.Driver)
	}
}
