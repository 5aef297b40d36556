package templates

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/config"
)

// Open returns the store selected by cfg.
func Open(cfg config.TemplateStore) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.DSN)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown template store driver %q", cfg.Driver)
	}
}
