package app

import (
	"fmt"
	"strings"
	"time"

	"broadcastd/internal/config"
	"broadcastd/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))

	claimTTL, err := config.ParseDuration("storage.claim_ttl", sc.ClaimTTL, 0)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{Driver: driver, ClaimTTL: claimTTL}

	switch driver {
	case "", "memory":
		out.Driver = "memory"
	case "redis":
		if strings.TrimSpace(sc.Redis.Addr) == "" {
			return storage.Config{}, fmt.Errorf("storage.redis.addr is required when storage.driver=redis")
		}
		out.Redis = storage.RedisConfig{
			Addr:      strings.TrimSpace(sc.Redis.Addr),
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
		}
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.Path, out.BusyTimeout = path, busy
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		out.DSN = strings.TrimSpace(sc.DSN)
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}
