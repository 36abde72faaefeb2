package storage

import (
	"errors"
	"strings"

	logx "broadcastd/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "", "memory":
		log.Warn("using in-memory job store; jobs are lost on restart and not shared between instances")
		return NewMemory(cfg.ClaimTTL), nil
	case "redis":
		return openRedis(cfg, log)
	case "sqlite", "sqlite3":
		return openSQL("sqlite", cfg, log)
	case "postgres", "postgresql":
		return openSQL("postgres", cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
