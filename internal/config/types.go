package config

// Config is the broadcastd configuration file (JSON or YAML).
//
// String values may reference environment variables as ${NAME}; see LoadEnv.
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Provider ProviderConfig `json:"provider"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`

	// Maintenance is optional; omitted means disabled.
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

// HTTPConfig controls the intake HTTP server.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Defaults: addr ":8080", read_timeout "10s", idle_timeout "60s",
// max_body_bytes 1 MiB. write_timeout defaults to 30s or the longest possible
// intake run, whichever is larger; "0s" disables it.
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
}

// ProviderConfig controls calls to the Bot API.
type ProviderConfig struct {
	APIURL string `json:"api_url,omitempty"` // default: https://api.telegram.org
	// Timeout bounds every call (Go duration string, default "10s").
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // 0 disables client-side throttling
}

// DispatchConfig selects where the single immediate send goes.
//
// Example:
//
//	"dispatch": { "chat_id": -1001176886276, "token": "${RELAY_BOT_TOKEN}" }
type DispatchConfig struct {
	ChatID int64  `json:"chat_id,omitempty"`
	Token  string `json:"token,omitempty"` // do not log
}

// StorageConfig controls the job store.
//
// Example:
//
//	"storage": { "driver": "redis", "redis": { "addr": "localhost:6379" } }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"` // sqlite
	DSN         string      `json:"dsn,omitempty"`  // postgres; do not log
	Redis       RedisConfig `json:"redis,omitempty"`
	ClaimTTL    string      `json:"claim_ttl,omitempty"`    // Go duration string, "0s" = never
	OpTimeout   string      `json:"op_timeout,omitempty"`   // bounds each claim/persist call, default "5s"
	BusyTimeout string      `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type RedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"` // do not log
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MaintenanceConfig controls the periodic store check.
//
// Schedule accepts 5-field cron specs and descriptors such as "@every 1m".
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default: "@every 1m"
}
