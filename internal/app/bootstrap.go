package app

import (
	"fmt"
	"strings"
	"time"

	"broadcastd/internal/broadcast"
	"broadcastd/internal/config"
	"broadcastd/internal/httpapi"
	"broadcastd/internal/provider"
	logx "broadcastd/pkg/logx"
)

const (
	defaultMaintenanceSchedule = "@every 1m"
	defaultProviderTimeout     = 10 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	writeTimeoutMargin         = time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapProviderConfig(cfg *config.Config) (provider.TelegramConfig, error) {
	timeout, err := config.ParsePositiveDuration("provider.timeout", cfg.Provider.Timeout, defaultProviderTimeout)
	if err != nil {
		return provider.TelegramConfig{}, err
	}
	if cfg.Provider.RatePerSec < 0 {
		return provider.TelegramConfig{}, fmt.Errorf("provider.rate_per_sec must be >= 0")
	}
	return provider.TelegramConfig{
		APIURL:     strings.TrimSpace(cfg.Provider.APIURL),
		Timeout:    timeout,
		RatePerSec: cfg.Provider.RatePerSec,
	}, nil
}

func mapPipelineOptions(cfg *config.Config) (broadcast.Options, error) {
	opTimeout, err := config.ParsePositiveDuration("storage.op_timeout", cfg.Storage.OpTimeout, broadcast.DefaultStoreTimeout)
	if err != nil {
		return broadcast.Options{}, err
	}
	return broadcast.Options{
		DispatchChatID: cfg.Dispatch.ChatID,
		DispatchToken:  strings.TrimSpace(cfg.Dispatch.Token),
		StoreTimeout:   opTimeout,
	}, nil
}

// worstCaseRun is the longest one intake can take: getMe and sendMessage at
// the provider timeout plus claim and persist at the store timeout.
func worstCaseRun(cfg *config.Config) (time.Duration, error) {
	pc, err := mapProviderConfig(cfg)
	if err != nil {
		return 0, err
	}
	opts, err := mapPipelineOptions(cfg)
	if err != nil {
		return 0, err
	}
	return 2*pc.Timeout + 2*opts.StoreTimeout, nil
}

type httpSettings struct {
	server  httpapi.ServerConfig
	maxBody int64
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	hc := cfg.HTTP
	read, err := config.ParseDuration("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpSettings{}, err
	}
	idle, err := config.ParseDuration("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpSettings{}, err
	}

	// The response must still be writable after the longest run, or the
	// client loses the answer for a job that was stored.
	run, err := worstCaseRun(cfg)
	if err != nil {
		return httpSettings{}, err
	}
	minWrite := run + writeTimeoutMargin
	write, err := config.ParseDuration("http.write_timeout", hc.WriteTimeout, max(defaultWriteTimeout, minWrite))
	if err != nil {
		return httpSettings{}, err
	}
	if write > 0 && write < minWrite {
		return httpSettings{}, fmt.Errorf("http.write_timeout %s is shorter than the longest intake run (%s)", write, minWrite)
	}

	if hc.MaxBodyBytes < 0 {
		return httpSettings{}, fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	addr := strings.TrimSpace(hc.Addr)
	if addr == "" {
		addr = ":8080"
	}
	return httpSettings{
		server: httpapi.ServerConfig{
			Addr:         addr,
			ReadTimeout:  read,
			WriteTimeout: write,
			IdleTimeout:  idle,
		},
		maxBody: hc.MaxBodyBytes,
	}, nil
}

// maintenanceSchedule returns "" when maintenance is disabled.
func maintenanceSchedule(cfg *config.Config) (string, error) {
	m := cfg.Maintenance
	if m == nil || !m.Enabled {
		return "", nil
	}
	spec := strings.TrimSpace(m.Schedule)
	if spec == "" {
		spec = defaultMaintenanceSchedule
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return "", fmt.Errorf("maintenance.schedule: %w", err)
	}
	return spec, nil
}

// validateConfig checks every section the way New maps it. The config
// manager runs it before committing a hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return fmt.Errorf("logging.level: unknown level %q", lvl)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled=true")
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	// A claim that can expire mid-run would let a second run dispatch too.
	if sc.ClaimTTL > 0 {
		run, err := worstCaseRun(cfg)
		if err != nil {
			return err
		}
		if sc.ClaimTTL < run {
			return fmt.Errorf("storage.claim_ttl %s is shorter than the longest intake run (%s)", sc.ClaimTTL, run)
		}
	}
	if _, err := maintenanceSchedule(cfg); err != nil {
		return err
	}
	return nil
}
