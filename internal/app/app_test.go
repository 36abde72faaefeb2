package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"broadcastd/internal/config"
	"broadcastd/internal/provider"
	"broadcastd/internal/storage"
	logx "broadcastd/pkg/logx"
)

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{name: "defaults", cfg: config.Config{}},
		{name: "bad level", cfg: config.Config{Logging: config.LoggingConfig{Level: "loud"}}, wantErr: "logging.level"},
		{name: "file without path", cfg: config.Config{Logging: config.LoggingConfig{File: config.LoggingFile{Enabled: true}}}, wantErr: "logging.file.path"},
		{name: "bad timeout", cfg: config.Config{Provider: config.ProviderConfig{Timeout: "fast"}}, wantErr: "provider.timeout"},
		{name: "zero timeout", cfg: config.Config{Provider: config.ProviderConfig{Timeout: "0s"}}, wantErr: "provider.timeout"},
		{name: "zero store timeout", cfg: config.Config{Storage: config.StorageConfig{OpTimeout: "0s"}}, wantErr: "storage.op_timeout"},
		{name: "write timeout shorter than a run", cfg: config.Config{HTTP: config.HTTPConfig{WriteTimeout: "5s"}}, wantErr: "http.write_timeout"},
		{name: "write timeout disabled", cfg: config.Config{HTTP: config.HTTPConfig{WriteTimeout: "0s"}}},
		{name: "claim ttl shorter than a run", cfg: config.Config{Storage: config.StorageConfig{ClaimTTL: "10s"}}, wantErr: "storage.claim_ttl"},
		{name: "claim ttl long enough", cfg: config.Config{Storage: config.StorageConfig{ClaimTTL: "2m"}}},
		{name: "negative rate", cfg: config.Config{Provider: config.ProviderConfig{RatePerSec: -1}}, wantErr: "rate_per_sec"},
		{name: "negative body", cfg: config.Config{HTTP: config.HTTPConfig{MaxBodyBytes: -1}}, wantErr: "max_body_bytes"},
		{name: "redis without addr", cfg: config.Config{Storage: config.StorageConfig{Driver: "redis"}}, wantErr: "storage.redis.addr"},
		{name: "sqlite without path", cfg: config.Config{Storage: config.StorageConfig{Driver: "sqlite"}}, wantErr: "storage.path"},
		{name: "postgres without dsn", cfg: config.Config{Storage: config.StorageConfig{Driver: "postgres"}}, wantErr: "storage.dsn"},
		{name: "unknown driver", cfg: config.Config{Storage: config.StorageConfig{Driver: "mongo"}}, wantErr: "unknown storage.driver"},
		{name: "bad claim ttl", cfg: config.Config{Storage: config.StorageConfig{ClaimTTL: "-1m"}}, wantErr: "storage.claim_ttl"},
		{name: "bad schedule", cfg: config.Config{Maintenance: &config.MaintenanceConfig{Enabled: true, Schedule: "whenever"}}, wantErr: "maintenance.schedule"},
		{name: "disabled schedule ignored", cfg: config.Config{Maintenance: &config.MaintenanceConfig{Schedule: "whenever"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateConfig(&tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestMapStorageConfig(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "jobs.db", ClaimTTL: "5m"}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "jobs.db" || sc.ClaimTTL != 5*time.Minute || sc.BusyTimeout != time.Second {
		t.Fatalf("storage config = %+v", sc)
	}

	sc, err = mapStorageConfig(&config.Config{})
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("default = %+v, %v", sc, err)
	}
}

func TestMapHTTPConfigWriteTimeout(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want time.Duration
	}{
		{name: "defaults", cfg: config.Config{}, want: 31 * time.Second},
		{name: "slow provider", cfg: config.Config{Provider: config.ProviderConfig{Timeout: "20s"}}, want: 51 * time.Second},
		{name: "explicit", cfg: config.Config{HTTP: config.HTTPConfig{WriteTimeout: "2m"}}, want: 2 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hs, err := mapHTTPConfig(&tc.cfg)
			if err != nil {
				t.Fatalf("map: %v", err)
			}
			if hs.server.WriteTimeout != tc.want {
				t.Fatalf("write timeout = %v, want %v", hs.server.WriteTimeout, tc.want)
			}
		})
	}
}

func TestMapPipelineOptions(t *testing.T) {
	opts, err := mapPipelineOptions(&config.Config{
		Dispatch: config.DispatchConfig{ChatID: -100, Token: " R "},
		Storage:  config.StorageConfig{OpTimeout: "2s"},
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if opts.DispatchChatID != -100 || opts.DispatchToken != "R" || opts.StoreTimeout != 2*time.Second {
		t.Fatalf("options = %+v", opts)
	}
}

func TestMaintenanceRunOnce(t *testing.T) {
	store := storage.NewMemory(0)
	defer store.Close()
	ctx := context.Background()
	if _, _, err := store.TryClaim(ctx, 1); err != nil {
		t.Fatal(err)
	}
	c, _, err := store.TryClaim(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	job := c.Job()
	job.Token, job.Method = "T", "sendMessage"
	job.Payload = json.RawMessage(`{"text":"hi"}`)
	job.Targets = []int64{1}
	if err := store.Persist(ctx, job); err != nil {
		t.Fatal(err)
	}

	m := newMaintenance(store, logx.Nop())
	st, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if st.Claimed != 1 || st.Pending != 1 {
		t.Fatalf("stats = %+v", st)
	}

	if err := m.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Stop(ctx)

	_ = store.Close()
	if _, err := m.RunOnce(ctx); err == nil {
		t.Fatal("expected error from closed store")
	}
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := `
http:
  addr: "127.0.0.1:0"
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "jobs.db") + `
logging:
  level: error
maintenance:
  enabled: true
`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + a.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestApplyReloadSetsLevel(t *testing.T) {
	logs, log := logx.New(logx.Config{Level: "info"})
	defer logs.Close()
	a := &App{
		cur:  &config.Config{Logging: config.LoggingConfig{Level: "info"}},
		log:  log,
		logs: logs,
		prov: provider.NewTelegram(provider.TelegramConfig{Timeout: time.Second}, logx.Nop()),
	}
	next := &config.Config{Logging: config.LoggingConfig{Level: "debug"}, Provider: config.ProviderConfig{RatePerSec: 5}}
	a.applyReload(next)
	if !log.Enabled(logx.LevelDebug) {
		t.Fatal("debug level not applied")
	}
	if a.cur != next {
		t.Fatal("current config not replaced")
	}
}
