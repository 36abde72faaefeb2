package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"broadcastd/internal/broadcast"
	"broadcastd/internal/config"
	"broadcastd/internal/httpapi"
	"broadcastd/internal/provider"
	rtsup "broadcastd/internal/runtime/supervisor"
	"broadcastd/internal/storage"
	logx "broadcastd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cur  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	prov  *provider.Telegram
	http  *httpapi.Server

	maint     *maintenance
	maintSpec string
}

// New loads cfgPath and builds every component. Nothing listens until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	// Validated above; mapping again cannot fail.
	provCfg, _ := mapProviderConfig(cfg)
	pipeOpts, _ := mapPipelineOptions(cfg)
	hs, _ := mapHTTPConfig(cfg)
	spec, _ := maintenanceSchedule(cfg)

	prov := provider.NewTelegram(provCfg, log.With(logx.String("comp", "provider")))
	pipe := broadcast.NewPipeline(prov, store, pipeOpts, log.With(logx.String("comp", "broadcast")))
	handler := httpapi.NewHandler(pipe, store, hs.maxBody, log.With(logx.String("comp", "http")))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error { return validateConfig(c) })

	if cfg.Dispatch.ChatID == 0 {
		log.Warn("dispatch.chat_id not set; the immediate send goes to the first submitted chat")
	}

	return &App{
		cfgm:      cfgm,
		cur:       cfg,
		log:       log,
		logs:      logs,
		store:     store,
		prov:      prov,
		http:      httpapi.NewServer(hs.server, handler, log.With(logx.String("comp", "http"))),
		maint:     newMaintenance(store, log.With(logx.String("comp", "maintenance"))),
		maintSpec: spec,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)

	if err := a.http.Start(a.sup); err != nil {
		a.sup.Cancel()
		return err
	}
	if a.maintSpec != "" {
		if err := a.maint.Start(a.maintSpec); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	updates := a.cfgm.Subscribe(1)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-updates:
				a.applyReload(cfg)
			}
		}
	})

	a.notifySystemd(daemon.SdNotifyReady)
	a.log.Info("broadcastd started", logx.String("addr", a.http.Addr()), logx.String("storage", a.cur.Storage.Driver))
	return nil
}

// Done is closed when the app must exit because a component failed.
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Err returns the first component failure, if any.
func (a *App) Err() error { return a.sup.Err() }

// Addr returns the bound HTTP address.
func (a *App) Addr() string { return a.http.Addr() }

func (a *App) Stop(ctx context.Context) error {
	a.notifySystemd(daemon.SdNotifyStopping)
	a.log.Info("broadcastd stopping")

	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.maint.Stop(ctx)
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("broadcastd stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// applyReload applies the sections that can change live. The rest is
// reported and waits for a restart.
func (a *App) applyReload(cfg *config.Config) {
	changed, attrs := config.SummarizeConfigChange(a.cur, cfg)
	if len(changed) == 0 {
		return
	}

	a.logs.Apply(mapLoggingConfig(cfg))
	if provCfg, err := mapProviderConfig(cfg); err == nil {
		a.prov.SetRate(provCfg.RatePerSec)
	}

	var restart []string
	for _, sec := range changed {
		switch sec {
		case "logging":
		case "provider":
			// Only the rate limit is live.
			if a.cur.Provider.APIURL != cfg.Provider.APIURL || a.cur.Provider.Timeout != cfg.Provider.Timeout {
				restart = append(restart, sec)
			}
		default:
			restart = append(restart, sec)
		}
	}
	a.log.Info("config applied", append(attrs, logx.Any("sections", changed))...)
	if len(restart) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.Any("sections", restart))
	}
	a.cur = cfg
}

func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}
