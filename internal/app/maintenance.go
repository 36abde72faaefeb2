package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"broadcastd/internal/storage"
	logx "broadcastd/pkg/logx"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const maintenanceTimeout = 10 * time.Second

// maintenance periodically pings the job store and logs its job counts so
// operators can see claims that never reached the pending state.
type maintenance struct {
	store storage.Store
	log   logx.Logger
	c     *cron.Cron
}

func newMaintenance(store storage.Store, log logx.Logger) *maintenance {
	return &maintenance{store: store, log: log}
}

func (m *maintenance) Start(spec string) error {
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { m.RunOnce(context.Background()) }); err != nil {
		return err
	}
	m.c = c
	c.Start()
	m.log.Info("maintenance started", logx.String("schedule", spec))
	return nil
}

// Stop waits for a running check to finish or ctx to end.
func (m *maintenance) Stop(ctx context.Context) {
	if m.c == nil {
		return
	}
	select {
	case <-m.c.Stop().Done():
	case <-ctx.Done():
	}
	m.c = nil
}

func (m *maintenance) RunOnce(ctx context.Context) (storage.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		m.log.Warn("job store ping failed", logx.Err(err))
		return storage.Stats{}, err
	}
	st, err := m.store.Stats(ctx)
	if err != nil {
		m.log.Warn("job store stats failed", logx.Err(err))
		return storage.Stats{}, err
	}
	m.log.Info("job store ok", logx.Int("claimed", st.Claimed), logx.Int("pending", st.Pending))
	return st, nil
}
