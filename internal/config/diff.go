package config

import (
	logx "broadcastd/pkg/logx"
)

// SummarizeConfigChange lists changed sections and safe log fields.
// Secrets (tokens, passwords, DSNs) are reported only as "changed".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 8)

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.timeout", newCfg.Provider.Timeout),
			logx.Int("provider.rate_per_sec", newCfg.Provider.RatePerSec),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int64("dispatch.chat_id", newCfg.Dispatch.ChatID),
			logx.Bool("dispatch.token_changed", oldCfg.Dispatch.Token != newCfg.Dispatch.Token),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if maintenanceOf(oldCfg) != maintenanceOf(newCfg) {
		changed = append(changed, "maintenance")
	}
	return changed, attrs
}

func maintenanceOf(c *Config) MaintenanceConfig {
	if c.Maintenance == nil {
		return MaintenanceConfig{}
	}
	return *c.Maintenance
}
