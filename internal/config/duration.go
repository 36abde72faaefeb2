package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads the Go duration string found at path (e.g.
// "storage.claim_ttl"). An empty value means def; an explicit value is kept
// as is, including "0s". Negative values are rejected.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, d)
	}
	return d, nil
}

// ParsePositiveDuration is ParseDuration for settings where zero makes no
// sense, such as call timeouts.
func ParsePositiveDuration(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(path, raw, def)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("%s: duration must be > 0", path)
	}
	return d, nil
}
