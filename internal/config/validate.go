package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the config for values that would fail at runtime.
// Call after applyDefaults so zero-value fields have been filled in.
func (c *SyncConfig) Validate() error {
	var errs []error

	if c.Backend.RealtimeURL != "" && !hasScheme(c.Backend.RealtimeURL, "ws://", "wss://") {
		errs = append(errs, fmt.Errorf("backend.realtime_url %q must use ws:// or wss://", c.Backend.RealtimeURL))
	}
	if c.Backend.RestURL != "" && !hasScheme(c.Backend.RestURL, "http://", "https://") {
		errs = append(errs, fmt.Errorf("backend.rest_url %q must use http:// or https://", c.Backend.RestURL))
	}
	if c.Backend.MaxRetries < 0 {
		errs = append(errs, errors.New("backend.max_retries must not be negative"))
	}

	if c.Realtime.MaxReconnectAttempts < 1 {
		errs = append(errs, errors.New("realtime.max_reconnect_attempts must be at least 1"))
	}
	if c.Realtime.ReconnectBaseDelay > c.Realtime.ReconnectMaxDelay {
		errs = append(errs, fmt.Errorf("realtime.reconnect_base_delay %v exceeds reconnect_max_delay %v",
			c.Realtime.ReconnectBaseDelay, c.Realtime.ReconnectMaxDelay))
	}

	for _, table := range c.Server.Tables {
		if strings.TrimSpace(table) == "" {
			errs = append(errs, errors.New("server.tables must not contain empty names"))
			break
		}
	}

	return errors.Join(errs...)
}

func hasScheme(url string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}
