package config

import "time"

// Defaults applied by LoadWithDefaults when the config file leaves a
// field unset.
const (
	DefaultBackendTimeout    = 10 * time.Second
	DefaultBackendMaxRetries = 3

	DefaultHandshakeTimeout     = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultManualReconnectDelay = 500 * time.Millisecond
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 1000

	DefaultListenAddr    = ":8090"
	DefaultNotifyChannel = "livesync_changes"
	DefaultStatsInterval = 30 * time.Second
)

func (c *SyncConfig) applyDefaults() {
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultBackendTimeout
	}
	if c.Backend.MaxRetries == 0 {
		c.Backend.MaxRetries = DefaultBackendMaxRetries
	}

	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.ReconnectMaxDelay == 0 {
		c.Realtime.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Realtime.ManualReconnectDelay == 0 {
		c.Realtime.ManualReconnectDelay = DefaultManualReconnectDelay
	}
	if c.Realtime.PingTimeout == 0 {
		c.Realtime.PingTimeout = DefaultPingTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.BufferSize == 0 {
		c.Realtime.BufferSize = DefaultBufferSize
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.NotifyChannel == "" {
		c.Server.NotifyChannel = DefaultNotifyChannel
	}
	if c.Server.StatsInterval == 0 {
		c.Server.StatsInterval = DefaultStatsInterval
	}
}
