package config

import "time"

// SyncConfig is the root configuration for a livesync instance.
type SyncConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Backend  BackendConfig  `yaml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID  string `yaml:"id"`
	Env string `yaml:"env"`
}

// BackendConfig holds backend API settings.
type BackendConfig struct {
	RestURL     string        `yaml:"rest_url"`     // Snapshot/REST base URL
	RealtimeURL string        `yaml:"realtime_url"` // WebSocket endpoint
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// RealtimeConfig holds connection manager settings.
type RealtimeConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ManualReconnectDelay time.Duration `yaml:"manual_reconnect_delay"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the Postgres connection used by the dev server.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ServerConfig holds dev server settings.
type ServerConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`
	NotifyChannel string        `yaml:"notify_channel"` // Postgres NOTIFY channel carrying row changes
	Tables        []string      `yaml:"tables"`         // Tables exposed for snapshots
	StatsInterval time.Duration `yaml:"stats_interval"`
}
