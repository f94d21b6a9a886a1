// Package config loads and resolves the engine configuration: a YAML file
// under the base directory, WAYGATE_* environment overrides and defaults.
package config

// Config is the root configuration for the waygate engine.
type Config struct {
	Redis    RedisConfig    `yaml:"redis,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty"`
	Streams  StreamsConfig  `yaml:"streams,omitempty"`
	Sessions SessionsConfig `yaml:"sessions,omitempty"`
	Media    MediaConfig    `yaml:"media,omitempty"`
	Relay    RelayConfig    `yaml:"relay,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// RedisConfig points at the queue/event/rate-limit Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"` // supports ${VAR} references
	DB       int    `yaml:"db,omitempty"`
}

// DatabaseConfig locates the sqlite database file.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// StreamsConfig names the streams and the consumer group identity.
type StreamsConfig struct {
	Group    string `yaml:"group,omitempty"`
	Consumer string `yaml:"consumer,omitempty"`
}

// SessionsConfig tunes the session manager.
type SessionsConfig struct {
	CredentialsDir       string `yaml:"credentialsDir,omitempty"`
	KeepAliveSeconds     int    `yaml:"keepAliveSeconds,omitempty"`
	MaxReconnectAttempts int    `yaml:"maxReconnectAttempts,omitempty"`
}

// MediaConfig tunes the media pipeline.
type MediaConfig struct {
	TempDir            string `yaml:"tempDir,omitempty"`
	SweepIntervalHours int    `yaml:"sweepIntervalHours,omitempty"`
}

// RelayConfig controls the live WebSocket event relay.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// ConfigError describes a configuration problem in user terms.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
