package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// Load reads the config file, applies environment overrides, and returns a
// merged Config. Missing files produce defaults only.
func Load(path string, paths Paths) (Config, error) {
	cfg := Defaults(paths)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg, paths)
	applyEnvOverrides(&cfg)
	cfg.Redis.Password = expandEnvVars(cfg.Redis.Password)
	return cfg, nil
}

// Defaults returns the configuration used when no file exists.
func Defaults(paths Paths) Config {
	cfg := Config{}
	applyDefaults(&cfg, paths)
	return cfg
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config, paths Paths) {
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(paths.Data, "waygate.db")
	}
	if cfg.Streams.Group == "" {
		cfg.Streams.Group = "engine-workers"
	}
	if cfg.Streams.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		cfg.Streams.Consumer = host
	}
	if cfg.Sessions.CredentialsDir == "" {
		cfg.Sessions.CredentialsDir = paths.Credentials
	}
	if cfg.Sessions.KeepAliveSeconds == 0 {
		cfg.Sessions.KeepAliveSeconds = 30
	}
	if cfg.Sessions.MaxReconnectAttempts == 0 {
		cfg.Sessions.MaxReconnectAttempts = 10
	}
	if cfg.Media.TempDir == "" {
		cfg.Media.TempDir = paths.MediaTmp
	}
	if cfg.Media.SweepIntervalHours == 0 {
		cfg.Media.SweepIntervalHours = 1
	}
	if cfg.Relay.Addr == "" {
		cfg.Relay.Addr = "127.0.0.1:18790"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides reads WAYGATE_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAYGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WAYGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WAYGATE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("WAYGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WAYGATE_STREAMS_GROUP"); v != "" {
		cfg.Streams.Group = v
	}
	if v := os.Getenv("WAYGATE_STREAMS_CONSUMER"); v != "" {
		cfg.Streams.Consumer = v
	}
	if v := os.Getenv("WAYGATE_RELAY_ENABLED"); v != "" {
		cfg.Relay.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WAYGATE_RELAY_ADDR"); v != "" {
		cfg.Relay.Addr = v
	}
	if v := os.Getenv("WAYGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
