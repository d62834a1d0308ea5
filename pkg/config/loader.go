package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const (
	LimitModeReject = "reject"
	LimitModeCycle  = "cycle"

	BusyPolicyOverwrite = "overwrite"
	BusyPolicyReject    = "reject"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load reads configuration from a file and environment variables.
// An empty path looks for config.yaml in the working directory and tolerates its absence.
func Load(logger *slog.Logger, path string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("server.auth.jwtSecret", "")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", LimitModeCycle)
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "file:relay.db?_pragma=foreign_keys(1)")
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.publicPath", "/uploads")
	v.SetDefault("uploads.maxBytes", 10<<20)
	v.SetDefault("calls.busyPolicy", BusyPolicyOverwrite)
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("telemetry.otlpEndpoint", "")
	v.SetDefault("telemetry.otlpInsecure", false)

	// 2. Set config file details
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix("GORELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.String("storeDriver", cfg.Store.Driver),
		slog.String("busyPolicy", cfg.Calls.BusyPolicy),
		slog.Int("boundEvents", len(cfg.Events)),
	)
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case LimitModeReject, LimitModeCycle:
	default:
		return fmt.Errorf("invalid connectionLimit mode %q", c.Server.ConnectionLimit.Mode)
	}
	switch c.Calls.BusyPolicy {
	case BusyPolicyOverwrite, BusyPolicyReject:
	default:
		return fmt.Errorf("invalid calls busyPolicy %q", c.Calls.BusyPolicy)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Transport.SendBuffer <= 0 {
		return errors.New("transport sendBuffer must be positive")
	}
	return nil
}
