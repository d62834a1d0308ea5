package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Store     StoreConfig
	Uploads   UploadsConfig
	Calls     CallsConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Events    map[string]EventConfig `mapstructure:"events"`
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string `mapstructure:"allowedOrigins"`
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
}

type AuthConfig struct {
	// empty disables token checks on /ws
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"` // 0 means no per-read deadline
	PingInterval time.Duration `mapstructure:"pingInterval"`
	SendBuffer   int           `mapstructure:"sendBuffer"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

type UploadsConfig struct {
	Dir        string `mapstructure:"dir"`
	PublicPath string `mapstructure:"publicPath"`
	MaxBytes   int64  `mapstructure:"maxBytes"`
}

type CallsConfig struct {
	BusyPolicy string `mapstructure:"busyPolicy"` // "overwrite" or "reject"
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TelemetryConfig struct {
	Stdout       bool   `mapstructure:"stdout"`
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	OTLPInsecure bool   `mapstructure:"otlpInsecure"`
}

// EventConfig binds modifiers to an inbound event name.
type EventConfig struct {
	Modifiers []ModifierConfig `mapstructure:"modifiers"`
}

type ModifierConfig struct {
	Name   string   `mapstructure:"name"`
	Params []string `mapstructure:"params"`
}
