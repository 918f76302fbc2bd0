package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the wampsocket configuration.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Metrics MetricsConfig `yaml:"metrics"`
	Server  ServerConfig  `yaml:"server"`
}

// ClientConfig configures the protocol client.
type ClientConfig struct {
	URL               string        `yaml:"url"`
	BaseAddress       string        `yaml:"base_address"`
	Protocols         []string      `yaml:"protocols,omitempty"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	RateLimitPerSec   int           `yaml:"rate_limit_per_sec"` // 0 disables outbound call limiting
	Transport         string        `yaml:"transport"`          // "nhooyr" or "gorilla"
}

// AuthConfig holds the credentials used by the session service.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token,omitempty"`
}

// StoreConfig configures log persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // noop or stdout
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the endpoint
	Namespace  string `yaml:"namespace"`
}

// ServerConfig configures the development router.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	Protocols      []string      `yaml:"protocols,omitempty"`
	MaxMessageSize int           `yaml:"max_message_size"`
	DemoInterval   time.Duration `yaml:"demo_interval"` // 0 disables the demo log publisher
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			URL:               "ws://localhost:8080/ws",
			BaseAddress:       "http://enter.local",
			CallTimeout:       time.Second,
			ReconnectDelay:    10 * time.Second,
			HeartbeatInterval: 20 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			MaxMessageSize:    1 << 20, // 1MB
			Transport:         "nhooyr",
		},
		Store: StoreConfig{
			DatabasePath: "wampsocket.db",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Namespace: "wampsocket",
		},
		Server: ServerConfig{
			ListenAddr:     ":8080",
			MaxMessageSize: 65536, // 64KB
			DemoInterval:   5 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults and applies env overrides.
// A missing file is not an error: defaults plus env overrides are returned.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps WAMPSOCKET_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WAMPSOCKET_URL"); v != "" {
		cfg.Client.URL = v
	}
	if v := os.Getenv("WAMPSOCKET_BASE_ADDRESS"); v != "" {
		cfg.Client.BaseAddress = v
	}
	if v := os.Getenv("WAMPSOCKET_PROTOCOLS"); v != "" {
		cfg.Client.Protocols = splitAndTrim(v, ",")
	}
	if v := os.Getenv("WAMPSOCKET_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.CallTimeout = d
		}
	}
	if v := os.Getenv("WAMPSOCKET_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.ReconnectDelay = d
		}
	}
	if v := os.Getenv("WAMPSOCKET_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("WAMPSOCKET_RATE_LIMIT_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.RateLimitPerSec = n
		}
	}
	if v := os.Getenv("WAMPSOCKET_TRANSPORT"); v != "" {
		cfg.Client.Transport = v
	}
	if v := os.Getenv("WAMPSOCKET_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("WAMPSOCKET_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("WAMPSOCKET_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("WAMPSOCKET_DATABASE_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
	if v := os.Getenv("WAMPSOCKET_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("WAMPSOCKET_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("WAMPSOCKET_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("WAMPSOCKET_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("WAMPSOCKET_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("WAMPSOCKET_SERVER_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
