package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tewa-sim/tewa/internal/observability"
	"github.com/tewa-sim/tewa/pkg/sampler"
	"github.com/tewa-sim/tewa/pkg/types"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold condition evaluated against every score
// record of a run.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key
	// together with the (scenario, DA, track) the record belongs to.
	Name string `yaml:"name"`

	// Condition is a simple expression: "score > 0.8", "level == high",
	// "tcpa_s < 60", "cpa_km <= 2".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultStorageBackend    = "memory"
	DefaultSQLitePath        = "data/tewa.db"
	DefaultBroadcastInterval = 5 * time.Second
	DefaultBroadcastTopN     = 10
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the ThreatService listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API, metrics and WebSocket board listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	Log LogConfig `yaml:"log"`

	// Auth configures how the server authenticates incoming gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`

	Storage StorageConfig `yaml:"storage"`

	Engine EngineConfig `yaml:"engine"`

	// Params overrides the default model parameters given to scenarios that
	// have none yet.
	Params types.ParamsPatch `yaml:"params"`

	// Scenarios lists scenario YAML files seeded at startup.
	Scenarios []string `yaml:"scenarios"`

	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`

	Tracing observability.TracingConfig `yaml:"tracing"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error (default info).
	Level string `yaml:"level"`
	// Format is json or text (default json).
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog.Level. Unknown values were rejected by Load.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is memory or sqlite (default memory).
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (default data/tewa.db).
	Path string `yaml:"path"`

	// Retention is how long score records are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// EngineConfig tunes the compute engine.
type EngineConfig struct {
	// Workers bounds concurrent track evaluation (default 4).
	Workers int `yaml:"workers"`

	// Method is the sampling method used when a request names none.
	Method string `yaml:"method"`
}

// BroadcastConfig controls the WebSocket threat board.
type BroadcastConfig struct {
	// Interval between periodic pushes (default 5s).
	Interval time.Duration `yaml:"interval"`

	// TopN is the number of threats per DA on the board (default 10).
	TopN int `yaml:"top_n"`
}

// DefaultParams returns the model parameters new scenarios start with.
func (s ServerConfig) DefaultParams() types.ModelParams {
	p, err := types.DefaultModelParams().Apply(s.Params)
	if err != nil {
		return types.DefaultModelParams()
	}
	return p
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Log:      LogConfig{Level: "info", Format: "json"},
			Storage: StorageConfig{
				Backend: DefaultStorageBackend,
				Path:    DefaultSQLitePath,
			},
			Broadcast: BroadcastConfig{
				Interval: DefaultBroadcastInterval,
				TopN:     DefaultBroadcastTopN,
			},
			Tracing: observability.TracingConfig{
				ServiceName: "tewa-server",
				Exporter:    "stdout",
				SampleRatio: 1,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch s.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|sqlite", s.Storage.Backend)
	}
	if s.Storage.Backend == "sqlite" && s.Storage.Path == "" {
		return fmt.Errorf("server.storage.path is required for sqlite")
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if s.Engine.Workers < 0 {
		return fmt.Errorf("server.engine.workers must not be negative")
	}
	if _, err := sampler.ParseMethod(s.Engine.Method); err != nil {
		return fmt.Errorf("server.engine.method: %w", err)
	}
	if _, err := types.DefaultModelParams().Apply(s.Params); err != nil {
		return fmt.Errorf("server.params: %w", err)
	}
	if s.Broadcast.Interval <= 0 {
		return fmt.Errorf("server.broadcast.interval must be positive")
	}
	if s.Broadcast.TopN <= 0 {
		return fmt.Errorf("server.broadcast.top_n must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	switch s.Tracing.Exporter {
	case "stdout", "otlp", "":
	default:
		return fmt.Errorf("server.tracing.exporter %q unknown: want stdout|otlp", s.Tracing.Exporter)
	}
	return nil
}
