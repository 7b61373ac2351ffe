package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tewa-sim/tewa/pkg/sampler"
	"github.com/tewa-sim/tewa/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval       = 30 * time.Second
	DefaultTopN           = 5
	DefaultCallTimeout    = 10 * time.Second
	DefaultMaxAttempts    = 5
	DefaultStorageBackend = "memory"
	DefaultSQLitePath     = "data/tewa-agent.db"
)

// Config is the agent's view of config.yaml. The `server:` key is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
//
// With ServerEndpoint empty the agent runs locally: it seeds Scenarios into
// its own store and computes in-process. Otherwise it triggers compute runs on
// tewa-server for ScenarioIDs over gRPC.
type AgentConfig struct {
	// Interval between compute cycles.
	Interval time.Duration `yaml:"interval"`

	// Method is the sampling method (linear | latest). Empty means the
	// server default in remote mode and linear locally.
	Method string `yaml:"method"`

	// WeaponRangeKm overrides the engagement radius. Zero uses each DA's radius.
	WeaponRangeKm float64 `yaml:"weapon_range_km"`

	// TopN is the number of threats per DA logged after each cycle.
	TopN int `yaml:"top_n"`

	Log LogConfig `yaml:"log"`

	// Scenarios lists scenario YAML files evaluated in local mode. They are
	// re-seeded when they change on disk.
	Scenarios []string `yaml:"scenarios"`

	// Storage selects the local store.
	Storage StorageConfig `yaml:"storage"`

	// Params overrides the default model parameters of new local scenarios.
	Params types.ParamsPatch `yaml:"params"`

	// ServerEndpoint is the gRPC address of tewa-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// ScenarioIDs are the server-side scenarios computed in remote mode.
	ScenarioIDs []int64 `yaml:"scenario_ids"`

	// CallTimeout bounds one remote call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxAttempts bounds retries of one remote compute.
	MaxAttempts int `yaml:"max_attempts"`

	// ServerAuth configures how the agent authenticates to tewa-server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Remote reports whether the agent triggers runs on a server.
func (a AgentConfig) Remote() bool { return a.ServerEndpoint != "" }

// DefaultParams returns the model parameters local scenarios start with.
func (a AgentConfig) DefaultParams() types.ModelParams {
	p, err := types.DefaultModelParams().Apply(a.Params)
	if err != nil {
		return types.DefaultModelParams()
	}
	return p
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error (default info).
	Level string `yaml:"level"`
	// Format is json or text (default json).
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// StorageConfig selects the local persistence backend.
type StorageConfig struct {
	// Backend is memory or sqlite (default memory).
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long score records are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the gRPC metadata key to send the key in (default x-api-key).
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Interval:    DefaultInterval,
			TopN:        DefaultTopN,
			CallTimeout: DefaultCallTimeout,
			MaxAttempts: DefaultMaxAttempts,
			Log:         LogConfig{Level: "info", Format: "json"},
			Storage: StorageConfig{
				Backend: DefaultStorageBackend,
				Path:    DefaultSQLitePath,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := &cfg.Agent
	if a.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}
	if _, err := sampler.ParseMethod(a.Method); err != nil {
		return fmt.Errorf("agent.method: %w", err)
	}
	if a.WeaponRangeKm < 0 {
		return fmt.Errorf("agent.weapon_range_km must not be negative")
	}
	if a.TopN <= 0 {
		return fmt.Errorf("agent.top_n must be positive")
	}
	switch strings.ToLower(a.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("agent.log.level %q unknown: want debug|info|warn|error", a.Log.Level)
	}
	switch a.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("agent.log.format %q unknown: want json|text", a.Log.Format)
	}

	if a.Remote() {
		if len(a.ScenarioIDs) == 0 {
			return fmt.Errorf("agent.scenario_ids is required with server_endpoint")
		}
		for i, id := range a.ScenarioIDs {
			if id <= 0 {
				return fmt.Errorf("agent.scenario_ids[%d]: %d is not a valid id", i, id)
			}
		}
		if a.CallTimeout <= 0 {
			return fmt.Errorf("agent.call_timeout must be positive")
		}
		if a.MaxAttempts <= 0 {
			return fmt.Errorf("agent.max_attempts must be positive")
		}
		switch a.ServerAuth.Mode {
		case "mtls":
			if a.ServerAuth.CertFile == "" || a.ServerAuth.KeyFile == "" {
				return fmt.Errorf("agent.server_auth: mtls requires cert_file and key_file")
			}
		case "apikey", "none", "":
		default:
			return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
		}
		return nil
	}

	if len(a.Scenarios) == 0 {
		return fmt.Errorf("agent.scenarios is required without server_endpoint")
	}
	switch a.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("agent.storage.backend %q unknown: want memory|sqlite", a.Storage.Backend)
	}
	if a.Storage.Backend == "sqlite" && a.Storage.Path == "" {
		return fmt.Errorf("agent.storage.path is required for sqlite")
	}
	if a.Storage.Retention < 0 {
		return fmt.Errorf("agent.storage.retention must not be negative")
	}
	if _, err := types.DefaultModelParams().Apply(a.Params); err != nil {
		return fmt.Errorf("agent.params: %w", err)
	}
	return nil
}
