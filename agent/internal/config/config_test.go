package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Local(t *testing.T) {
	yaml := `
agent:
  interval: 10s
  method: latest
  top_n: 3
  scenarios:
    - scenarios/demo.yaml
  storage:
    backend: sqlite
    path: /tmp/agent.db
    retention: 1h
  params:
    w_cpa: 0.5
`
	cfg := loadFromString(t, yaml)
	a := cfg.Agent

	if a.Remote() {
		t.Fatal("Remote(): got true without server_endpoint")
	}
	if a.Interval != 10*time.Second {
		t.Errorf("interval: got %v", a.Interval)
	}
	if a.Method != "latest" {
		t.Errorf("method: got %q", a.Method)
	}
	if a.TopN != 3 {
		t.Errorf("top_n: got %d", a.TopN)
	}
	if len(a.Scenarios) != 1 || a.Scenarios[0] != "scenarios/demo.yaml" {
		t.Errorf("scenarios: got %v", a.Scenarios)
	}
	if a.Storage.Backend != "sqlite" || a.Storage.Path != "/tmp/agent.db" {
		t.Errorf("storage: got %+v", a.Storage)
	}
	if a.Storage.Retention != time.Hour {
		t.Errorf("retention: got %v", a.Storage.Retention)
	}
	if got := a.DefaultParams().WCPA; got != 0.5 {
		t.Errorf("params w_cpa: got %v, want 0.5", got)
	}
}

func TestLoad_Remote(t *testing.T) {
	yaml := `
agent:
  server_endpoint: "localhost:50051"
  scenario_ids: [1, 2]
  call_timeout: 3s
  server_auth:
    mode: apikey
    header: X-Tewa-Token
    key_env: TEWA_KEY
`
	cfg := loadFromString(t, yaml)
	a := cfg.Agent

	if !a.Remote() {
		t.Fatal("Remote(): got false with server_endpoint")
	}
	if len(a.ScenarioIDs) != 2 || a.ScenarioIDs[1] != 2 {
		t.Errorf("scenario_ids: got %v", a.ScenarioIDs)
	}
	if a.CallTimeout != 3*time.Second {
		t.Errorf("call_timeout: got %v", a.CallTimeout)
	}
	if got := a.ServerAuth.EffectiveHeader(); got != "x-tewa-token" {
		t.Errorf("EffectiveHeader(): got %q", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  scenarios: [a.yaml]
`)
	a := cfg.Agent

	if a.Interval != DefaultInterval {
		t.Errorf("default interval: got %v, want %v", a.Interval, DefaultInterval)
	}
	if a.TopN != DefaultTopN {
		t.Errorf("default top_n: got %d, want %d", a.TopN, DefaultTopN)
	}
	if a.CallTimeout != DefaultCallTimeout {
		t.Errorf("default call_timeout: got %v", a.CallTimeout)
	}
	if a.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("default max_attempts: got %d", a.MaxAttempts)
	}
	if a.Storage.Backend != DefaultStorageBackend {
		t.Errorf("default backend: got %q", a.Storage.Backend)
	}
	if a.Log.Level != "info" || a.Log.Format != "json" {
		t.Errorf("default log: got %+v", a.Log)
	}
	if a.ServerAuth.EffectiveHeader() != "x-api-key" {
		t.Errorf("default header: got %q", a.ServerAuth.EffectiveHeader())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no scenarios locally", `
agent:
  interval: 5s
`},
		{"negative interval", `
agent:
  interval: -1s
  scenarios: [a.yaml]
`},
		{"unknown method", `
agent:
  method: cubic
  scenarios: [a.yaml]
`},
		{"negative weapon range", `
agent:
  weapon_range_km: -2
  scenarios: [a.yaml]
`},
		{"zero top_n", `
agent:
  top_n: 0
  scenarios: [a.yaml]
`},
		{"unknown log level", `
agent:
  scenarios: [a.yaml]
  log:
    level: loud
`},
		{"unknown backend", `
agent:
  scenarios: [a.yaml]
  storage:
    backend: postgres
`},
		{"bad params", `
agent:
  scenarios: [a.yaml]
  params:
    cpa_scale_km: -1
`},
		{"remote without scenario ids", `
agent:
  server_endpoint: "localhost:50051"
`},
		{"remote with bad id", `
agent:
  server_endpoint: "localhost:50051"
  scenario_ids: [0]
`},
		{"mtls without cert", `
agent:
  server_endpoint: "localhost:50051"
  scenario_ids: [1]
  server_auth:
    mode: mtls
`},
		{"unknown auth mode", `
agent:
  server_endpoint: "localhost:50051"
  scenario_ids: [1]
  server_auth:
    mode: bearer
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			loadStringErr(t, tc.yaml)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	loadStringErr(t, "agent: [unclosed")
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"warn", "WARN"},
		{"", "INFO"},
		{"nonsense", "INFO"},
	}
	for _, tc := range tests {
		if got := (LogConfig{Level: tc.in}).SlogLevel().String(); got != tc.want {
			t.Errorf("SlogLevel(%q): got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(topN string) {
		t.Helper()
		body := "agent:\n  scenarios: [a.yaml]\n  top_n: " + topN + "\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { got <- c.Agent.TopN })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("7")

	select {
	case n := <-got:
		if n != 7 {
			t.Errorf("reloaded top_n: got %d, want 7", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}
}

// --- helpers ---

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := writeTempFile(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

func loadStringErr(t *testing.T, content string) {
	t.Helper()
	path := writeTempFile(t, content)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
