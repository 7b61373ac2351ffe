package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/observability"
	"github.com/tewa-sim/tewa/pkg/types"
	"github.com/tewa-sim/tewa/server/internal/config"
)

func rec(score float64, tcpa *float64) types.ScoreRecord {
	return types.ScoreRecord{
		ScenarioID: 1, DAID: 2, DAName: "Alpha", TrackID: 3, TrackRef: "T1",
		RunTag: "run", Source: types.SourceTrack, Score: score, Level: "low",
		Components: types.Components{CPAKm: 1.5, TCPAS: tcpa, TDBKm: 12},
	}
}

func TestParseCondition(t *testing.T) {
	valid := []string{"score > 0.8", "tcpa_s < 60", "cpa_km <= 2", "level == high", "source != track", "twrp_s >= 10"}
	for _, s := range valid {
		if _, err := parseCondition(s); err != nil {
			t.Errorf("parseCondition(%q): %v", s, err)
		}
	}
	invalid := []string{"", "score > ", "speed > 3", "score ~ 1", "score > high", "level < high"}
	for _, s := range invalid {
		if _, err := parseCondition(s); err == nil {
			t.Errorf("parseCondition(%q): expected error", s)
		}
	}
}

func TestConditionEval(t *testing.T) {
	r := rec(0.85, types.Float(45))
	r.Level = "high"
	cases := []struct {
		cond  string
		fires bool
		value float64
	}{
		{"score > 0.8", true, 0.85},
		{"score > 0.9", false, 0.85},
		{"tcpa_s < 60", true, 45},
		{"cpa_km <= 1.5", true, 1.5},
		{"tdb_km < 10", false, 12},
		{"level == high", true, 0.85},
		{"level != high", false, 0.85},
		{"twrp_s < 1000", false, 0}, // absent component
	}
	for _, tc := range cases {
		c, err := parseCondition(tc.cond)
		if err != nil {
			t.Fatalf("parseCondition(%q): %v", tc.cond, err)
		}
		fires, v := c.eval(&r)
		if fires != tc.fires || v != tc.value {
			t.Errorf("%q: got (%v, %v), want (%v, %v)", tc.cond, fires, v, tc.fires, tc.value)
		}
	}
}

func TestEngine_FireCooldownResolve(t *testing.T) {
	m, err := observability.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	e := New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "hot", Condition: "score > 0.7", Severity: "critical", Cooldown: time.Minute},
		{Name: "broken", Condition: "nonsense"},
	}}, m)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	hot := rec(0.9, nil)
	e.Evaluate(&hot)
	active := e.Active()
	if len(active) != 1 || active[0].State != "firing" || active[0].TrackID != "T1" {
		t.Fatalf("after fire: got %+v", active)
	}

	// Within cooldown: no second alert.
	now = now.Add(30 * time.Second)
	e.Evaluate(&hot)
	if got := testutil.ToFloat64(m.AlertsFired.WithLabelValues("hot", "critical")); got != 1 {
		t.Errorf("fired counter: got %v, want 1", got)
	}

	cool := rec(0.2, nil)
	e.Evaluate(&cool)
	active = e.Active()
	if len(active) != 1 || active[0].State != "resolved" || active[0].ResolvedAt == nil {
		t.Fatalf("after resolve: got %+v", active)
	}

	// Resolved alerts age out of Active after an hour.
	now = now.Add(2 * time.Hour)
	if got := e.Active(); len(got) != 0 {
		t.Errorf("after window: got %d alerts, want 0", len(got))
	}
}

func TestEngine_KeysPerTrack(t *testing.T) {
	e := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "hot", Condition: "score > 0.5"}}}, nil)
	a := rec(0.9, nil)
	b := rec(0.9, nil)
	b.TrackID, b.TrackRef = 4, "T2"

	e.ObserveRun(context.Background(), engine.Result{Records: []types.ScoreRecord{a, b}})
	if got := len(e.Active()); got != 2 {
		t.Errorf("active: got %d, want one per track", got)
	}
}

func TestEngine_SetConfigReplacesRules(t *testing.T) {
	e := New(config.AlertsConfig{}, nil)
	r := rec(0.9, nil)
	e.Evaluate(&r)
	if len(e.Active()) != 0 {
		t.Fatal("no rules: expected no alerts")
	}
	e.SetConfig(config.AlertsConfig{Rules: []config.AlertRule{{Name: "hot", Condition: "score > 0.5"}}})
	e.Evaluate(&r)
	if len(e.Active()) != 1 {
		t.Error("after SetConfig: expected one alert")
	}
}

func TestEngine_DeliversWebhook(t *testing.T) {
	got := make(chan threatEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body threatEvent
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			got <- body
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	t.Setenv("TEST_ALERT_URL", srv.URL)

	e := New(config.AlertsConfig{
		Rules:    []config.AlertRule{{Name: "imminent", Condition: "tcpa_s < 60", Severity: "critical"}},
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_ALERT_URL"}},
	}, nil)
	r := rec(0.5, types.Float(20))
	e.Evaluate(&r)

	select {
	case body := <-got:
		if body.Event != "threat.firing" {
			t.Errorf("event: got %q", body.Event)
		}
		want := threat{ScenarioID: 1, DAName: "Alpha", TrackID: "T1", RunTag: "run", Score: 0.5, Level: "low", Value: 20}
		if body.Threat != want {
			t.Errorf("threat: got %+v, want %+v", body.Threat, want)
		}
		if body.Alert == nil || body.Alert.RuleName != "imminent" {
			t.Errorf("webhook alert: got %+v", body.Alert)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestChatPayloads_CarryThreatFields(t *testing.T) {
	bodies := make(chan map[string]any, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			bodies <- body
		}
	}))
	defer srv.Close()

	e := New(config.AlertsConfig{}, nil)
	a := &Alert{
		RuleName: "hot", ScenarioID: 1, DAName: "Alpha", TrackID: "T1", RunTag: "run",
		Severity: "critical", Score: 0.91, Level: "high", Value: 0.91, State: "firing",
	}
	if err := e.sendSlack(srv.URL, a); err != nil {
		t.Fatalf("sendSlack: %v", err)
	}
	if err := e.sendTeams(srv.URL, a); err != nil {
		t.Fatalf("sendTeams: %v", err)
	}

	for _, name := range []string{"slack", "teams"} {
		raw, _ := json.Marshal(<-bodies)
		s := string(raw)
		for _, want := range []string{"T1", "Alpha", "0.91 (high)", "run"} {
			if !strings.Contains(s, want) {
				t.Errorf("%s payload missing %q: %s", name, want, s)
			}
		}
	}
}
