package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/observability"
	"github.com/tewa-sim/tewa/pkg/types"
	"github.com/tewa-sim/tewa/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	ScenarioID int64      `json:"scenario_id"`
	DAName     string     `json:"da_name"`
	TrackID    string     `json:"track_id"`
	RunTag     string     `json:"run_tag"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Score      float64    `json:"score"`
	Level      string     `json:"level"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against the records of every compute run and
// delivers webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []rule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "rule:scenario:da:track"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	client  *http.Client
	metrics *observability.Metrics
	now     func() time.Time
}

var _ engine.Observer = (*Engine)(nil)

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; ObserveRun becomes a no-op.
func New(cfg config.AlertsConfig, m *observability.Metrics) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		metrics:  m,
		now:      time.Now,
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig replaces rules and webhooks. Rules whose condition does not parse
// are logged and dropped. Active alerts of removed rules are kept until they
// resolve or age out.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: ignoring rule", "rule", r.Name, "err", err)
			continue
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}
	e.mu.Lock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	e.mu.Unlock()
}

// ObserveRun evaluates the run's records.
func (e *Engine) ObserveRun(_ context.Context, res engine.Result) {
	for i := range res.Records {
		e.Evaluate(&res.Records[i])
	}
}

func alertKey(ruleName string, r *types.ScoreRecord) string {
	return fmt.Sprintf("%s:%d:%d:%d", ruleName, r.ScenarioID, r.DAID, r.TrackID)
}

// Evaluate tests all configured rules against one score record.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(r *types.ScoreRecord) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if len(rules) == 0 {
		return
	}

	now := e.now()
	for _, rl := range rules {
		key := alertKey(rl.Name, r)
		fires, value := rl.cond.eval(r)

		e.mu.Lock()
		if fires {
			cooldown := rl.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if now.Sub(e.lastFire[key]) <= cooldown {
				e.mu.Unlock()
				continue
			}
			sev := rl.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &Alert{
				ID:         fmt.Sprintf("%s:%d", key, now.UnixNano()),
				RuleName:   rl.Name,
				ScenarioID: r.ScenarioID,
				DAName:     r.DAName,
				TrackID:    r.TrackRef,
				RunTag:     r.RunTag,
				Severity:   sev,
				Value:      value,
				Score:      r.Score,
				Level:      r.Level,
				Message: fmt.Sprintf("[%s] %s fired for track %s on %s: %s (value %.2f, score %.2f)",
					sev, rl.Name, r.TrackRef, r.DAName, rl.Condition, value, r.Score),
				FiredAt: now,
				State:   "firing",
			}
			e.active[key] = a
			e.lastFire[key] = now
			alertCopy := *a
			webhooks := e.webhooks
			e.mu.Unlock()

			slog.Warn("alerts: fired",
				"rule", rl.Name,
				"scenario", r.ScenarioID,
				"da", r.DAName,
				"track", r.TrackRef,
				"value", value,
				"severity", sev,
			)
			e.metrics.AlertFired(rl.Name, sev)
			go e.deliver(webhooks, &alertCopy)
			continue
		}

		a, ok := e.active[key]
		if !ok || a.State != "firing" {
			e.mu.Unlock()
			continue
		}
		resolved := now
		a.State = "resolved"
		a.ResolvedAt = &resolved
		delete(e.active, key)

		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		alertCopy := *a
		webhooks := e.webhooks
		e.mu.Unlock()

		slog.Info("alerts: resolved",
			"rule", rl.Name,
			"da", r.DAName,
			"track", r.TrackRef,
		)
		go e.deliver(webhooks, &alertCopy)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}
