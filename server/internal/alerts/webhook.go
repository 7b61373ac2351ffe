package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tewa-sim/tewa/server/internal/config"
)

// deliver sends webhook notifications for a to every target.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alert) {
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"state", a.State,
			)
		}
	}
}

// threatEvent is the body posted to generic HTTP webhooks.
type threatEvent struct {
	Event  string `json:"event"` // "threat.firing" | "threat.resolved"
	Threat threat `json:"threat"`
	Alert  *Alert `json:"alert"`
}

// threat is the scored (track, DA) pair an alert refers to.
type threat struct {
	ScenarioID int64   `json:"scenario_id"`
	DAName     string  `json:"da_name"`
	TrackID    string  `json:"track_id"`
	RunTag     string  `json:"run_tag"`
	Score      float64 `json:"score"`
	Level      string  `json:"level"`
	Value      float64 `json:"value"`
}

func threatOf(a *Alert) threat {
	return threat{
		ScenarioID: a.ScenarioID,
		DAName:     a.DAName,
		TrackID:    a.TrackID,
		RunTag:     a.RunTag,
		Score:      a.Score,
		Level:      a.Level,
		Value:      a.Value,
	}
}

// facts are the name/value pairs shown in chat cards.
func facts(a *Alert) [][2]string {
	return [][2]string{
		{"Track", a.TrackID},
		{"Defended asset", a.DAName},
		{"Scenario", fmt.Sprintf("%d", a.ScenarioID)},
		{"Score", fmt.Sprintf("%.2f (%s)", a.Score, a.Level)},
		{"Rule value", fmt.Sprintf("%.2f", a.Value)},
		{"Run", a.RunTag},
	}
}

func title(a *Alert) string {
	if a.State == "resolved" {
		return fmt.Sprintf("Resolved: %s (track %s, %s)", a.RuleName, a.TrackID, a.DAName)
	}
	return fmt.Sprintf("Threat alert: %s (track %s, %s)", a.RuleName, a.TrackID, a.DAName)
}

func (e *Engine) sendSlack(url string, a *Alert) error {
	fields := make([]map[string]string, 0, 6)
	for _, f := range facts(a) {
		fields = append(fields, map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*%s*\n%s", f[0], f[1])})
	}
	body, _ := json.Marshal(map[string]any{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), title(a)),
		"blocks": []any{
			map[string]any{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message)},
			},
			map[string]any{"type": "section", "fields": fields},
		},
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alert) error {
	teamsFacts := make([]map[string]string, 0, 6)
	for _, f := range facts(a) {
		teamsFacts = append(teamsFacts, map[string]string{"name": f[0], "value": f[1]})
	}
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      title(a),
		"text":       a.Message,
		"sections":   []any{map[string]any{"facts": teamsFacts}},
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *Alert) error {
	body, _ := json.Marshal(threatEvent{Event: "threat." + a.State, Threat: threatOf(a), Alert: a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
