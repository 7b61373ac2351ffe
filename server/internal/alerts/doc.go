// Package alerts evaluates threshold rules against threat score records and
// delivers webhook notifications. The Engine is registered as an observer of
// the compute engine, so every persisted run is checked; webhooks go to
// Teams, Slack or generic HTTP targets.
package alerts
