// Package trigger drives tewa-server from the agent in remote mode.
//
// Every interval the Trigger calls ThreatService.Compute with now=true for
// each configured scenario id, then ThreatService.Rank (latest, top_n) and
// logs the board through package report. Retryable status codes
// (Unavailable, DeadlineExceeded, ResourceExhausted, Aborted) are retried
// with truncated exponential backoff and ±25% jitter, up to max_attempts.
//
// Auth: mtls loads a client certificate and optional CA; apikey attaches the
// key from key_env under the configured metadata header on every call.
package trigger
