// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort     : port for the ThreatService (default 50051)
//   - HTTPPort     : port for the REST API, /metrics and the WebSocket board (default 8080)
//   - Log          : slog level and json|text format
//   - Auth         : "apikey" or "none", KeyEnv and Header (default "x-api-key")
//   - Storage      : memory|sqlite backend, SQLite path, score retention
//   - Engine       : worker bound and default sampling method
//   - Params       : overrides of the default model parameters
//   - Scenarios    : scenario YAML files seeded at startup
//   - Broadcast    : board push interval and top-N
//   - Alerts       : rules over score records and webhook targets
//   - Tracing      : OpenTelemetry exporter settings
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change; the server applies new alert rules and log
// level without restarting.
package config
