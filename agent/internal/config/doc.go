// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section; the `server:` key is ignored
//   - AgentConfig: interval, method, weapon_range_km, top_n, log, and either
//     scenarios + storage + params (local mode) or server_endpoint +
//     scenario_ids + server_auth (remote mode)
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header, key_env;
//     Key() resolves the key from the environment
//
// Load(path) reads the YAML file, applies defaults (30s interval, top 5,
// 10s call timeout, 5 attempts, memory storage), then validates the fields of
// the selected mode.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after
// a rename event.
package config
