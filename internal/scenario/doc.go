// Package scenario loads scenario definitions and writes them into a store.
//
// A scenario file is YAML: name, description, params (a partial ModelParams),
// defended_assets and tracks with an optional snapshot and samples. Seed is
// idempotent, so the server and agent run it on every start. ImportCSV loads
// track observations in the track_id,lat,lon,alt_m,speed_mps,heading_deg,
// timestamp column layout.
package scenario
