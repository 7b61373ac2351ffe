// Package types defines the domain records shared by the engine, the stores,
// the server and the agent: scenarios, defended assets, tracks and their
// samples, scoring parameters and persisted score records.
//
// The JSON field names of ScoreRecord and Components are part of the public
// contract (cpa_km, tcpa_s, tdb_km, twrp_s, score) and must not change.
package types
