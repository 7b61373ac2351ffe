// Package engine orchestrates a threat evaluation run.
//
// engine.go resolves the scenario's parameters once per call, samples every
// track at the requested instant, scores each (track, DA) pair and appends the
// records to the repository under a single run tag. Tracks are evaluated in
// parallel; the output order is deterministic (track order, then DA order).
//
// when.go parses the ISO-8601 instants accepted at the API boundary.
package engine
