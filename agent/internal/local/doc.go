// Package local runs the engine inside the agent when no server endpoint is
// configured.
//
// Seed loads the configured scenario files into the agent's store, Watch
// reseeds a file when it changes, and Run computes every stored scenario at
// each interval, then logs its newest top_n threats per DA.
package local
