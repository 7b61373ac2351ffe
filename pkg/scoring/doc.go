// Package scoring turns the four threat sub-metrics into a single score.
//
// normalize.go provides Inv1, which maps a distance or a time into (0, 1] so
// that smaller values mean more urgency, and Clamp01.
//
// score.go provides the pure Compute(Input, ModelParams) function: a weighted
// sum of the normalized sub-metrics, optionally clamped to [0, 1], together
// with the per-factor breakdown rendered by the score-breakdown endpoint.
//
// Threat levels: High ≥0.7, Medium 0.4–0.7, Low <0.4.
package scoring
