// Package api implements the HTTP REST API for tewa-server.
//
// New(store, engine, alerts, opts) returns an http.Handler that serves:
//
//	GET  /api/v1/health                          scenario, record and alert counts
//	GET  /api/v1/ping                            liveness
//	GET  /api/v1/scenarios                       all scenarios
//	GET  /api/v1/scenarios/{id}                  scenario with DAs, tracks and params
//	GET  /api/v1/scenarios/{id}/params           current model parameters
//	PUT  /api/v1/scenarios/{id}/params           partial parameter update
//	POST /api/v1/scenarios/{id}/tracks/import    CSV track import
//	GET  /api/v1/scenarios/{id}/runs/{tag}       records of one compute call
//	POST /api/v1/compute                         compute at a given instant
//	POST /api/v1/compute/now                     compute at the server clock
//	GET  /api/v1/ranking                         top-N threats per DA
//	GET  /api/v1/score-breakdown                 components, factors and hints
//	GET  /api/v1/score-history                   score series of one track
//	GET  /api/v1/board                           latest ranking of every scenario
//	GET  /api/v1/alerts                          active alerts
//
// All endpoints respond with Content-Type: application/json. Errors wrapping
// types.ErrNotFound map to 404, types.ErrInvalidInput to 400 and
// types.ErrConflict to 409; anything else is a 500 with the cause logged.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
