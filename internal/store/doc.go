// Package store persists scenarios, defended assets, tracks, samples,
// scoring parameters and score records.
//
// Memory keeps everything in maps behind a RWMutex; SQLite stores the same
// model through database/sql and github.com/mattn/go-sqlite3. Both honour a
// retention window for score records, enforced by the Run eviction loop.
package store
