package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/tewa-sim/tewa/pkg/types"
)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db   *sql.DB
	opts Options
}

var _ Store = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS scenarios (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    start_ns INTEGER,
    end_ns INTEGER,
    notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS defended_assets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scenario_id INTEGER NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    radius_km REAL NOT NULL,
    UNIQUE (scenario_id, name)
);

CREATE TABLE IF NOT EXISTS tracks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scenario_id INTEGER NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
    ref TEXT NOT NULL,
    has_snapshot INTEGER NOT NULL DEFAULT 0,
    lat REAL NOT NULL DEFAULT 0,
    lon REAL NOT NULL DEFAULT 0,
    alt_m REAL NOT NULL DEFAULT 0,
    speed_mps REAL NOT NULL DEFAULT 0,
    heading_deg REAL NOT NULL DEFAULT 0,
    UNIQUE (scenario_id, ref)
);

CREATE TABLE IF NOT EXISTS track_samples (
    track_id INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
    t_ns INTEGER NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    alt_m REAL NOT NULL,
    speed_mps REAL NOT NULL,
    heading_deg REAL NOT NULL,
    PRIMARY KEY (track_id, t_ns)
);

CREATE TABLE IF NOT EXISTS model_params (
    scenario_id INTEGER PRIMARY KEY REFERENCES scenarios(id) ON DELETE CASCADE,
    w_cpa REAL NOT NULL,
    w_tcpa REAL NOT NULL,
    w_tdb REAL NOT NULL,
    w_twrp REAL NOT NULL,
    cpa_scale_km REAL NOT NULL,
    tcpa_scale_s REAL NOT NULL,
    tdb_scale_km REAL NOT NULL,
    twrp_scale_s REAL NOT NULL,
    clamp_0_1 INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS threat_scores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scenario_id INTEGER NOT NULL,
    da_id INTEGER NOT NULL,
    da_name TEXT NOT NULL,
    track_id INTEGER NOT NULL,
    track_ref TEXT NOT NULL,
    run_tag TEXT NOT NULL,
    method TEXT NOT NULL,
    source TEXT NOT NULL,
    sampled_at_ns INTEGER NOT NULL,
    cpa_km REAL NOT NULL,
    tcpa_s REAL,
    tdb_km REAL NOT NULL,
    tdb_s REAL,
    twrp_s REAL,
    score REAL NOT NULL,
    level TEXT NOT NULL,
    computed_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threat_scores_run ON threat_scores(scenario_id, run_tag);
CREATE INDEX IF NOT EXISTS idx_threat_scores_key ON threat_scores(scenario_id, da_id, track_id, computed_at_ns);
CREATE INDEX IF NOT EXISTS idx_threat_scores_computed ON threat_scores(computed_at_ns);
`

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}
	dsn := path
	if !strings.Contains(dsn, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return &SQLite{db: db, opts: opts}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- time helpers ---

func toNS(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNS(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: "+format+": %w", append(args, types.ErrNotFound)...)
	}
	return fmt.Errorf("store: "+format+": %w", append(args, err)...)
}

func (s *SQLite) requireScenario(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM scenarios WHERE id = ?`, id).Scan(&one)
	if err != nil {
		return notFound(err, "scenario %d", id)
	}
	return nil
}

// --- scenarios ---

func (s *SQLite) PutScenario(ctx context.Context, sc types.Scenario) (types.Scenario, error) {
	if err := sc.Validate(); err != nil {
		return types.Scenario{}, err
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO scenarios (name, description, start_ns, end_ns, notes)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            description = excluded.description,
            start_ns = excluded.start_ns,
            end_ns = excluded.end_ns,
            notes = excluded.notes
        RETURNING id`,
		sc.Name, sc.Description, toNS(sc.StartTime), toNS(sc.EndTime), sc.Notes,
	).Scan(&sc.ID)
	if err != nil {
		return types.Scenario{}, fmt.Errorf("store: put scenario %q: %w", sc.Name, err)
	}
	return sc, nil
}

const scenarioCols = `id, name, description, start_ns, end_ns, notes`

func scanScenario(row interface{ Scan(...any) error }) (types.Scenario, error) {
	var sc types.Scenario
	var start, end sql.NullInt64
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Description, &start, &end, &sc.Notes); err != nil {
		return types.Scenario{}, err
	}
	sc.StartTime, sc.EndTime = fromNS(start), fromNS(end)
	return sc, nil
}

func (s *SQLite) Scenario(ctx context.Context, id int64) (types.Scenario, error) {
	sc, err := scanScenario(s.db.QueryRowContext(ctx, `SELECT `+scenarioCols+` FROM scenarios WHERE id = ?`, id))
	if err != nil {
		return types.Scenario{}, notFound(err, "scenario %d", id)
	}
	return sc, nil
}

func (s *SQLite) Scenarios(ctx context.Context) ([]types.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scenarioCols+` FROM scenarios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list scenarios: %w", err)
	}
	defer rows.Close()
	var out []types.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan scenario: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- defended assets ---

func (s *SQLite) PutDefendedAsset(ctx context.Context, da types.DefendedAsset) (types.DefendedAsset, error) {
	if err := da.Validate(); err != nil {
		return types.DefendedAsset{}, err
	}
	if err := s.requireScenario(ctx, da.ScenarioID); err != nil {
		return types.DefendedAsset{}, err
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO defended_assets (scenario_id, name, lat, lon, radius_km)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(scenario_id, name) DO UPDATE SET
            lat = excluded.lat, lon = excluded.lon, radius_km = excluded.radius_km
        RETURNING id`,
		da.ScenarioID, da.Name, da.Center.Lat, da.Center.Lon, da.RadiusKm,
	).Scan(&da.ID)
	if err != nil {
		return types.DefendedAsset{}, fmt.Errorf("store: put defended asset %q: %w", da.Name, err)
	}
	return da, nil
}

const daCols = `id, scenario_id, name, lat, lon, radius_km`

func scanDA(row interface{ Scan(...any) error }) (types.DefendedAsset, error) {
	var da types.DefendedAsset
	err := row.Scan(&da.ID, &da.ScenarioID, &da.Name, &da.Center.Lat, &da.Center.Lon, &da.RadiusKm)
	return da, err
}

func (s *SQLite) DefendedAsset(ctx context.Context, id int64) (types.DefendedAsset, error) {
	da, err := scanDA(s.db.QueryRowContext(ctx, `SELECT `+daCols+` FROM defended_assets WHERE id = ?`, id))
	if err != nil {
		return types.DefendedAsset{}, notFound(err, "defended asset %d", id)
	}
	return da, nil
}

func (s *SQLite) DefendedAssets(ctx context.Context, scenarioID int64) ([]types.DefendedAsset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+daCols+` FROM defended_assets WHERE scenario_id = ? ORDER BY id`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("store: list defended assets: %w", err)
	}
	defer rows.Close()
	var out []types.DefendedAsset
	for rows.Next() {
		da, err := scanDA(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan defended asset: %w", err)
		}
		out = append(out, da)
	}
	return out, rows.Err()
}

// --- tracks ---

func (s *SQLite) PutTrack(ctx context.Context, t types.Track) (types.Track, error) {
	t, err := normalizeTrack(t)
	if err != nil {
		return types.Track{}, err
	}
	if err := s.requireScenario(ctx, t.ScenarioID); err != nil {
		return types.Track{}, err
	}
	var k types.Kinematics
	has := 0
	if t.Snapshot != nil {
		k, has = *t.Snapshot, 1
	}
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO tracks (scenario_id, ref, has_snapshot, lat, lon, alt_m, speed_mps, heading_deg)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(scenario_id, ref) DO UPDATE SET
            has_snapshot = excluded.has_snapshot,
            lat = excluded.lat, lon = excluded.lon, alt_m = excluded.alt_m,
            speed_mps = excluded.speed_mps, heading_deg = excluded.heading_deg
        RETURNING id`,
		t.ScenarioID, t.Ref, has, k.Lat, k.Lon, k.AltM, k.SpeedMps, k.HeadingDeg,
	).Scan(&t.ID)
	if err != nil {
		return types.Track{}, fmt.Errorf("store: put track %q: %w", t.Ref, err)
	}
	return t, nil
}

const trackCols = `id, scenario_id, ref, has_snapshot, lat, lon, alt_m, speed_mps, heading_deg`

func scanTrack(row interface{ Scan(...any) error }) (types.Track, error) {
	var t types.Track
	var has int
	var k types.Kinematics
	if err := row.Scan(&t.ID, &t.ScenarioID, &t.Ref, &has, &k.Lat, &k.Lon, &k.AltM, &k.SpeedMps, &k.HeadingDeg); err != nil {
		return types.Track{}, err
	}
	if has != 0 {
		t.Snapshot = &k
	}
	return t, nil
}

func (s *SQLite) Tracks(ctx context.Context, scenarioID int64) ([]types.Track, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trackCols+` FROM tracks WHERE scenario_id = ? ORDER BY id`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("store: list tracks: %w", err)
	}
	defer rows.Close()
	var out []types.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan track: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) TrackByRef(ctx context.Context, scenarioID int64, ref string) (types.Track, error) {
	t, err := scanTrack(s.db.QueryRowContext(ctx,
		`SELECT `+trackCols+` FROM tracks WHERE scenario_id = ? AND ref = ?`, scenarioID, ref))
	if err != nil {
		return types.Track{}, notFound(err, "track %q in scenario %d", ref, scenarioID)
	}
	return t, nil
}

// --- samples ---

func (s *SQLite) AppendSample(ctx context.Context, smp types.TrackSample) error {
	k, err := smp.Kinematics.Normalize()
	if err != nil {
		return fmt.Errorf("store: sample: %w", err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tracks WHERE id = ?`, smp.TrackID).Scan(&one); err != nil {
		return notFound(err, "track %d", smp.TrackID)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO track_samples (track_id, t_ns, lat, lon, alt_m, speed_mps, heading_deg)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		smp.TrackID, smp.T.UnixNano(), k.Lat, k.Lon, k.AltM, k.SpeedMps, k.HeadingDeg)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("store: sample for track %d at %s: %w",
				smp.TrackID, smp.T.UTC().Format(time.RFC3339Nano), types.ErrConflict)
		}
		return fmt.Errorf("store: append sample: %w", err)
	}
	return nil
}

func (s *SQLite) Samples(ctx context.Context, trackID int64) ([]types.TrackSample, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT t_ns, lat, lon, alt_m, speed_mps, heading_deg
        FROM track_samples WHERE track_id = ? ORDER BY t_ns`, trackID)
	if err != nil {
		return nil, fmt.Errorf("store: list samples: %w", err)
	}
	defer rows.Close()
	var out []types.TrackSample
	for rows.Next() {
		smp := types.TrackSample{TrackID: trackID}
		var ns int64
		if err := rows.Scan(&ns, &smp.Lat, &smp.Lon, &smp.AltM, &smp.SpeedMps, &smp.HeadingDeg); err != nil {
			return nil, fmt.Errorf("store: scan sample: %w", err)
		}
		smp.T = time.Unix(0, ns).UTC()
		out = append(out, smp)
	}
	return out, rows.Err()
}

// --- params ---

func (s *SQLite) ModelParams(ctx context.Context, scenarioID int64) (types.ModelParams, error) {
	if err := s.requireScenario(ctx, scenarioID); err != nil {
		return types.ModelParams{}, err
	}
	p := s.opts.defaults()
	p.ScenarioID = scenarioID
	var clamp int
	err := s.db.QueryRowContext(ctx, `
        SELECT w_cpa, w_tcpa, w_tdb, w_twrp, cpa_scale_km, tcpa_scale_s, tdb_scale_km, twrp_scale_s, clamp_0_1
        FROM model_params WHERE scenario_id = ?`, scenarioID,
	).Scan(&p.WCPA, &p.WTCPA, &p.WTDB, &p.WTWRP, &p.CPAScaleKm, &p.TCPAScaleS, &p.TDBScaleKm, &p.TWRPScaleS, &clamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.insertParams(ctx, p, "INSERT OR IGNORE"); err != nil {
			return types.ModelParams{}, err
		}
		// A concurrent writer may have won the insert; read back the row.
		return s.ModelParams(ctx, scenarioID)
	case err != nil:
		return types.ModelParams{}, fmt.Errorf("store: params for scenario %d: %w", scenarioID, err)
	}
	p.Clamp01 = clamp != 0
	return p, nil
}

func (s *SQLite) PutModelParams(ctx context.Context, p types.ModelParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.requireScenario(ctx, p.ScenarioID); err != nil {
		return err
	}
	return s.insertParams(ctx, p, "INSERT OR REPLACE")
}

func (s *SQLite) insertParams(ctx context.Context, p types.ModelParams, verb string) error {
	clamp := 0
	if p.Clamp01 {
		clamp = 1
	}
	_, err := s.db.ExecContext(ctx, verb+` INTO model_params
        (scenario_id, w_cpa, w_tcpa, w_tdb, w_twrp, cpa_scale_km, tcpa_scale_s, tdb_scale_km, twrp_scale_s, clamp_0_1)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ScenarioID, p.WCPA, p.WTCPA, p.WTDB, p.WTWRP, p.CPAScaleKm, p.TCPAScaleS, p.TDBScaleKm, p.TWRPScaleS, clamp)
	if err != nil {
		return fmt.Errorf("store: write params for scenario %d: %w", p.ScenarioID, err)
	}
	return nil
}

// --- scores ---

func (s *SQLite) AppendScores(ctx context.Context, recs []types.ScoreRecord) error {
	for i := range recs {
		if recs[i].RunTag == "" {
			return fmt.Errorf("store: score record without run tag: %w", types.ErrInvalidInput)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO threat_scores (scenario_id, da_id, da_name, track_id, track_ref, run_tag, method, source,
            sampled_at_ns, cpa_km, tcpa_s, tdb_km, tdb_s, twrp_s, score, level, computed_at_ns)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		r := &recs[i]
		res, err := stmt.ExecContext(ctx,
			r.ScenarioID, r.DAID, r.DAName, r.TrackID, r.TrackRef, r.RunTag, r.Method, string(r.Source),
			r.SampledAt.UnixNano(), r.CPAKm, nullFloat(r.TCPAS), r.TDBKm, nullFloat(r.TDBS), nullFloat(r.TWRPS),
			r.Score, r.Level, r.ComputedAt.UnixNano())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert score: %w", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: score id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit scores: %w", err)
	}
	return nil
}

const scoreCols = `id, scenario_id, da_id, da_name, track_id, track_ref, run_tag, method, source,
    sampled_at_ns, cpa_km, tcpa_s, tdb_km, tdb_s, twrp_s, score, level, computed_at_ns`

func scanScore(row interface{ Scan(...any) error }) (types.ScoreRecord, error) {
	var r types.ScoreRecord
	var source string
	var sampled, computed int64
	var tcpa, tdb, twrp sql.NullFloat64
	err := row.Scan(&r.ID, &r.ScenarioID, &r.DAID, &r.DAName, &r.TrackID, &r.TrackRef, &r.RunTag, &r.Method, &source,
		&sampled, &r.CPAKm, &tcpa, &r.TDBKm, &tdb, &twrp, &r.Score, &r.Level, &computed)
	if err != nil {
		return types.ScoreRecord{}, err
	}
	r.Source = types.Source(source)
	r.SampledAt = time.Unix(0, sampled).UTC()
	r.ComputedAt = time.Unix(0, computed).UTC()
	r.TCPAS, r.TDBS, r.TWRPS = floatPtr(tcpa), floatPtr(tdb), floatPtr(twrp)
	return r, nil
}

func (s *SQLite) queryScores(ctx context.Context, query string, args ...any) ([]types.ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scoreCols+` FROM threat_scores `+query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query scores: %w", err)
	}
	defer rows.Close()
	var out []types.ScoreRecord
	for rows.Next() {
		r, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan score: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) ScoresByRun(ctx context.Context, scenarioID int64, runTag string) ([]types.ScoreRecord, error) {
	return s.queryScores(ctx, `WHERE scenario_id = ? AND run_tag = ? ORDER BY id`, scenarioID, runTag)
}

func (s *SQLite) ScoresForDA(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error) {
	return s.queryScores(ctx, `WHERE scenario_id = ? AND da_id = ? ORDER BY id`, scenarioID, daID)
}

func (s *SQLite) LatestScore(ctx context.Context, scenarioID, daID, trackID int64, at time.Time) (types.ScoreRecord, error) {
	q := `SELECT ` + scoreCols + ` FROM threat_scores WHERE scenario_id = ? AND da_id = ? AND track_id = ?`
	args := []any{scenarioID, daID, trackID}
	if !at.IsZero() {
		q += ` AND computed_at_ns <= ?`
		args = append(args, at.UnixNano())
	}
	q += ` ORDER BY computed_at_ns DESC, id DESC LIMIT 1`
	r, err := scanScore(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return types.ScoreRecord{}, notFound(err, "score for scenario %d, DA %d, track %d", scenarioID, daID, trackID)
	}
	return r, nil
}

func (s *SQLite) LatestPerTrack(ctx context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error) {
	recs, err := s.queryScores(ctx, `
        WHERE id IN (
            SELECT (SELECT t2.id FROM threat_scores t2
                    WHERE t2.scenario_id = t1.scenario_id AND t2.da_id = t1.da_id AND t2.track_id = t1.track_id
                    ORDER BY t2.computed_at_ns DESC, t2.id DESC LIMIT 1)
            FROM threat_scores t1
            WHERE t1.scenario_id = ? AND t1.da_id = ?
            GROUP BY t1.track_id
        )`, scenarioID, daID)
	if err != nil {
		return nil, err
	}
	sortByScore(recs)
	return recs, nil
}

func (s *SQLite) ScoreSeries(ctx context.Context, scenarioID, daID, trackID int64, from, to time.Time) ([]types.SeriesPoint, error) {
	q := `SELECT computed_at_ns, score FROM threat_scores WHERE scenario_id = ? AND da_id = ? AND track_id = ?`
	args := []any{scenarioID, daID, trackID}
	if !from.IsZero() {
		q += ` AND computed_at_ns >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		q += ` AND computed_at_ns <= ?`
		args = append(args, to.UnixNano())
	}
	q += ` ORDER BY computed_at_ns, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: score series: %w", err)
	}
	defer rows.Close()
	var out []types.SeriesPoint
	for rows.Next() {
		var ns int64
		var p types.SeriesPoint
		if err := rows.Scan(&ns, &p.Score); err != nil {
			return nil, fmt.Errorf("store: scan series point: %w", err)
		}
		p.ComputedAt = time.Unix(0, ns).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) CountScores(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threat_scores`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count scores: %w", err)
	}
	return n, nil
}

func (s *SQLite) Evict(ctx context.Context, now time.Time) (int, error) {
	if s.opts.Retention <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM threat_scores WHERE computed_at_ns <= ?`,
		now.Add(-s.opts.Retention).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: evict scores: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Run evicts expired records until ctx is cancelled.
func (s *SQLite) Run(ctx context.Context) {
	Run(ctx, s, s.opts.Retention, s.opts.clock())
}
