package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tewa-sim/tewa/pkg/types"
)

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu sync.RWMutex

	scenarios map[int64]types.Scenario
	das       map[int64]types.DefendedAsset
	tracks    map[int64]types.Track
	samples   map[int64][]types.TrackSample // per track, ordered by T
	params    map[int64]types.ModelParams
	records   []types.ScoreRecord // ordered by ID

	nextID    int64
	nextScore int64
	opts      Options
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{
		scenarios: make(map[int64]types.Scenario),
		das:       make(map[int64]types.DefendedAsset),
		tracks:    make(map[int64]types.Track),
		samples:   make(map[int64][]types.TrackSample),
		params:    make(map[int64]types.ModelParams),
		opts:      opts,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// PutScenario upserts by name.
func (m *Memory) PutScenario(_ context.Context, s types.Scenario) (types.Scenario, error) {
	if err := s.Validate(); err != nil {
		return types.Scenario{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.scenarios {
		if existing.Name == s.Name {
			s.ID = id
			m.scenarios[id] = s
			return s, nil
		}
	}
	s.ID = m.id()
	m.scenarios[s.ID] = s
	return s, nil
}

func (m *Memory) Scenario(_ context.Context, id int64) (types.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[id]
	if !ok {
		return types.Scenario{}, fmt.Errorf("store: scenario %d: %w", id, types.ErrNotFound)
	}
	return s, nil
}

func (m *Memory) Scenarios(_ context.Context) ([]types.Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Scenario, 0, len(m.scenarios))
	for _, s := range m.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutDefendedAsset upserts by (scenario, name).
func (m *Memory) PutDefendedAsset(_ context.Context, da types.DefendedAsset) (types.DefendedAsset, error) {
	if err := da.Validate(); err != nil {
		return types.DefendedAsset{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[da.ScenarioID]; !ok {
		return types.DefendedAsset{}, fmt.Errorf("store: scenario %d: %w", da.ScenarioID, types.ErrNotFound)
	}
	for id, existing := range m.das {
		if existing.ScenarioID == da.ScenarioID && existing.Name == da.Name {
			da.ID = id
			m.das[id] = da
			return da, nil
		}
	}
	da.ID = m.id()
	m.das[da.ID] = da
	return da, nil
}

func (m *Memory) DefendedAsset(_ context.Context, id int64) (types.DefendedAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	da, ok := m.das[id]
	if !ok {
		return types.DefendedAsset{}, fmt.Errorf("store: defended asset %d: %w", id, types.ErrNotFound)
	}
	return da, nil
}

func (m *Memory) DefendedAssets(_ context.Context, scenarioID int64) ([]types.DefendedAsset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.DefendedAsset
	for _, da := range m.das {
		if da.ScenarioID == scenarioID {
			out = append(out, da)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutTrack upserts by (scenario, ref). A non-nil snapshot is validated and
// its heading wrapped.
func (m *Memory) PutTrack(_ context.Context, t types.Track) (types.Track, error) {
	t, err := normalizeTrack(t)
	if err != nil {
		return types.Track{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[t.ScenarioID]; !ok {
		return types.Track{}, fmt.Errorf("store: scenario %d: %w", t.ScenarioID, types.ErrNotFound)
	}
	for id, existing := range m.tracks {
		if existing.ScenarioID == t.ScenarioID && existing.Ref == t.Ref {
			t.ID = id
			m.tracks[id] = t
			return t, nil
		}
	}
	t.ID = m.id()
	m.tracks[t.ID] = t
	return t, nil
}

func (m *Memory) Tracks(_ context.Context, scenarioID int64) ([]types.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Track
	for _, t := range m.tracks {
		if t.ScenarioID == scenarioID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TrackByRef(_ context.Context, scenarioID int64, ref string) (types.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tracks {
		if t.ScenarioID == scenarioID && t.Ref == ref {
			return t, nil
		}
	}
	return types.Track{}, fmt.Errorf("store: track %q in scenario %d: %w", ref, scenarioID, types.ErrNotFound)
}

func (m *Memory) AppendSample(_ context.Context, s types.TrackSample) error {
	k, err := s.Kinematics.Normalize()
	if err != nil {
		return fmt.Errorf("store: sample: %w", err)
	}
	s.Kinematics = k
	s.T = s.T.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracks[s.TrackID]; !ok {
		return fmt.Errorf("store: track %d: %w", s.TrackID, types.ErrNotFound)
	}
	list := m.samples[s.TrackID]
	i := sort.Search(len(list), func(i int) bool { return !list[i].T.Before(s.T) })
	if i < len(list) && list[i].T.Equal(s.T) {
		return fmt.Errorf("store: sample for track %d at %s: %w", s.TrackID, s.T.Format(time.RFC3339Nano), types.ErrConflict)
	}
	list = append(list, types.TrackSample{})
	copy(list[i+1:], list[i:])
	list[i] = s
	m.samples[s.TrackID] = list
	return nil
}

func (m *Memory) Samples(_ context.Context, trackID int64) ([]types.TrackSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.samples[trackID]
	out := make([]types.TrackSample, len(list))
	copy(out, list)
	return out, nil
}

func (m *Memory) ModelParams(_ context.Context, scenarioID int64) (types.ModelParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[scenarioID]; !ok {
		return types.ModelParams{}, fmt.Errorf("store: scenario %d: %w", scenarioID, types.ErrNotFound)
	}
	if p, ok := m.params[scenarioID]; ok {
		return p, nil
	}
	p := m.opts.defaults()
	p.ScenarioID = scenarioID
	m.params[scenarioID] = p
	return p, nil
}

func (m *Memory) PutModelParams(_ context.Context, p types.ModelParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[p.ScenarioID]; !ok {
		return fmt.Errorf("store: scenario %d: %w", p.ScenarioID, types.ErrNotFound)
	}
	m.params[p.ScenarioID] = p
	return nil
}

func (m *Memory) AppendScores(_ context.Context, recs []types.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range recs {
		if recs[i].RunTag == "" {
			return fmt.Errorf("store: score record without run tag: %w", types.ErrInvalidInput)
		}
	}
	for i := range recs {
		m.nextScore++
		recs[i].ID = m.nextScore
		m.records = append(m.records, recs[i])
	}
	return nil
}

func (m *Memory) filter(keep func(r *types.ScoreRecord) bool) []types.ScoreRecord {
	var out []types.ScoreRecord
	for i := range m.records {
		if keep(&m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	return out
}

func (m *Memory) ScoresByRun(_ context.Context, scenarioID int64, runTag string) ([]types.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(r *types.ScoreRecord) bool {
		return r.ScenarioID == scenarioID && r.RunTag == runTag
	}), nil
}

func (m *Memory) ScoresForDA(_ context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(func(r *types.ScoreRecord) bool {
		return r.ScenarioID == scenarioID && r.DAID == daID
	}), nil
}

func (m *Memory) LatestScore(_ context.Context, scenarioID, daID, trackID int64, at time.Time) (types.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *types.ScoreRecord
	for i := range m.records {
		r := &m.records[i]
		if r.ScenarioID != scenarioID || r.DAID != daID || r.TrackID != trackID {
			continue
		}
		if !at.IsZero() && r.ComputedAt.After(at) {
			continue
		}
		if best == nil || newer(r, best) {
			best = r
		}
	}
	if best == nil {
		return types.ScoreRecord{}, fmt.Errorf("store: score for scenario %d, DA %d, track %d: %w",
			scenarioID, daID, trackID, types.ErrNotFound)
	}
	return *best, nil
}

func (m *Memory) LatestPerTrack(_ context.Context, scenarioID, daID int64) ([]types.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	latest := make(map[int64]*types.ScoreRecord)
	for i := range m.records {
		r := &m.records[i]
		if r.ScenarioID != scenarioID || r.DAID != daID {
			continue
		}
		if cur, ok := latest[r.TrackID]; !ok || newer(r, cur) {
			latest[r.TrackID] = r
		}
	}
	out := make([]types.ScoreRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, *r)
	}
	sortByScore(out)
	return out, nil
}

func (m *Memory) ScoreSeries(_ context.Context, scenarioID, daID, trackID int64, from, to time.Time) ([]types.SeriesPoint, error) {
	m.mu.RLock()
	recs := m.filter(func(r *types.ScoreRecord) bool {
		return r.ScenarioID == scenarioID && r.DAID == daID && r.TrackID == trackID &&
			(from.IsZero() || !r.ComputedAt.Before(from)) &&
			(to.IsZero() || !r.ComputedAt.After(to))
	})
	m.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool { return newer(&recs[j], &recs[i]) })
	out := make([]types.SeriesPoint, len(recs))
	for i, r := range recs {
		out[i] = types.SeriesPoint{ComputedAt: r.ComputedAt, Score: r.Score}
	}
	return out, nil
}

func (m *Memory) CountScores(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *Memory) Evict(_ context.Context, now time.Time) (int, error) {
	if m.opts.Retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-m.opts.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.ComputedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(m.records) - len(kept)
	m.records = kept
	return removed, nil
}

// Run evicts expired records until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	Run(ctx, m, m.opts.Retention, m.opts.clock())
}

func (m *Memory) Close() error { return nil }

// newer reports whether a is more recent than b by ComputedAt then ID.
func newer(a, b *types.ScoreRecord) bool {
	if !a.ComputedAt.Equal(b.ComputedAt) {
		return a.ComputedAt.After(b.ComputedAt)
	}
	return a.ID > b.ID
}

// sortByScore orders records by score descending, newest first on ties.
func sortByScore(recs []types.ScoreRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return newer(&recs[i], &recs[j])
	})
}

func normalizeTrack(t types.Track) (types.Track, error) {
	if t.Ref == "" {
		return t, fmt.Errorf("store: track ref is required: %w", types.ErrInvalidInput)
	}
	if t.Snapshot != nil {
		k, err := t.Snapshot.Normalize()
		if err != nil {
			return t, fmt.Errorf("store: track %q snapshot: %w", t.Ref, err)
		}
		t.Snapshot = &k
	}
	return t, nil
}
