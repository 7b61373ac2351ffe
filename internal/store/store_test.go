package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tewa-sim/tewa/pkg/geo"
	"github.com/tewa-sim/tewa/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// fixture is a scenario with one DA and one track, shared by the backend tests.
type fixture struct {
	scenario types.Scenario
	da       types.DefendedAsset
	track    types.Track
}

func seed(t *testing.T, s Store) fixture {
	t.Helper()
	ctx := context.Background()
	sc, err := s.PutScenario(ctx, types.Scenario{Name: "Demo", Description: "fixture"})
	if err != nil {
		t.Fatalf("PutScenario: %v", err)
	}
	da, err := s.PutDefendedAsset(ctx, types.DefendedAsset{
		ScenarioID: sc.ID, Name: "Alpha", Center: geo.LatLon{Lat: 28, Lon: 77}, RadiusKm: 5,
	})
	if err != nil {
		t.Fatalf("PutDefendedAsset: %v", err)
	}
	tr, err := s.PutTrack(ctx, types.Track{
		ScenarioID: sc.ID, Ref: "T1",
		Snapshot: &types.Kinematics{Lat: 28.1, Lon: 77, SpeedMps: 200, HeadingDeg: 540},
	})
	if err != nil {
		t.Fatalf("PutTrack: %v", err)
	}
	return fixture{scenario: sc, da: da, track: tr}
}

func record(f fixture, tag string, score float64, at time.Time) types.ScoreRecord {
	return types.ScoreRecord{
		ScenarioID: f.scenario.ID,
		DAID:       f.da.ID,
		DAName:     f.da.Name,
		TrackID:    f.track.ID,
		TrackRef:   f.track.Ref,
		RunTag:     tag,
		Method:     "linear",
		Source:     types.SourceTrack,
		SampledAt:  base,
		Components: types.Components{CPAKm: 1, TCPAS: types.Float(30), TDBKm: 11},
		Score:      score,
		Level:      "low",
		ComputedAt: at,
	}
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, open func(t *testing.T, opts Options) Store) {
	ctx := context.Background()

	t.Run("UpsertByNaturalKey", func(t *testing.T) {
		s := open(t, Options{})
		f := seed(t, s)

		again, err := s.PutScenario(ctx, types.Scenario{Name: "Demo", Description: "updated"})
		if err != nil {
			t.Fatalf("PutScenario: %v", err)
		}
		if again.ID != f.scenario.ID {
			t.Errorf("scenario id: got %d, want %d", again.ID, f.scenario.ID)
		}
		got, err := s.Scenario(ctx, f.scenario.ID)
		if err != nil || got.Description != "updated" {
			t.Errorf("Scenario: got %+v, %v", got, err)
		}

		da2, err := s.PutDefendedAsset(ctx, types.DefendedAsset{
			ScenarioID: f.scenario.ID, Name: "Alpha", Center: geo.LatLon{Lat: 28, Lon: 77}, RadiusKm: 8,
		})
		if err != nil || da2.ID != f.da.ID {
			t.Fatalf("PutDefendedAsset upsert: id %d err %v", da2.ID, err)
		}
		das, _ := s.DefendedAssets(ctx, f.scenario.ID)
		if len(das) != 1 || das[0].RadiusKm != 8 {
			t.Errorf("DefendedAssets: got %+v", das)
		}

		tr, err := s.TrackByRef(ctx, f.scenario.ID, "T1")
		if err != nil {
			t.Fatalf("TrackByRef: %v", err)
		}
		if tr.Snapshot == nil || tr.Snapshot.HeadingDeg != 180 {
			t.Errorf("snapshot heading: got %+v, want wrapped to 180", tr.Snapshot)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := open(t, Options{})
		if _, err := s.Scenario(ctx, 99); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Scenario(99): got %v, want ErrNotFound", err)
		}
		if _, err := s.DefendedAsset(ctx, 99); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("DefendedAsset(99): got %v, want ErrNotFound", err)
		}
		_, err := s.PutDefendedAsset(ctx, types.DefendedAsset{
			ScenarioID: 99, Name: "x", Center: geo.LatLon{}, RadiusKm: 1,
		})
		if !errors.Is(err, types.ErrNotFound) {
			t.Errorf("PutDefendedAsset unknown scenario: got %v, want ErrNotFound", err)
		}
		if _, err := s.ModelParams(ctx, 99); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("ModelParams(99): got %v, want ErrNotFound", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		s := open(t, Options{})
		f := seed(t, s)
		_, err := s.PutDefendedAsset(ctx, types.DefendedAsset{
			ScenarioID: f.scenario.ID, Name: "Huge", Center: geo.LatLon{}, RadiusKm: 5000,
		})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("radius 5000: got %v, want ErrInvalidInput", err)
		}
		_, err = s.PutTrack(ctx, types.Track{ScenarioID: f.scenario.ID, Ref: "bad",
			Snapshot: &types.Kinematics{SpeedMps: -1}})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("negative speed: got %v, want ErrInvalidInput", err)
		}
		if err := s.AppendScores(ctx, []types.ScoreRecord{record(f, "", 0.5, base)}); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("AppendScores without tag: got %v, want ErrInvalidInput", err)
		}
	})

	t.Run("SamplesOrderedAndUnique", func(t *testing.T) {
		s := open(t, Options{})
		f := seed(t, s)
		for _, sec := range []int{20, 0, 10} {
			err := s.AppendSample(ctx, types.TrackSample{
				TrackID: f.track.ID, T: base.Add(time.Duration(sec) * time.Second),
				Kinematics: types.Kinematics{Lat: 28, Lon: 77, SpeedMps: 100, HeadingDeg: -90},
			})
			if err != nil {
				t.Fatalf("AppendSample(%d): %v", sec, err)
			}
		}
		dup := types.TrackSample{TrackID: f.track.ID, T: base, Kinematics: types.Kinematics{Lat: 28, Lon: 77}}
		if err := s.AppendSample(ctx, dup); !errors.Is(err, types.ErrConflict) {
			t.Errorf("duplicate sample: got %v, want ErrConflict", err)
		}

		got, err := s.Samples(ctx, f.track.ID)
		if err != nil {
			t.Fatalf("Samples: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("Samples: got %d, want 3", len(got))
		}
		for i := 1; i < len(got); i++ {
			if !got[i-1].T.Before(got[i].T) {
				t.Errorf("samples not ascending at %d: %v >= %v", i, got[i-1].T, got[i].T)
			}
		}
		if got[0].HeadingDeg != 270 {
			t.Errorf("sample heading: got %v, want 270", got[0].HeadingDeg)
		}
	})

	t.Run("ParamsDefaultOnFirstUse", func(t *testing.T) {
		s := open(t, Options{})
		f := seed(t, s)
		p, err := s.ModelParams(ctx, f.scenario.ID)
		if err != nil {
			t.Fatalf("ModelParams: %v", err)
		}
		want := types.DefaultModelParams()
		want.ScenarioID = f.scenario.ID
		if p != want {
			t.Errorf("ModelParams: got %+v, want %+v", p, want)
		}

		p.WCPA = 0.9
		p.Clamp01 = false
		if err := s.PutModelParams(ctx, p); err != nil {
			t.Fatalf("PutModelParams: %v", err)
		}
		got, _ := s.ModelParams(ctx, f.scenario.ID)
		if got != p {
			t.Errorf("after put: got %+v, want %+v", got, p)
		}

		bad := p
		bad.CPAScaleKm = 0
		if err := s.PutModelParams(ctx, bad); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("zero scale: got %v, want ErrInvalidInput", err)
		}
	})

	t.Run("ScoresQueries", func(t *testing.T) {
		s := open(t, Options{})
		f := seed(t, s)
		other, err := s.PutTrack(ctx, types.Track{ScenarioID: f.scenario.ID, Ref: "T2"})
		if err != nil {
			t.Fatalf("PutTrack T2: %v", err)
		}

		run1 := []types.ScoreRecord{record(f, "run-1", 0.4, base)}
		r2 := record(f, "run-2", 0.6, base.Add(time.Minute))
		r2b := r2
		r2b.TrackID, r2b.TrackRef, r2b.Score = other.ID, other.Ref, 0.8
		run2 := []types.ScoreRecord{r2, r2b}

		if err := s.AppendScores(ctx, run1); err != nil {
			t.Fatalf("AppendScores run1: %v", err)
		}
		if err := s.AppendScores(ctx, run2); err != nil {
			t.Fatalf("AppendScores run2: %v", err)
		}
		if run1[0].ID == 0 || run2[0].ID == 0 || run2[1].ID <= run2[0].ID {
			t.Errorf("ids not assigned: %d %d %d", run1[0].ID, run2[0].ID, run2[1].ID)
		}

		byRun, _ := s.ScoresByRun(ctx, f.scenario.ID, "run-2")
		if len(byRun) != 2 {
			t.Fatalf("ScoresByRun: got %d, want 2", len(byRun))
		}
		if byRun[0].TCPAS == nil || *byRun[0].TCPAS != 30 || byRun[0].TDBS != nil {
			t.Errorf("nullable components round-trip: %+v", byRun[0].Components)
		}

		latest, err := s.LatestScore(ctx, f.scenario.ID, f.da.ID, f.track.ID, time.Time{})
		if err != nil || latest.RunTag != "run-2" {
			t.Errorf("LatestScore: got %q, %v, want run-2", latest.RunTag, err)
		}
		asOf, err := s.LatestScore(ctx, f.scenario.ID, f.da.ID, f.track.ID, base.Add(30*time.Second))
		if err != nil || asOf.RunTag != "run-1" {
			t.Errorf("LatestScore as of: got %q, %v, want run-1", asOf.RunTag, err)
		}
		if _, err := s.LatestScore(ctx, f.scenario.ID, f.da.ID, f.track.ID, base.Add(-time.Hour)); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("LatestScore before any record: got %v, want ErrNotFound", err)
		}

		per, _ := s.LatestPerTrack(ctx, f.scenario.ID, f.da.ID)
		if len(per) != 2 || per[0].TrackRef != "T2" || per[1].RunTag != "run-2" {
			t.Errorf("LatestPerTrack: got %+v", per)
		}

		series, _ := s.ScoreSeries(ctx, f.scenario.ID, f.da.ID, f.track.ID, time.Time{}, time.Time{})
		if len(series) != 2 || series[0].Score != 0.4 || series[1].Score != 0.6 {
			t.Errorf("ScoreSeries: got %+v", series)
		}
		bounded, _ := s.ScoreSeries(ctx, f.scenario.ID, f.da.ID, f.track.ID, base.Add(time.Second), time.Time{})
		if len(bounded) != 1 {
			t.Errorf("ScoreSeries from: got %d points, want 1", len(bounded))
		}

		forDA, _ := s.ScoresForDA(ctx, f.scenario.ID, f.da.ID)
		if len(forDA) != 3 {
			t.Errorf("ScoresForDA: got %d, want 3", len(forDA))
		}
		if n, _ := s.CountScores(ctx); n != 3 {
			t.Errorf("CountScores: got %d, want 3", n)
		}
	})

	t.Run("Evict", func(t *testing.T) {
		s := open(t, Options{Retention: 10 * time.Minute})
		f := seed(t, s)
		recs := []types.ScoreRecord{
			record(f, "old", 0.1, base.Add(-20*time.Minute)),
			record(f, "new", 0.2, base),
		}
		if err := s.AppendScores(ctx, recs); err != nil {
			t.Fatalf("AppendScores: %v", err)
		}
		n, err := s.Evict(ctx, base)
		if err != nil {
			t.Fatalf("Evict: %v", err)
		}
		if n != 1 {
			t.Errorf("Evict removed %d, want 1", n)
		}
		if left, _ := s.ScoresByRun(ctx, f.scenario.ID, "new"); len(left) != 1 {
			t.Errorf("record within retention was evicted")
		}
	})

	t.Run("EvictDisabled", func(t *testing.T) {
		s := open(t, Options{})
		f := seed(t, s)
		if err := s.AppendScores(ctx, []types.ScoreRecord{record(f, "old", 0.1, base.Add(-24*time.Hour))}); err != nil {
			t.Fatalf("AppendScores: %v", err)
		}
		if n, _ := s.Evict(ctx, base); n != 0 {
			t.Errorf("Evict with zero retention removed %d", n)
		}
	})
}

func TestRun_ReturnsWhenRetentionDisabled(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Run(context.Background(), NewMemory(Options{}), 0, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with retention disabled")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, NewMemory(Options{}), time.Minute, fixedClock(base))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
