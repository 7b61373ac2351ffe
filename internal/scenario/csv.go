package scenario

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/store"
	"github.com/tewa-sim/tewa/pkg/types"
)

// csvColumns are the required header names of a track import.
var csvColumns = []string{"track_id", "lat", "lon", "alt_m", "speed_mps", "heading_deg", "timestamp"}

// ImportResult summarizes a CSV import. Row numbers in Errors are 1-based
// and exclude the header.
type ImportResult struct {
	RowsProcessed  int      `json:"rows_processed"`
	TracksCreated  int      `json:"tracks_created"`
	SamplesCreated int      `json:"samples_created"`
	Errors         []string `json:"errors"`
}

type csvRow struct {
	ref string
	t   time.Time
	k   types.Kinematics
}

// ImportCSV reads track observations from r into the scenario. Each row
// becomes a sample; a track missing from the scenario is created. A track's
// snapshot is set to its newest row unless the track already holds a sample
// at or after that row. Bad rows are reported and skipped;
// samples already present are ignored.
func ImportCSV(ctx context.Context, st store.Store, scenarioID int64, r io.Reader) (ImportResult, error) {
	res := ImportResult{Errors: []string{}}
	if _, err := st.Scenario(ctx, scenarioID); err != nil {
		return res, fmt.Errorf("scenario: import: %w", err)
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("scenario: import: read header: %w", types.ErrInvalidInput)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := col[c]; !ok {
			return res, fmt.Errorf("scenario: import: missing column %q: %w", c, types.ErrInvalidInput)
		}
	}

	var rows []csvRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		res.RowsProcessed++
		var perr *csv.ParseError
		if err != nil && !errors.As(err, &perr) {
			return res, fmt.Errorf("scenario: import: %w", err)
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", res.RowsProcessed, err))
			continue
		}
		row, skip, err := parseRow(rec, col)
		switch {
		case skip:
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", res.RowsProcessed, err))
		default:
			rows = append(rows, row)
		}
	}

	latest := make(map[string]csvRow)
	var order []string
	for _, row := range rows {
		cur, ok := latest[row.ref]
		if !ok {
			order = append(order, row.ref)
		}
		if !ok || row.t.After(cur.t) {
			latest[row.ref] = row
		}
	}

	trackIDs := make(map[string]int64, len(order))
	for _, ref := range order {
		row := latest[ref]
		existing, err := st.TrackByRef(ctx, scenarioID, ref)
		switch {
		case errors.Is(err, types.ErrNotFound):
			res.TracksCreated++
		case err != nil:
			return res, fmt.Errorf("scenario: import track %q: %w", ref, err)
		default:
			newer, err := newerThanStored(ctx, st, existing, row.t)
			if err != nil {
				return res, fmt.Errorf("scenario: import track %q: %w", ref, err)
			}
			if !newer {
				trackIDs[ref] = existing.ID
				continue
			}
		}
		snap := row.k
		tr, err := st.PutTrack(ctx, types.Track{ScenarioID: scenarioID, Ref: ref, Snapshot: &snap})
		if err != nil {
			return res, fmt.Errorf("scenario: import track %q: %w", ref, err)
		}
		trackIDs[ref] = tr.ID
	}

	for _, row := range rows {
		err := st.AppendSample(ctx, types.TrackSample{TrackID: trackIDs[row.ref], T: row.t, Kinematics: row.k})
		switch {
		case errors.Is(err, types.ErrConflict):
		case err != nil:
			return res, fmt.Errorf("scenario: import sample for %q: %w", row.ref, err)
		default:
			res.SamplesCreated++
		}
	}
	return res, nil
}

// newerThanStored reports whether t is after every stored sample of tr. A
// snapshot carries no timestamp, so a track without samples is always older.
func newerThanStored(ctx context.Context, st store.Store, tr types.Track, t time.Time) (bool, error) {
	samples, err := st.Samples(ctx, tr.ID)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		return true, nil
	}
	return t.After(samples[len(samples)-1].T), nil
}

func parseRow(rec []string, col map[string]int) (csvRow, bool, error) {
	field := func(name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	ref := field("track_id")
	if ref == "" {
		return csvRow{}, true, nil
	}

	var missing []string
	for _, c := range csvColumns {
		if field(c) == "" {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return csvRow{}, false, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	var vals [5]float64
	for i, name := range csvColumns[1:6] {
		v, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return csvRow{}, false, fmt.Errorf("%s: %q is not a number", name, field(name))
		}
		vals[i] = v
	}
	k, err := types.Kinematics{Lat: vals[0], Lon: vals[1], AltM: vals[2], SpeedMps: vals[3], HeadingDeg: vals[4]}.Normalize()
	if err != nil {
		return csvRow{}, false, err
	}
	t, err := engine.ParseWhen(field("timestamp"))
	if err != nil {
		return csvRow{}, false, fmt.Errorf("bad timestamp %q", field("timestamp"))
	}
	return csvRow{ref: ref, t: t, k: k}, false, nil
}
