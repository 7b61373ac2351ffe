package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/ranker"
	"github.com/tewa-sim/tewa/internal/scenario"
	"github.com/tewa-sim/tewa/internal/store"
	"github.com/tewa-sim/tewa/pkg/geo"
	"github.com/tewa-sim/tewa/pkg/sampler"
	"github.com/tewa-sim/tewa/pkg/scoring"
	"github.com/tewa-sim/tewa/pkg/types"
	"github.com/tewa-sim/tewa/server/internal/alerts"
)

// maxImportBytes caps the body of a CSV track import.
const maxImportBytes = 10 << 20

// AlertSource lists the currently active alerts. *alerts.Engine implements it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Options tunes the handler. The zero value is usable.
type Options struct {
	// DefaultMethod is the sampling method used when a compute request names
	// none. Empty means linear.
	DefaultMethod string
	// BoardTopN bounds each DA list of GET /api/v1/board when the request
	// gives no top_n. Zero means ranker.DefaultTopN.
	BoardTopN int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  store.Store
	engine *engine.Engine
	alerts AlertSource
	opts   Options
	mux    *http.ServeMux
}

// New creates a Handler over st and eng and registers all routes. al may be
// nil, in which case GET /api/v1/alerts returns an empty list.
func New(st store.Store, eng *engine.Engine, al AlertSource, opts Options) http.Handler {
	h := &Handler{store: st, engine: eng, alerts: al, opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /api/v1/health", h.health)
	h.mux.HandleFunc("GET /api/v1/ping", h.ping)
	h.mux.HandleFunc("GET /api/v1/scenarios", h.listScenarios)
	h.mux.HandleFunc("GET /api/v1/scenarios/{id}", h.getScenario)
	h.mux.HandleFunc("GET /api/v1/scenarios/{id}/params", h.getParams)
	h.mux.HandleFunc("PUT /api/v1/scenarios/{id}/params", h.putParams)
	h.mux.HandleFunc("POST /api/v1/scenarios/{id}/tracks/import", h.importTracks)
	h.mux.HandleFunc("GET /api/v1/scenarios/{id}/runs/{tag}", h.getRun)
	h.mux.HandleFunc("POST /api/v1/compute", h.compute)
	h.mux.HandleFunc("POST /api/v1/compute/now", h.computeNow)
	h.mux.HandleFunc("GET /api/v1/ranking", h.ranking)
	h.mux.HandleFunc("GET /api/v1/score-breakdown", h.breakdown)
	h.mux.HandleFunc("GET /api/v1/score-history", h.history)
	h.mux.HandleFunc("GET /api/v1/board", h.board)
	h.mux.HandleFunc("GET /api/v1/alerts", h.listAlerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: scenario, record and alert counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.store.Scenarios(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.store.CountScores(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := HealthResponse{
		Status:        "ok",
		ScenarioCount: len(scenarios),
		ScoreRecords:  n,
		Time:          time.Now().UTC().Format(time.RFC3339),
	}
	if h.alerts != nil {
		resp.AlertCount = len(h.alerts.Active())
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) ping(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{"status": "pong"})
}

// listScenarios returns GET /api/v1/scenarios.
func (h *Handler) listScenarios(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.Scenarios(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []types.Scenario{}
	}
	jsonResp(w, http.StatusOK, out)
}

// getScenario returns GET /api/v1/scenarios/{id}: the scenario with its DAs,
// tracks and parameters.
func (h *Handler) getScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	sc, err := h.store.Scenario(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	das, err := h.store.DefendedAssets(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	tracks, err := h.store.Tracks(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	params, err := h.store.ModelParams(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if das == nil {
		das = []types.DefendedAsset{}
	}
	if tracks == nil {
		tracks = []types.Track{}
	}
	jsonResp(w, http.StatusOK, ScenarioDetail{Scenario: sc, DefendedAssets: das, Tracks: tracks, Params: params})
}

// getParams returns GET /api/v1/scenarios/{id}/params.
func (h *Handler) getParams(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.Scenario(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	p, err := h.store.ModelParams(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// putParams applies a partial update to the scenario's parameters. Unknown
// fields and invalid values are rejected and nothing is stored.
func (h *Handler) putParams(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch types.ParamsPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid params body: "+err.Error())
		return
	}
	ctx := r.Context()
	if _, err := h.store.Scenario(ctx, id); err != nil {
		writeErr(w, err)
		return
	}
	cur, err := h.store.ModelParams(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	next, err := cur.Apply(patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	next.ScenarioID = id
	if err := h.store.PutModelParams(ctx, next); err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("api: params updated", "scenario", id)
	jsonResp(w, http.StatusOK, next)
}

// importTracks reads a CSV of track observations from the request body.
func (h *Handler) importTracks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	res, err := scenario.ImportCSV(r.Context(), h.store, id, body)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// getRun returns GET /api/v1/scenarios/{id}/runs/{tag}: exactly the records
// written by one compute call.
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tag := r.PathValue("tag")
	recs, err := h.store.ScoresByRun(r.Context(), id, tag)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(recs) == 0 {
		jsonErr(w, http.StatusNotFound, "run not found")
		return
	}
	jsonResp(w, http.StatusOK, RunResponse{ScenarioID: id, RunTag: tag, Count: len(recs), Records: recs})
}

// compute runs POST /api/v1/compute at the instant given in the body.
func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCompute(w, r)
	if !ok {
		return
	}
	when, err := engine.ParseWhen(req.When)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.runCompute(w, r, req, when)
}

// computeNow runs POST /api/v1/compute/now at the engine clock. A when in the
// body is ignored.
func (h *Handler) computeNow(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCompute(w, r)
	if !ok {
		return
	}
	h.runCompute(w, r, req, h.engine.Now().UTC())
}

func (h *Handler) runCompute(w http.ResponseWriter, r *http.Request, req ComputeRequest, when time.Time) {
	method := req.Method
	if method == "" {
		method = h.opts.DefaultMethod
	}
	res, err := h.engine.Compute(r.Context(), engine.Request{
		ScenarioID:    req.ScenarioID,
		When:          when,
		DAIDs:         req.DAIDs,
		Method:        method,
		WeaponRangeKm: req.WeaponRangeKm,
		RunTag:        req.RunTag,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	recs := append([]types.ScoreRecord(nil), res.Records...)
	ranker.Sort(recs)
	scores := make([]ScoreSummary, 0, len(recs))
	for _, rec := range recs {
		scores = append(scores, ScoreSummary{
			TrackID:    rec.TrackRef,
			DAID:       rec.DAID,
			DAName:     rec.DAName,
			Score:      rec.Score,
			Level:      rec.Level,
			ComputedAt: rec.ComputedAt,
		})
	}
	if m, err := sampler.ParseMethod(method); err == nil {
		method = string(m)
	}
	jsonResp(w, http.StatusOK, ComputeResponse{
		Status:     "ok",
		ScenarioID: res.ScenarioID,
		When:       res.When,
		Method:     method,
		RunTag:     res.RunTag,
		ComputedAt: res.ComputedAt,
		Count:      len(res.Records),
		Skipped:    res.Skipped,
		Scores:     scores,
	})
}

// ranking returns GET /api/v1/ranking?scenario_id=&da_id=&top_n=&latest=.
// With latest=true only the newest record of each track competes.
func (h *Handler) ranking(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scenarioID, ok := queryInt(w, q.Get("scenario_id"), "scenario_id", true)
	if !ok {
		return
	}
	daID, ok := queryInt(w, q.Get("da_id"), "da_id", false)
	if !ok {
		return
	}
	topN, ok := queryInt(w, q.Get("top_n"), "top_n", false)
	if !ok {
		return
	}
	latest := false
	if v := q.Get("latest"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "latest must be a boolean")
			return
		}
		latest = b
	}
	ctx := r.Context()
	if _, err := h.store.Scenario(ctx, scenarioID); err != nil {
		writeErr(w, err)
		return
	}

	var groups []ranker.Group
	var err error
	if latest {
		groups, err = ranker.RankLatest(ctx, h.store, scenarioID, daID, int(topN))
	} else {
		groups, err = ranker.Rank(ctx, h.store, scenarioID, daID, int(topN))
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, groups)
}

// breakdown returns GET /api/v1/score-breakdown. With track_id it explains the
// newest record of that track at or before at; without it, the newest record
// of every track of the DA.
func (h *Handler) breakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scenarioID, ok := queryInt(w, q.Get("scenario_id"), "scenario_id", true)
	if !ok {
		return
	}
	daID, ok := queryInt(w, q.Get("da_id"), "da_id", true)
	if !ok {
		return
	}
	var at time.Time
	if v := q.Get("at"); v != "" {
		t, err := engine.ParseWhen(v)
		if err != nil {
			writeErr(w, err)
			return
		}
		at = t
	}

	ctx := r.Context()
	da, err := h.daInScenario(r, scenarioID, daID)
	if err != nil {
		writeErr(w, err)
		return
	}
	params, err := h.store.ModelParams(ctx, scenarioID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if ref := q.Get("track_id"); ref != "" {
		tr, err := h.resolveTrack(r, scenarioID, ref)
		if err != nil {
			writeErr(w, err)
			return
		}
		rec, err := h.store.LatestScore(ctx, scenarioID, daID, tr.ID, at)
		if err != nil {
			writeErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, toBreakdown(rec, da, params))
		return
	}

	tracks, err := h.store.Tracks(ctx, scenarioID)
	if err != nil {
		writeErr(w, err)
		return
	}
	var recs []types.ScoreRecord
	for _, tr := range tracks {
		rec, err := h.store.LatestScore(ctx, scenarioID, daID, tr.ID, at)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		recs = append(recs, rec)
	}
	ranker.Sort(recs)
	out := make([]Breakdown, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toBreakdown(rec, da, params))
	}
	jsonResp(w, http.StatusOK, out)
}

// history returns GET /api/v1/score-history: the (t, score) series of one
// track against one DA, oldest first.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scenarioID, ok := queryInt(w, q.Get("scenario_id"), "scenario_id", true)
	if !ok {
		return
	}
	daID, ok := queryInt(w, q.Get("da_id"), "da_id", true)
	if !ok {
		return
	}
	ref := q.Get("track_id")
	if ref == "" {
		jsonErr(w, http.StatusBadRequest, "track_id is required")
		return
	}
	var from, to time.Time
	for _, b := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		v := q.Get(b.name)
		if v == "" {
			continue
		}
		t, err := engine.ParseWhen(v)
		if err != nil {
			writeErr(w, err)
			return
		}
		*b.dst = t
	}

	if _, err := h.daInScenario(r, scenarioID, daID); err != nil {
		writeErr(w, err)
		return
	}
	tr, err := h.resolveTrack(r, scenarioID, ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	pts, err := h.store.ScoreSeries(r.Context(), scenarioID, daID, tr.ID, from, to)
	if err != nil {
		writeErr(w, err)
		return
	}
	if pts == nil {
		pts = []types.SeriesPoint{}
	}
	jsonResp(w, http.StatusOK, HistoryResponse{ScenarioID: scenarioID, DAID: daID, TrackID: tr.Ref, Points: pts})
}

// board returns GET /api/v1/board: the latest ranking of every scenario.
func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	topN, ok := queryInt(w, r.URL.Query().Get("top_n"), "top_n", false)
	if !ok {
		return
	}
	if topN == 0 {
		topN = int64(h.opts.BoardTopN)
	}
	resp, err := BuildBoard(r.Context(), h.store, int(topN))
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts returns GET /api/v1/alerts: active alerts, newest first.
func (h *Handler) listAlerts(w http.ResponseWriter, _ *http.Request) {
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

// daInScenario loads a DA and checks it belongs to the scenario.
func (h *Handler) daInScenario(r *http.Request, scenarioID, daID int64) (types.DefendedAsset, error) {
	da, err := h.store.DefendedAsset(r.Context(), daID)
	if err != nil {
		return da, err
	}
	if da.ScenarioID != scenarioID {
		return da, fmt.Errorf("api: DA %d in scenario %d: %w", daID, scenarioID, types.ErrNotFound)
	}
	return da, nil
}

// resolveTrack accepts either the external track id or the numeric key.
func (h *Handler) resolveTrack(r *http.Request, scenarioID int64, ref string) (types.Track, error) {
	ctx := r.Context()
	tr, err := h.store.TrackByRef(ctx, scenarioID, ref)
	if err == nil || !errors.Is(err, types.ErrNotFound) {
		return tr, err
	}
	id, perr := strconv.ParseInt(ref, 10, 64)
	if perr != nil {
		return tr, err
	}
	tracks, lerr := h.store.Tracks(ctx, scenarioID)
	if lerr != nil {
		return tr, lerr
	}
	for _, t := range tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return tr, err
}

func toBreakdown(rec types.ScoreRecord, da types.DefendedAsset, params types.ModelParams) Breakdown {
	out := scoring.Compute(scoring.FromComponents(rec.Components), params)
	return Breakdown{
		ScenarioID: rec.ScenarioID,
		DAID:       rec.DAID,
		DAName:     rec.DAName,
		TrackID:    rec.TrackRef,
		RunTag:     rec.RunTag,
		Method:     rec.Method,
		Source:     rec.Source,
		SampledAt:  rec.SampledAt,
		ComputedAt: rec.ComputedAt,
		Components: rec.Components,
		Metrics: Metrics{
			CPAM:  geo.KmToM(rec.CPAKm),
			TCPAS: rec.TCPAS,
			TDBM:  geo.KmToM(rec.TDBKm),
			TDBS:  rec.TDBS,
			TWRPS: rec.TWRPS,
		},
		Normalized:    out.Normalized,
		Weights:       Weights{CPA: params.WCPA, TCPA: params.WTCPA, TDB: params.WTDB, TWRP: params.WTWRP},
		Contributions: out.Contributions,
		Score:         rec.Score,
		Level:         rec.Level,
		CurrentScore:  out.Score,
		Hints:         explain(rec, da, out.Contributions),
	}
}

func decodeCompute(w http.ResponseWriter, r *http.Request) (ComputeRequest, bool) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid compute body: "+err.Error())
		return req, false
	}
	if req.ScenarioID <= 0 {
		jsonErr(w, http.StatusBadRequest, "scenario_id is required")
		return req, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		jsonErr(w, http.StatusBadRequest, "invalid scenario id")
		return 0, false
	}
	return id, true
}

// queryInt parses a non-negative integer query parameter. A missing optional
// parameter is 0.
func queryInt(w http.ResponseWriter, v, name string, required bool) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		if required {
			jsonErr(w, http.StatusBadRequest, name+" is required")
			return 0, false
		}
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	if n < 0 {
		jsonErr(w, http.StatusBadRequest, name+" must be >= 0")
		return 0, false
	}
	return n, true
}

// writeErr maps the shared sentinel errors to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, types.ErrNotFound):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidInput):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrConflict):
		jsonErr(w, http.StatusConflict, err.Error())
	case errors.As(err, &maxErr):
		jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
