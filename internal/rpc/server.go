package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tewa-sim/tewa/internal/engine"
	"github.com/tewa-sim/tewa/internal/observability"
	"github.com/tewa-sim/tewa/internal/ranker"
	"github.com/tewa-sim/tewa/internal/store"
	"github.com/tewa-sim/tewa/pkg/types"
)

// Server implements ThreatServer over an engine and its store.
type Server struct {
	engine        *engine.Engine
	store         store.Store
	defaultMethod string
}

var _ ThreatServer = (*Server)(nil)

// NewServer returns a Server. defaultMethod is used when a request names no
// sampling method.
func NewServer(eng *engine.Engine, st store.Store, defaultMethod string) *Server {
	return &Server{engine: eng, store: st, defaultMethod: defaultMethod}
}

// ServerOptions returns the options every ThreatService server runs with:
// OpenTelemetry spans, request metrics, then the given interceptors in order.
func ServerOptions(m *observability.Metrics, interceptors ...grpc.UnaryServerInterceptor) []grpc.ServerOption {
	chain := append([]grpc.UnaryServerInterceptor{m.UnaryServerInterceptor()}, interceptors...)
	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}
}

// Compute runs the engine for the decoded ComputeRequest.
func (s *Server) Compute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ComputeRequest
	if err := decode(in, &req); err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %w", types.ErrInvalidInput, err))
	}

	var when time.Time
	if req.Now {
		when = s.engine.Now().UTC()
	} else {
		t, err := engine.ParseWhen(req.When)
		if err != nil {
			return nil, ToStatusError(err)
		}
		when = t
	}
	method := req.Method
	if method == "" {
		method = s.defaultMethod
	}

	res, err := s.engine.Compute(ctx, engine.Request{
		ScenarioID:    req.ScenarioID,
		When:          when,
		DAIDs:         req.DAIDs,
		Method:        method,
		WeaponRangeKm: req.WeaponRangeKm,
		RunTag:        req.RunTag,
	})
	if err != nil {
		return nil, ToStatusError(err)
	}

	recs := append([]types.ScoreRecord(nil), res.Records...)
	ranker.Sort(recs)
	reply := ComputeReply{
		ScenarioID: res.ScenarioID,
		RunTag:     res.RunTag,
		When:       res.When,
		ComputedAt: res.ComputedAt,
		Count:      len(recs),
		Skipped:    res.Skipped,
		Scores:     make([]Score, 0, len(recs)),
	}
	for _, r := range recs {
		reply.Scores = append(reply.Scores, Score{
			TrackID: r.TrackRef, DAID: r.DAID, DAName: r.DAName, Score: r.Score, Level: r.Level,
		})
	}
	slog.Debug("rpc: compute served", "scenario", req.ScenarioID, "run_tag", res.RunTag, "records", len(recs))

	out, err := encode(reply)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Rank returns the ranking for the decoded RankRequest.
func (s *Server) Rank(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RankRequest
	if err := decode(in, &req); err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %w", types.ErrInvalidInput, err))
	}
	if _, err := s.store.Scenario(ctx, req.ScenarioID); err != nil {
		return nil, ToStatusError(err)
	}

	var groups []ranker.Group
	var err error
	if req.Latest {
		groups, err = ranker.RankLatest(ctx, s.store, req.ScenarioID, req.DAID, req.TopN)
	} else {
		groups, err = ranker.Rank(ctx, s.store, req.ScenarioID, req.DAID, req.TopN)
	}
	if err != nil {
		return nil, ToStatusError(err)
	}

	out, err := encode(RankReply{Groups: groups})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}
