package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tewa-sim/tewa/internal/ranker"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tewa.v1.ThreatService"

// Full method names, as seen by interceptors.
const (
	ComputeMethod = "/" + ServiceName + "/Compute"
	RankMethod    = "/" + ServiceName + "/Rank"
)

// ComputeRequest asks the server to run the engine. DAIDs follows the engine
// rule: absent means all DAs, an empty list means none. With Now set, When is
// ignored and the server clock is used.
type ComputeRequest struct {
	ScenarioID    int64   `json:"scenario_id"`
	When          string  `json:"when,omitempty"`
	Now           bool    `json:"now,omitempty"`
	Method        string  `json:"method,omitempty"`
	DAIDs         []int64 `json:"da_ids"`
	WeaponRangeKm float64 `json:"weapon_range_km,omitempty"`
	RunTag        string  `json:"run_tag,omitempty"`
}

// Score is one record of a compute reply.
type Score struct {
	TrackID string  `json:"track_id"`
	DAID    int64   `json:"da_id"`
	DAName  string  `json:"da_name"`
	Score   float64 `json:"score"`
	Level   string  `json:"level"`
}

// ComputeReply summarizes a run. Scores are ordered by score descending.
type ComputeReply struct {
	ScenarioID int64     `json:"scenario_id"`
	RunTag     string    `json:"run_tag"`
	When       time.Time `json:"when"`
	ComputedAt time.Time `json:"computed_at"`
	Count      int       `json:"count"`
	Skipped    int       `json:"skipped"`
	Scores     []Score   `json:"scores"`
}

// RankRequest asks for the top threats of a scenario, or of one DA when DAID
// is non-zero. Latest restricts each track to its newest record.
type RankRequest struct {
	ScenarioID int64 `json:"scenario_id"`
	DAID       int64 `json:"da_id,omitempty"`
	TopN       int   `json:"top_n,omitempty"`
	Latest     bool  `json:"latest,omitempty"`
}

// RankReply carries one group per defended asset.
type RankReply struct {
	Groups []ranker.Group `json:"groups"`
}

// ThreatServer is the server API of ThreatService. Payloads travel as
// google.protobuf.Struct so no generated code is needed.
type ThreatServer interface {
	Compute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Rank(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes ThreatService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ThreatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compute", Handler: computeHandler},
		{MethodName: "Rank", Handler: rankHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tewa/v1/threat.proto",
}

// Register adds srv to gs.
func Register(gs grpc.ServiceRegistrar, srv ThreatServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

func computeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatServer).Compute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatServer).Compute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func rankHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatServer).Rank(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RankMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatServer).Rank(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// encode converts v to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	return out, nil
}

// decode fills v from a Struct. Unknown fields are ignored.
func decode(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("rpc: decode: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("rpc: decode: %w", err)
	}
	return nil
}
