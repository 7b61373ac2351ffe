// Package rpc defines ThreatService, the gRPC surface shared by tewa-server
// and tewa-agent.
//
// The service is described by a hand-written grpc.ServiceDesc whose request
// and reply messages are google.protobuf.Struct values carrying the JSON form
// of ComputeRequest/ComputeReply and RankRequest/RankReply:
//
//	/tewa.v1.ThreatService/Compute   run the engine (at an instant or now)
//	/tewa.v1.ThreatService/Rank      top-N threats per defended asset
//
// Server implements the service over an engine and a store; Client is the
// typed caller used by the agent. Errors wrapping types.ErrNotFound and
// types.ErrInvalidInput map to codes.NotFound and codes.InvalidArgument.
package rpc
