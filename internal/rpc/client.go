package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls ThreatService over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Compute runs the engine remotely.
func (c *Client) Compute(ctx context.Context, req ComputeRequest, opts ...grpc.CallOption) (ComputeReply, error) {
	var reply ComputeReply
	err := c.invoke(ctx, ComputeMethod, req, &reply, opts...)
	return reply, err
}

// Rank fetches a ranking remotely.
func (c *Client) Rank(ctx context.Context, req RankRequest, opts ...grpc.CallOption) (RankReply, error) {
	var reply RankReply
	err := c.invoke(ctx, RankMethod, req, &reply, opts...)
	return reply, err
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any, opts ...grpc.CallOption) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	return decode(out, reply)
}
