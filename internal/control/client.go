package control

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mcules/stepcache/internal/stats"
)

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetGlobalStats(ctx context.Context) (stats.Global, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetGlobalStats, &emptypb.Empty{}, out); err != nil {
		return stats.Global{}, err
	}

	b, err := json.Marshal(out.AsMap())
	if err != nil {
		return stats.Global{}, fmt.Errorf("decode stats: %w", err)
	}
	var g stats.Global
	if err := json.Unmarshal(b, &g); err != nil {
		return stats.Global{}, fmt.Errorf("decode stats: %w", err)
	}
	return g, nil
}

func (c *Client) ResetStats(ctx context.Context) error {
	return c.cc.Invoke(ctx, methodResetStats, &emptypb.Empty{}, new(emptypb.Empty))
}

func (c *Client) SetGlobalConfig(ctx context.Context, patch map[string]any) error {
	in, err := structpb.NewStruct(patch)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return c.cc.Invoke(ctx, methodSetGlobalConfig, in, new(emptypb.Empty))
}

// Summary fetches one model's summary, or the detailed summary of every
// model when id is empty.
func (c *Client) Summary(ctx context.Context, id string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodSummary, wrapperspb.String(id), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
