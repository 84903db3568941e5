package control

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/noise"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/sim"
)

func startServer(t *testing.T, r Registry) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger))
	Register(srv, NewCacheControlService(r))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestControlRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := registry.New[[]float32](noise.NewFloat32(), registry.Options{})
	m := sim.New("unet", 4)
	require.NoError(t, r.EnableCache(m))
	_, err := m.Denoise(ctx, 20)
	require.NoError(t, err)

	c := startServer(t, r)

	g, err := c.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), g.TotalCalls)
	assert.Equal(t, int64(8), g.TotalCacheHits)
	assert.InDelta(t, 40.0, g.GlobalHitRate, 1e-9)
	assert.Equal(t, 1, g.ActiveModels)
	require.Len(t, g.ModelDetails, 1)

	id, _, err := registry.ModelID[[]float32](m)
	require.NoError(t, err)
	assert.Equal(t, "fixed", g.ModelDetails[id].Strategy)

	out, err := c.Summary(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, out, "Cache statistics for "+id)

	out, err = c.Summary(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Cache statistics (all models)")

	_, err = c.Summary(ctx, "missing_1")
	assert.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, c.ResetStats(ctx))
	g, err = c.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, g.TotalCalls)
}

func TestControlSetGlobalConfig(t *testing.T) {
	ctx := context.Background()
	r := registry.New[[]float32](noise.NewFloat32(), registry.Options{})
	c := startServer(t, r)

	require.NoError(t, c.SetGlobalConfig(ctx, map[string]any{"default_strategy": "adaptive", "default_warmup_steps": 5}))
	assert.Equal(t, config.Adaptive, r.GlobalConfig().DefaultStrategy)
	assert.Equal(t, 5, r.GlobalConfig().DefaultWarmupSteps)

	err := c.SetGlobalConfig(ctx, map[string]any{"nope": true})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = c.SetGlobalConfig(ctx, map[string]any{"default_skip_interval": 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, config.DefaultSkipInterval, r.GlobalConfig().DefaultSkipInterval)
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, codes.AlreadyExists, status.Code(statusFromError(&registry.DuplicateCacheError{ModelID: "a"})))
	assert.Equal(t, codes.FailedPrecondition, status.Code(statusFromError(&registry.UnsupportedModelError{Model: "a"})))
	assert.Equal(t, codes.InvalidArgument, status.Code(statusFromError(&config.ValidationError{Field: "x"})))
	assert.Equal(t, codes.Internal, status.Code(statusFromError(assert.AnError)))
}
