// Package control exposes cache statistics and global configuration over
// gRPC. Messages are protobuf well-known types, so no generated code is
// needed on either side.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/engine"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/stats"
)

// Registry is the part of registry.Registry the service drives.
type Registry interface {
	GetGlobalStats() stats.Global
	ResetCacheStats()
	SetGlobalConfig(patch map[string]any) error
	SummaryByID(id string) (string, bool)
	DetailedSummary() string
}

type CacheControlService struct {
	Registry Registry
}

func NewCacheControlService(r Registry) *CacheControlService {
	return &CacheControlService{Registry: r}
}

func (s *CacheControlService) GetGlobalStats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.Registry.GetGlobalStats())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode stats: %v", err)
	}
	return out, nil
}

func (s *CacheControlService) ResetStats(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.Registry.ResetCacheStats()
	return &emptypb.Empty{}, nil
}

func (s *CacheControlService) SetGlobalConfig(_ context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.Registry.SetGlobalConfig(in.AsMap()); err != nil {
		return nil, statusFromError(err)
	}
	return &emptypb.Empty{}, nil
}

// Summary renders one model's counters, or every model's when the id is
// empty.
func (s *CacheControlService) Summary(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id := in.GetValue()
	if id == "" {
		return wrapperspb.String(s.Registry.DetailedSummary()), nil
	}
	out, ok := s.Registry.SummaryByID(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no cache state for model %s", id)
	}
	return wrapperspb.String(out), nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, registry.ErrDuplicateCache):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, registry.ErrUnsupportedModel):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, engine.ErrInvalidState):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("control: %v", err))
	}
}

// UnaryLogger logs every call with its method, status code and latency.
func UnaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := log.WithFields(log.Fields{
		"method":  info.FullMethod,
		"code":    status.Code(err).String(),
		"elapsed": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("control call failed")
	} else {
		entry.Debug("control call")
	}
	return resp, err
}
