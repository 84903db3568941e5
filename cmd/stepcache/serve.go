package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"github.com/mcules/stepcache/internal/api"
	"github.com/mcules/stepcache/internal/auth"
	"github.com/mcules/stepcache/internal/control"
	"github.com/mcules/stepcache/internal/noise"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/sim"
	"github.com/mcules/stepcache/internal/sweeper"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a simulated workload and serve the HTTP and gRPC control surfaces",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "http", Usage: "HTTP listen address", Value: ":8080", Sources: cli.EnvVars("STEPCACHE_HTTP_ADDR")},
			&cli.StringFlag{Name: "grpc", Usage: "gRPC listen address", Value: ":9090", Sources: cli.EnvVars("STEPCACHE_GRPC_ADDR")},
			&cli.StringFlag{Name: "db", Usage: "sqlite file for policies and snapshots", Value: "stepcache.db", Sources: cli.EnvVars("STEPCACHE_DB")},
			&cli.StringFlag{Name: "admin-token-hash", Usage: "bcrypt hash guarding mutating HTTP routes", Sources: cli.EnvVars("STEPCACHE_ADMIN_TOKEN_HASH")},
			&cli.StringFlag{Name: "allow-origin", Usage: "CORS allowed origins, comma separated, or *", Value: "*", Sources: cli.EnvVars("STEPCACHE_ALLOW_ORIGIN")},
			&cli.DurationFlag{Name: "sweep", Usage: "interval between orphan sweeps and snapshots", Value: 30 * time.Second, Sources: cli.EnvVars("STEPCACHE_SWEEP_INTERVAL")},
			&cli.IntFlag{Name: "models", Aliases: []string{"m"}, Usage: "simulated models", Value: 2},
			&cli.IntFlag{Name: "steps", Aliases: []string{"n"}, Usage: "steps per simulated run", Value: 30},
			&cli.DurationFlag{Name: "compute", Usage: "time one real step takes", Value: 20 * time.Millisecond},
			&cli.DurationFlag{Name: "pause", Usage: "pause between simulated runs", Value: time.Second},
		}, cacheFlags()...),
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := cacheOptions(cmd)
	if err != nil {
		return err
	}

	st, err := openStore(cmd.String("db"))
	if err != nil {
		return err
	}
	ropts := registry.Options{Global: g}
	if st != nil {
		defer st.Close()
		ropts.Policies = st
	}
	reg := registry.New[[]float32](noise.NewFloat32(), ropts)
	defer reg.Close()

	if cmd.Int("models") < 0 {
		return errors.New("--models must not be negative")
	}
	models := make([]*sim.Model, int(cmd.Int("models")))
	for i := range models {
		models[i] = sim.New(fmt.Sprintf("model%d", i), 256, sim.WithDelay(cmd.Duration("compute")))
		if err := reg.EnableCache(models[i], opts...); err != nil {
			return err
		}
	}

	var authenticator *auth.Authenticator
	if h := cmd.String("admin-token-hash"); h != "" {
		if authenticator, err = auth.NewAuthenticator(h); err != nil {
			return err
		}
	} else {
		log.Warn("no admin token hash configured, mutating routes are open")
	}

	// gRPC server (control surface).
	grpcLis, err := net.Listen("tcp", cmd.String("grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(control.UnaryLogger))
	control.Register(grpcServer, control.NewCacheControlService(reg))

	apiServer := &api.Server{
		Registry:    reg,
		Store:       st,
		Auth:        authenticator,
		AllowOrigin: cmd.String("allow-origin"),
	}
	httpServer := &http.Server{
		Addr:              cmd.String("http"),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sw := &sweeper.Sweeper{Source: reg, Interval: cmd.Duration("sweep")}
	if st != nil {
		sw.Snapshots = st
	}

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", grpcLis.Addr().String()).Info("gRPC listening")
		if err := grpcServer.Serve(grpcLis); err != nil {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", httpServer.Addr).Info("HTTP listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http serve: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.Run(ctx)
	}()

	for _, m := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			workload(ctx, m, int(cmd.Int("steps")), cmd.Duration("pause"))
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errc:
		log.WithError(err).Error("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	wg.Wait()

	// Final snapshot so the last interval is not lost.
	sw.Tick(context.Background())
	return err
}

// workload repeats denoising runs until ctx is done.
func workload(ctx context.Context, m *sim.Model, steps int, pause time.Duration) {
	for {
		if _, err := m.Denoise(ctx, steps); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("model", m.Name()).Warn("simulated run failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}
