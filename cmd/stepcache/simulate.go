package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/mcules/stepcache/internal/noise"
	"github.com/mcules/stepcache/internal/registry"
	"github.com/mcules/stepcache/internal/sim"
)

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "run synthetic denoising loops through the cache and print statistics",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: "models", Aliases: []string{"m"}, Usage: "models run concurrently", Value: 2},
			&cli.IntFlag{Name: "steps", Aliases: []string{"n"}, Usage: "steps per model", Value: 20},
			&cli.IntFlag{Name: "size", Usage: "latent size", Value: 64},
			&cli.DurationFlag{Name: "compute", Usage: "time one real step takes", Value: 5 * time.Millisecond},
			&cli.StringFlag{Name: "db", Usage: "sqlite file for policies and snapshots", Sources: cli.EnvVars("STEPCACHE_DB")},
		}, cacheFlags()...),
		Action: simulateAction,
	}
}

func simulateAction(ctx context.Context, cmd *cli.Command) error {
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

	n := int(cmd.Int("models"))
	if n < 1 {
		return errors.New("--models must be at least 1")
	}
	models := make([]*sim.Model, n)
	for i := range models {
		models[i] = sim.New(fmt.Sprintf("model%d", i), int(cmd.Int("size")), sim.WithDelay(cmd.Duration("compute")))
		if err := reg.EnableCache(models[i], opts...); err != nil {
			return err
		}
	}

	steps := int(cmd.Int("steps"))
	start := time.Now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, m := range models {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Denoise(ctx, steps); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.WithFields(log.Fields{"models": n, "steps": steps, "elapsed": time.Since(start).String()}).Info("simulation finished")

	w := cmd.Root().Writer
	for _, m := range models {
		fmt.Fprintln(w, reg.Summary(m))
	}
	fmt.Fprint(w, reg.DetailedSummary())

	if st != nil {
		runID := uuid.NewString()
		if err := st.SaveSnapshot(ctx, runID, time.Now(), reg.Snapshots()); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		fmt.Fprintf(w, "\nSnapshot saved as run %s\n", runID)
	}
	return nil
}
