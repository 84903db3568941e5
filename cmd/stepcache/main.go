package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mcules/stepcache/internal/config"
	"github.com/mcules/stepcache/internal/logging"
	"github.com/mcules/stepcache/internal/store"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	logging.Init("info")

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "stepcache",
		Usage: "step cache for iterative inference loops",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file with global cache defaults",
				Sources: cli.EnvVars(config.EnvConfigPath),
			},
		},
		Commands: []*cli.Command{
			simulateCommand(),
			serveCommand(),
			statsCommand(),
			tokenCommand(),
		},
	}
}

func loadConfig(cmd *cli.Command) (config.Global, error) {
	g, err := config.Load(cmd.Root().String("config"))
	if err != nil {
		return config.Global{}, fmt.Errorf("load config: %w", err)
	}
	return g, nil
}

// openStore opens the sqlite store at path, or returns nil for an empty path.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	return store.Open(path)
}

// cacheOptions turns the explicitly set cache flags into options, so unset
// flags fall through to stored policies and the global config.
func cacheOptions(cmd *cli.Command) ([]config.Option, error) {
	var opts []config.Option
	if cmd.IsSet("strategy") {
		s, err := config.ParseStrategy(cmd.String("strategy"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithStrategy(s))
	}
	if cmd.IsSet("skip-interval") {
		opts = append(opts, config.WithSkipInterval(int(cmd.Int("skip-interval"))))
	}
	if cmd.IsSet("warmup-steps") {
		opts = append(opts, config.WithWarmupSteps(int(cmd.Int("warmup-steps"))))
	}
	if cmd.IsSet("noise-scale") {
		opts = append(opts, config.WithNoiseScale(cmd.Float("noise-scale")))
	}
	if cmd.IsSet("debug") {
		opts = append(opts, config.WithDebug(cmd.Bool("debug")))
	}
	return opts, nil
}

func cacheFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "strategy", Usage: "fixed, dynamic or adaptive", Value: "fixed"},
		&cli.IntFlag{Name: "skip-interval", Usage: "base skip period", Value: config.DefaultSkipInterval},
		&cli.IntFlag{Name: "warmup-steps", Usage: "steps always computed first", Value: config.DefaultWarmupSteps},
		&cli.FloatFlag{Name: "noise-scale", Usage: "noise added to reused outputs", Value: config.DefaultNoiseScale},
		&cli.BoolFlag{Name: "debug", Usage: "log every cache decision"},
	}
}
