package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mcules/stepcache/internal/auth"
	"github.com/mcules/stepcache/internal/control"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print cache statistics of a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "gRPC address of the server", Value: "localhost:9090", Sources: cli.EnvVars("STEPCACHE_GRPC_ADDR")},
			&cli.StringFlag{Name: "model", Usage: "model id; all models when empty"},
			&cli.BoolFlag{Name: "json", Usage: "print the global stats as JSON"},
			&cli.BoolFlag{Name: "reset", Usage: "reset counters after printing"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Action: statsAction,
	}
}

func statsAction(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	conn, err := grpc.NewClient(cmd.String("addr"), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", cmd.String("addr"), err)
	}
	defer conn.Close()
	return printStats(ctx, cmd, control.NewClient(conn))
}

func printStats(ctx context.Context, cmd *cli.Command, c *control.Client) error {
	w := cmd.Root().Writer
	if cmd.Bool("json") {
		g, err := c.GetGlobalStats(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(g); err != nil {
			return err
		}
	} else {
		out, err := c.Summary(ctx, cmd.String("model"))
		if err != nil {
			return err
		}
		fmt.Fprint(w, out)
	}

	if cmd.Bool("reset") {
		return c.ResetStats(ctx)
	}
	return nil
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "generate an admin token and the bcrypt hash to configure on the server",
		Action: func(_ context.Context, cmd *cli.Command) error {
			token, hash, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "token: %s\nhash:  %s\n", token, hash)
			return nil
		},
	}
}
