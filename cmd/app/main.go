package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/stave/internal"
	pkgconfig "github.com/starford/stave/pkg/config"
)

type runner func(ctx context.Context, opts ...internal.Option) error

// withConfig loads the configuration named by --config and hands it to fn.
func withConfig(fn runner) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithOutput(os.Stdout),
		}

		if err := fn(ctx, opts...); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}

		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "stave",
		Usage:  "Relational index over Dendron-style multi-vault Markdown workspaces",
		Action: withConfig(internal.Run),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the empty index schema",
				Action: withConfig(internal.Init),
			},
			{
				Name:   "index",
				Usage:  "Build the index from every vault and print its contents",
				Action: withConfig(internal.Index),
			},
			{
				Name:   "schemas",
				Usage:  "Discover structural schemas and report problems as JSON",
				Action: withConfig(internal.Schemas),
			},
			{
				Name:   "mcp",
				Usage:  "Build the index and serve it as MCP tools over stdio",
				Action: withConfig(internal.ServeMCP),
			},
			{
				Name:   "serve",
				Usage:  "Build the index, watch the vaults and serve the HTTP API",
				Action: withConfig(internal.Run),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
