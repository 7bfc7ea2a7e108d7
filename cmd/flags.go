package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/okian/atlasbatch/internal/adapters/oneatlas"
	"github.com/okian/atlasbatch/internal/config"
	"github.com/okian/atlasbatch/pkg/logger"
)

const (
	configFlag      = "config"
	logLevelFlag    = "log_level"
	bufferFlag      = "buffer_distance"
	idStartFlag     = "id_start"
	idEndFlag       = "id_end"
	concurrencyFlag = "concurrency"
)

// rootFlags builds fresh flags for every app, since cli flags keep parse state.
func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  configFlag,
			Usage: "config file (JSON or YAML); defaults to $ATLAS_CONFIG, then ./config.json",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "debug, info, warn or error",
		},
		&cli.IntFlag{
			Name:    bufferFlag,
			Aliases: []string{"b"},
			Usage:   "half-width in metres of the search box around each site",
		},
		&cli.IntFlag{
			Name:    idStartFlag,
			Aliases: []string{"s"},
			Usage:   "first site id to process",
		},
		&cli.IntFlag{
			Name:    idEndFlag,
			Aliases: []string{"e"},
			Usage:   "last site id to process (inclusive)",
		},
		&cli.IntFlag{
			Name:  concurrencyFlag,
			Usage: "sites processed at once",
		},
	}
}

// overrides returns the flags the user set, keyed like the config file.
func overrides(cmd *cli.Command) map[string]any {
	out := make(map[string]any)
	for _, name := range []string{bufferFlag, idStartFlag, idEndFlag, concurrencyFlag} {
		if cmd.IsSet(name) {
			out[name] = cmd.Int(name)
		}
	}
	if cmd.IsSet(logLevelFlag) {
		out[logLevelFlag] = cmd.String(logLevelFlag)
	}
	return out
}

// loadConfig layers flags over file and env and applies the log level.
func loadConfig(ctx context.Context, cmd *cli.Command, opts ...config.LoadOption) (*config.Config, error) {
	opts = append([]config.LoadOption{
		config.WithPath(cmd.String(configFlag)),
		config.WithOverrides(overrides(cmd)),
	}, opts...)
	cfg, err := config.Load(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func newClient(cfg *config.Config) (*oneatlas.Client, error) {
	endpoints, err := oneatlas.EndpointsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("endpoints: %w", err)
	}
	return oneatlas.New(cfg.APIKey,
		oneatlas.WithEndpoints(endpoints),
		oneatlas.WithTimeout(cfg.HTTPTimeout),
		oneatlas.WithTokenMargin(cfg.TokenMargin),
	), nil
}

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
