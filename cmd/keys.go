package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/okian/atlasbatch/internal/config"
)

var errNotConfirmed = errors.New("refusing to delete every API key without --yes")

func newKeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "manage the account's API keys",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list API keys",
				Action: keysListAction,
			},
			{
				Name:      "create",
				Usage:     "create an API key and print its secret",
				ArgsUsage: "[description]",
				Action:    keysCreateAction,
			},
			{
				Name:  "delete",
				Usage: "revoke every API key of the account, the configured one included",
				Flags: []cli.Flag{&cli.BoolFlag{
					Name:  "yes",
					Usage: "confirm the deletion",
				}},
				Action: keysDeleteAction,
			},
		},
	}
}

// keyConfig loads config needing only the api key.
func keyConfig(ctx context.Context, cmd *cli.Command) (*config.Config, error) {
	cfg, err := loadConfig(ctx, cmd, config.WithoutValidation())
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api_key is required", config.ErrInvalidConfig)
	}
	return cfg, nil
}

func keysListAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := keyConfig(ctx, cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	keys, err := client.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	w := output(cmd)
	for _, k := range keys {
		fmt.Fprintf(w, "%s  %s  %s\n", k.ID, k.CreationDate, k.Description)
	}
	return nil
}

func keysCreateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := keyConfig(ctx, cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	key, err := client.CreateAPIKey(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "%s  %s\n", key.ID, key.APIKey)
	return nil
}

func keysDeleteAction(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return errNotConfirmed
	}
	cfg, err := keyConfig(ctx, cmd)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	return client.DeleteAPIKeys(ctx)
}
