package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	app "github.com/okian/maap/internal/app"
	"github.com/okian/maap/internal/config"
	"github.com/okian/maap/pkg/logger"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfgFile string
	cfg     *config.Config
	out     io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "maapctl",
		Short:         "Operate MAAP snapshots and finalization batches.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "YAML config file (default $"+config.FileEnv+")")

	root.AddCommand(
		c.migrateCmd(),
		c.seedCmd(),
		c.snapshotCmd(),
		c.finalizeCmd(),
		c.batchCmd(),
	)
	return root
}

// init loads the configuration and sets up logging on stderr so stdout stays JSON.
func (c *cli) init(ctx context.Context) error {
	path := c.cfgFile
	if path == "" {
		path = os.Getenv(config.FileEnv)
	}
	cfg, err := config.LoadFile(ctx, path)
	if err != nil {
		return err
	}
	if err := logger.InitWithOptions(cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// withService opens and starts the configured service for the duration of fn.
func (c *cli) withService(ctx context.Context, fn func(svc *app.Service) error) error {
	svc, err := app.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer svc.Stop()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	return fn(svc)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
