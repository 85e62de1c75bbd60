package main

import (
	"github.com/spf13/cobra"

	app "github.com/okian/maap/internal/app"
	"github.com/okian/maap/internal/adapters/repository/sqlstore"
	"github.com/okian/maap/internal/fixtures"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, c.cfg, sqlstore.WithAutoMigrate(false))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			applied, version := 0, 0
			if s, ok := store.(*sqlstore.Store); ok {
				if applied, err = s.Migrate(ctx); err != nil {
					return err
				}
				if version, err = s.Version(ctx); err != nil {
					return err
				}
			}
			return c.print(map[string]any{
				"driver":  store.Driver(),
				"applied": applied,
				"version": version,
				"latest":  sqlstore.SchemaVersion(),
			})
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture document into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			doc, err := fixtures.Load(file)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := fixtures.Seed(ctx, store, &doc); err != nil {
				return err
			}
			return c.print(map[string]any{
				"driver":      store.Driver(),
				"file":        file,
				"employees":   len(doc.Employees),
				"assignments": len(doc.Assignments),
				"abilities":   len(doc.Abilities),
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixture YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
