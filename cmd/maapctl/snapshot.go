package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	app "github.com/okian/maap/internal/app"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
)

// Parts of a snapshot that `snapshot show --part` can print on their own.
const (
	partMaapData   = "maap_data"
	partFormParams = "form_params"
	partChanges    = "changes"
)

const dateLayout = "2006-01-02"

func (c *cli) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create and inspect MAAP snapshots",
	}
	cmd.AddCommand(c.snapshotCreateCmd(), c.snapshotShowCmd(), c.snapshotListCmd())
	return cmd
}

func (c *cli) snapshotCreateCmd() *cobra.Command {
	var (
		req        snapshot.CreateRequest
		formParams string
		formFile   string
		effective  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Capture a snapshot of an employee's current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case formParams != "" && formFile != "":
				return fmt.Errorf("--form-params and --form-file are mutually exclusive")
			case formFile != "":
				b, err := os.ReadFile(formFile)
				if err != nil {
					return fmt.Errorf("read form file: %w", err)
				}
				req.FormParams = b
			case formParams != "":
				req.FormParams = json.RawMessage(formParams)
			}
			if effective != "" {
				d, err := time.Parse(dateLayout, effective)
				if err != nil {
					return fmt.Errorf("parse --effective-date: %w", err)
				}
				req.EffectiveDate = d
			}
			return c.withService(cmd.Context(), func(svc *app.Service) error {
				snap, err := svc.CreateSnapshot(cmd.Context(), req)
				if err != nil {
					return err
				}
				return c.print(snap)
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&req.EmployeeID, "employee", 0, "employee id")
	f.Int64Var(&req.CreatedByID, "created-by", 0, "id of the acting person")
	f.StringVar(&req.ChangeType, "change-type", string(model.ChangeManualEdit), "change type tag")
	f.StringVar(&req.Reason, "reason", "", "free-text reason")
	f.StringVar(&formParams, "form-params", "", "form params as a JSON object")
	f.StringVar(&formFile, "form-file", "", "file holding form params as a JSON object")
	f.StringVar(&effective, "effective-date", "", "effective date (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("employee")
	_ = cmd.MarkFlagRequired("created-by")
	return cmd
}

func (c *cli) snapshotShowCmd() *cobra.Command {
	var part string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a snapshot or one of its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return c.withService(ctx, func(svc *app.Service) error {
				if part == partChanges {
					cr, err := svc.PreviewChanges(ctx, id)
					if err != nil {
						return err
					}
					return c.print(cr)
				}
				snap, err := svc.GetSnapshot(ctx, id)
				if err != nil {
					return err
				}
				switch part {
				case "":
					return c.print(snap)
				case partMaapData:
					return c.print(snap.MaapData)
				case partFormParams:
					_, err := fmt.Fprintln(c.out, string(snap.FormParams))
					return err
				default:
					return fmt.Errorf("unknown part %q", part)
				}
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "print only maap_data, form_params or changes")
	return cmd
}

func (c *cli) snapshotListCmd() *cobra.Command {
	var (
		filter    model.SnapshotFilter
		processed string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if processed != "" {
				v, err := strconv.ParseBool(processed)
				if err != nil {
					return fmt.Errorf("parse --processed: %w", err)
				}
				filter.Processed = &v
			}
			ctx := cmd.Context()
			return c.withService(ctx, func(svc *app.Service) error {
				snaps, err := svc.ListSnapshots(ctx, filter)
				if err != nil {
					return err
				}
				return c.print(snaps)
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&filter.EmployeeID, "employee", 0, "only snapshots of this employee")
	f.StringVar(&processed, "processed", "", "only processed (true) or pending (false) snapshots")
	f.IntVar(&filter.Limit, "limit", 0, "maximum number of snapshots")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid snapshot id %q", s)
	}
	return id, nil
}
