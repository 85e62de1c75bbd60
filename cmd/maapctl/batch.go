package main

import (
	"fmt"

	"github.com/spf13/cobra"

	app "github.com/okian/maap/internal/app"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/types"
)

func (c *cli) finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <id>",
		Short: "Apply a snapshot's pending changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return c.withService(ctx, func(svc *app.Service) error {
				res, err := svc.Finalize(ctx, id)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
}

func (c *cli) batchCmd() *cobra.Command {
	var (
		snapshotIDs []int64
		employeeIDs []int64
		emp         model.EmployeeBatchRequest
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Finalize many snapshots, or snapshot and finalize many employees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := types.BatchRequest{SnapshotIDs: snapshotIDs}
			if len(employeeIDs) > 0 {
				for _, id := range employeeIDs {
					emp.Employees = append(emp.Employees, model.EmployeeChange{EmployeeID: id})
				}
				req.Employees = &emp
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			ctx := cmd.Context()
			return c.withService(ctx, func(svc *app.Service) error {
				report, err := svc.RunBatch(ctx, req)
				if err != nil {
					return err
				}
				return c.print(report)
			})
		},
	}
	f := cmd.Flags()
	f.Int64SliceVar(&snapshotIDs, "snapshots", nil, "snapshot ids to finalize")
	f.Int64SliceVar(&employeeIDs, "employees", nil, "employee ids to snapshot and finalize")
	f.Int64Var(&emp.CreatedByID, "created-by", 0, "id of the acting person (with --employees)")
	f.StringVar(&emp.ChangeType, "change-type", string(model.ChangeBulkCheckInFinalization), "change type tag (with --employees)")
	f.StringVar(&emp.Reason, "reason", "", "free-text reason (with --employees)")
	return cmd
}
