package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fournil/backend/internal/bootstrap"
	"fournil/backend/internal/domain"
)

func newProgramCommand(opts *RootOptions) *cobra.Command {
	var date string
	var force bool

	cmd := &cobra.Command{
		Use:   "program",
		Short: "Show and drive the production program of a date",
	}
	cmd.PersistentFlags().StringVar(&date, "date", "", "production date (YYYY-MM-DD)")
	_ = cmd.MarkPersistentFlagRequired("date")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the aggregated plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				program, err := app.Service.GetProgram(ctx, date)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), program, func(w io.Writer) {
					printProgram(w, *program)
				})
			})
		},
	}

	send := &cobra.Command{
		Use:   "send",
		Short: "Send the program to production",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				resp, err := app.Service.SendProgram(ctx, date, domain.SendProgramRequest{Force: force})
				if err != nil {
					printWarnings(cmd.ErrOrStderr(), resp.Warnings)
					return err
				}
				return opts.emit(cmd.OutOrStdout(), resp, func(w io.Writer) {
					printWarnings(w, resp.Warnings)
					fmt.Fprintf(w, "program %s is %s (revision %d)\n", resp.Program.Date, resp.Program.Status, resp.Program.Revision)
				})
			})
		},
	}
	send.Flags().BoolVar(&force, "force", false, "send despite warnings")

	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm production and deduct raw materials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				report, err := app.Service.ConfirmProgram(ctx, date)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), report, func(w io.Writer) {
					printWarnings(w, report.Warnings)
					for _, tx := range report.Transactions {
						fmt.Fprintf(w, "%-16s %10s  %s\n", tx.MaterialID, tx.Quantity.StringFixed(3), tx.Reason)
					}
					fmt.Fprintf(w, "submitted %d, failed %d\n", report.Submitted, report.Failed)
				})
			})
		},
	}

	cmd.AddCommand(show, send, confirm)
	return cmd
}

func printProgram(w io.Writer, program domain.ProductionProgram) {
	fmt.Fprintf(w, "program %s status=%s revision=%d orders=%d\n", program.Date, program.Status, program.Revision, len(program.Orders))
	fmt.Fprintf(w, "%-12s %7s %7s %7s %5s %5s %5s\n", "product", "client", "shop", "global", "A", "B", "C")
	for _, row := range program.Totals {
		fmt.Fprintf(w, "%-12s %7d %7d %7d %5d %5d %5d\n", row.ProductID, row.ClientTotal, row.ShopTotal, row.GlobalTotal, row.Runs.A, row.Runs.B, row.Runs.C)
	}
}
