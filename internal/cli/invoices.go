package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fournil/backend/internal/bootstrap"
)

func newInvoicesCommand(opts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Generate and reconcile client invoices",
	}
	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Generate the invoices of a delivery date or promote completed returns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				result, err := app.Service.ReconcileInvoices(ctx, date)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), result, func(w io.Writer) {
					printWarnings(w, result.Warnings)
					for _, inv := range result.Invoices {
						fmt.Fprintf(w, "%-20s %-16s %-17s %10s\n", inv.Number, inv.ClientID, inv.Status, inv.TotalTTC.StringFixed(2))
					}
					fmt.Fprintf(w, "created %d, validated %d\n", result.Created, result.Validated)
				})
			})
		},
	}
	reconcile.Flags().StringVar(&date, "date", "", "delivery date (YYYY-MM-DD)")
	_ = reconcile.MarkFlagRequired("date")

	cmd.AddCommand(reconcile)
	return cmd
}

func newBillingCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Inspect the billing configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the billing configuration and invoice counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				cfg, err := app.Service.BillingConfig(ctx)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), cfg, func(w io.Writer) {
					fmt.Fprintf(w, "next invoice number: %d\n", cfg.NextInvoiceNumber)
					fmt.Fprintf(w, "number prefix:       %s\n", cfg.NumberPrefix)
					fmt.Fprintf(w, "default tax rate:    %s%%\n", cfg.DefaultTaxRate.String())
					fmt.Fprintf(w, "payment terms:       %s (%d days)\n", cfg.PaymentTerms, cfg.PaymentTermDays)
				})
			})
		},
	})
	return cmd
}
