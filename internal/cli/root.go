package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fournil/backend/internal/bootstrap"
	"fournil/backend/internal/config"
	"fournil/backend/internal/domain"
	"fournil/backend/internal/service"
)

// Opener builds the backend a command runs against.
type Opener func(ctx context.Context) (*bootstrap.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Actor  string

	open Opener
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the fournilctl command tree. A nil opener wires the
// backend from the environment the same way the server does.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = openFromEnv
	}
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "fournilctl",
		Short: "Operate the bakery production and invoicing backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "fournilctl", "username recorded in the audit log")

	cmd.AddCommand(newCatalogCommand(opts))
	cmd.AddCommand(newProgramCommand(opts))
	cmd.AddCommand(newInvoicesCommand(opts))
	cmd.AddCommand(newBillingCommand(opts))

	return cmd
}

func openFromEnv(ctx context.Context) (*bootstrap.App, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, config.Load())
}

// withApp opens the backend for one command and closes it afterwards. The
// CLI runs with the admin role.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := service.WithActor(cmd.Context(), domain.Actor{Username: o.Actor, Role: "admin"})
	app, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// emit writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) emit(w io.Writer, v any, text func(w io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printWarnings(w io.Writer, warnings []domain.Warning) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning %s: %s\n", warning.Code, warning.Message)
	}
}
