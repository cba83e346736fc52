package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fournil/backend/internal/bootstrap"
	"fournil/backend/internal/domain"
)

func newCatalogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and import the product and client catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert products and clients from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readCatalogFile(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				products, clients, err := app.Service.ImportCatalog(ctx, *snapshot)
				if err != nil {
					return err
				}
				return opts.emit(cmd.OutOrStdout(), map[string]int{"products": products, "clients": clients}, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d product(s) and %d client(s)\n", products, clients)
				})
			})
		},
	})
	return cmd
}

func readCatalogFile(path string) (*domain.CatalogSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var snapshot domain.CatalogSnapshot
	if err := yaml.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(snapshot.Products) == 0 && len(snapshot.Clients) == 0 {
		return nil, fmt.Errorf("catalog %s has no products or clients", path)
	}
	return &snapshot, nil
}
