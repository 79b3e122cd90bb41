package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/igo-publications-crawler/internal/catalog"
	"github.com/JakeFAU/igo-publications-crawler/internal/report"
)

// newSeedCmd creates the 'seed' subcommand, which loads the organizations
// catalog into the store.
func newSeedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Loads the organizations catalog (CSV or XLSX) into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if path == "" {
				path = appInstance.Config().Catalog.Path
			}
			if path == "" {
				return errors.New("no catalog file: pass --file or set catalog.path")
			}
			res, err := catalog.Load(path)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			orgs, err := catalog.NewSeeder(appInstance.Store(), appInstance.Logger()).Seed(cmd.Context(), res)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			report.Organizations(cmd.OutOrStdout(), orgs)
			if len(res.Skipped) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d catalog rows skipped, see log for details\n", len(res.Skipped))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "catalog file (default is catalog.path)")
	return cmd
}
