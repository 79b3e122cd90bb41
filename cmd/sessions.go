package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/igo-publications-crawler/internal/report"
)

func newSessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Lists the most recent crawl sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0, got %d", limit)
			}
			sessions, err := appInstance.Store().ListSessions(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			report.Sessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	return cmd
}
