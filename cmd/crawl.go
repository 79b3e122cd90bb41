package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/igo-publications-crawler/internal/app"
	"github.com/JakeFAU/igo-publications-crawler/internal/report"
)

type crawlOptions struct {
	only     []string
	progress bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one session.
func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl session over the active adapters",
		Long: `Opens a session, then discovers, resolves, filters and downloads the
publications of every active adapter in turn. A summary table is printed
when the session ends.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "restrict the run to these adapters (e.g. WHO-Africa)")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "render progress bars on stderr")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = runWithStatus(ctx, appInstance, func(ctx context.Context) error {
		sum, err := appInstance.RunSession(ctx, app.RunOptions{
			Only:       opts.only,
			Console:    opts.progress,
			ConsoleOut: cmd.ErrOrStderr(),
		})
		report.Summary(cmd.OutOrStdout(), sum)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}
	appInstance.Logger().Info("crawl command finished")
	return nil
}

// runWithStatus runs fn next to the status server and stops the server once
// fn returns.
func runWithStatus(ctx context.Context, a *app.App, fn func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		if err := a.ServeStatus(serverCtx); err != nil {
			a.Logger().Error("status server failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		defer stopServer()
		return fn(gctx)
	})
	return g.Wait()
}
