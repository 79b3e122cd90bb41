package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/app"
	"github.com/JakeFAU/igo-publications-crawler/internal/report"
)

// newScheduleCmd creates the 'schedule' subcommand, which repeats the crawl
// on schedule.spec until interrupted.
func newScheduleCmd() *cobra.Command {
	var (
		spec string
		now  bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs a crawl session on a cron schedule",
		Long: `Starts the status server (when enabled) and runs a crawl session every
time the cron expression fires. A tick is skipped while the previous session
is still running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if spec == "" {
				spec = appInstance.Config().Schedule.Spec
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSchedule(ctx, cmd, appInstance, spec, now)
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "cron expression (default is schedule.spec)")
	cmd.Flags().BoolVar(&now, "now", false, "also run one session immediately")
	return cmd
}

func runSchedule(ctx context.Context, cmd *cobra.Command, a *app.App, spec string, now bool) error {
	logger := a.Logger().Named("schedule")
	session := func() {
		sum, err := a.RunSession(ctx, app.RunOptions{})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduled session failed", zap.Error(err))
		}
		report.Summary(cmd.OutOrStdout(), sum)
	}

	cronLogger := zapCronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	id, err := c.AddFunc(spec, session)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return runWithStatus(ctx, a, func(ctx context.Context) error {
		c.Start()
		entry := c.Entry(id)
		logger.Info("scheduler started", zap.String("spec", spec), zap.Time("next", entry.Next))
		if now {
			// Same chain as the ticks, so a tick during this run is skipped.
			go entry.WrappedJob.Run()
		}
		<-ctx.Done()
		logger.Info("scheduler stopping, waiting for the running session")
		<-c.Stop().Done()
		return nil
	})
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
