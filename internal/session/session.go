// Package session tracks one crawler run: its row in the sessions table, the
// run id stamped on logs and events, and the error counter persisted at the
// end.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/logging"
	"github.com/JakeFAU/igo-publications-crawler/internal/metrics"
)

// Session is the per-run context handed to every pipeline component.
type Session struct {
	ID        int64
	RunID     string
	StartedAt time.Time

	errors *logging.ErrorCounter
	logger *zap.Logger
	store  crawler.SessionStore
	clock  crawler.Clock
}

// Start creates the session row and returns a Session whose logger counts
// ERROR entries.
func Start(
	ctx context.Context,
	store crawler.SessionStore,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("session run id: %w", err)
	}
	startedAt := clock.Now()
	id, err := store.CreateSession(ctx, startedAt)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	counter := &logging.ErrorCounter{}
	s := &Session{
		ID:        id,
		RunID:     runID,
		StartedAt: startedAt,
		errors:    counter,
		store:     store,
		clock:     clock,
		logger: logging.WithErrorCounter(logger, counter).With(
			zap.Int64("session_id", id),
			zap.String("run_id", runID),
		),
	}
	metrics.SetSessionErrors(0)
	s.logger.Info("session started", zap.Time("started_at", startedAt))
	return s, nil
}

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger {
	return s.logger
}

// Errors returns the number of ERROR entries logged so far.
func (s *Session) Errors() int64 {
	return s.errors.Count()
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed() time.Duration {
	return s.clock.Now().Sub(s.StartedAt)
}

// Finish records ended_at and the error count.
func (s *Session) Finish(ctx context.Context) error {
	endedAt := s.clock.Now()
	errorsNumber := s.errors.Count()
	metrics.SetSessionErrors(errorsNumber)
	if err := s.store.FinishSession(ctx, s.ID, endedAt, errorsNumber); err != nil {
		return fmt.Errorf("finish session %d: %w", s.ID, err)
	}
	s.logger.Info("session finished",
		zap.Duration("elapsed", endedAt.Sub(s.StartedAt)),
		zap.Int64("errors", errorsNumber),
	)
	return nil
}
