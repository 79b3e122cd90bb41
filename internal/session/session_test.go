package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/igo-publications-crawler/internal/clock/system"
	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

type fakeSessionStore struct {
	created  time.Time
	finished struct {
		id      int64
		endedAt time.Time
		errors  int64
	}
	createErr error
}

func (f *fakeSessionStore) CreateSession(_ context.Context, startedAt time.Time) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = startedAt
	return 42, nil
}

func (f *fakeSessionStore) FinishSession(_ context.Context, id int64, endedAt time.Time, errorsNumber int64) error {
	f.finished.id = id
	f.finished.endedAt = endedAt
	f.finished.errors = errorsNumber
	return nil
}

func (f *fakeSessionStore) GetSession(context.Context, int64) (crawler.Session, error) {
	return crawler.Session{}, crawler.ErrNotFound
}

func (f *fakeSessionStore) ListSessions(context.Context, int) ([]crawler.Session, error) {
	return nil, nil
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

func TestSessionCountsErrorsAndFinishes(t *testing.T) {
	t.Parallel()

	store := &fakeSessionStore{}
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clk := system.NewManual(start)
	core, logs := observer.New(zap.InfoLevel)

	sess, err := Start(context.Background(), store, clk, fixedID("run-1"), zap.New(core))
	require.NoError(t, err)
	require.Equal(t, int64(42), sess.ID)
	require.Equal(t, "run-1", sess.RunID)
	require.Equal(t, start, store.created)

	log := sess.Logger().Named("download")
	log.Error("download failed")
	log.Warn("wrong content type")
	log.Error("insert failed")
	require.Equal(t, int64(2), sess.Errors())

	clk.Advance(time.Hour)
	require.Equal(t, time.Hour, sess.Elapsed())
	require.NoError(t, sess.Finish(context.Background()))
	require.Equal(t, int64(42), store.finished.id)
	require.Equal(t, start.Add(time.Hour), store.finished.endedAt)
	require.Equal(t, int64(2), store.finished.errors)

	entries := logs.FilterMessage("download failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "run-1", entries[0].ContextMap()["run_id"])
	require.EqualValues(t, 42, entries[0].ContextMap()["session_id"])
}

func TestStartPropagatesStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeSessionStore{createErr: errors.New("disk full")}
	_, err := Start(context.Background(), store, system.New(), fixedID("x"), nil)
	require.ErrorContains(t, err, "disk full")
}
