package sinks

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

func TestConsoleSinkTracksPhases(t *testing.T) {
	t.Parallel()

	sink := NewConsoleSink(io.Discard)
	now := time.Now()
	org := "WHO-Africa"
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StagePhaseStart, Organization: org, Phase: progress.PhaseResolve, Total: 4},
		{RunID: "r", TS: now, Stage: progress.StagePhaseStart, Organization: org, Phase: progress.PhaseDownload, Total: 4},
		{RunID: "r", TS: now, Stage: progress.StagePhaseAdvance, Organization: org, Phase: progress.PhaseResolve, Done: 2},
	}))
	require.Equal(t, 2, sink.Open())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StagePhaseDone, Organization: org, Phase: progress.PhaseResolve, Done: 4},
	}))
	require.Equal(t, 1, sink.Open())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StageOrgError, Organization: org},
	}))
	require.Zero(t, sink.Open())

	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StagePhaseStart, Organization: org, Phase: progress.PhaseFilter, Total: 1},
	}))
	require.Zero(t, sink.Open())
}
