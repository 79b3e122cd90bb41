package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	org := "WHO-Africa"
	batch := []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StageOrgStart, Organization: org},
		{RunID: "r", TS: now, Stage: progress.StageOrgStart, Organization: org},
		{RunID: "r", TS: now, Stage: progress.StagePhaseAdvance, Organization: org, Phase: progress.PhaseDownload, Done: 4},
		{RunID: "r", TS: now, Stage: progress.StagePhaseAdvance, Organization: org, Phase: progress.PhaseDownload, Done: 2},
		{
			RunID: "r", TS: now, Stage: progress.StagePhaseDone, Organization: org,
			Phase: progress.PhaseDownload, Done: 6, Dur: 3 * time.Second,
		},
		{RunID: "r", TS: now, Stage: progress.StageOrgDone, Organization: org, Found: 8, Downloaded: 6, Dur: time.Minute},
		{RunID: "r", TS: now, Stage: progress.StageOrgError, Organization: "UNICEF-Global"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.orgsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.orgsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.orgsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.orgsRunning))
	require.InDelta(t, 6.0, testutil.ToFloat64(sink.phaseItems.WithLabelValues("download")), 1e-9)
	require.InDelta(t, 8.0, testutil.ToFloat64(sink.found), 1e-9)
	require.InDelta(t, 6.0, testutil.ToFloat64(sink.downloaded), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.phaseDuration, "igocrawler_phase_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.orgRuntime, "igocrawler_organization_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
