package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerFoldsEvents(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := NewTracker()
	require.NoError(t, tr.Consume(context.Background(), []Event{
		{RunID: "r", TS: ts, Stage: StageSessionStart},
		{RunID: "r", TS: ts, Stage: StageOrgStart, Organization: "WHO-Africa"},
		{RunID: "r", TS: ts, Stage: StagePhaseStart, Organization: "WHO-Africa", Phase: PhaseDownload, Total: 10},
		{RunID: "r", TS: ts, Stage: StagePhaseAdvance, Organization: "WHO-Africa", Phase: PhaseDownload, Done: 3},
		{RunID: "r", TS: ts, Stage: StagePhaseAdvance, Organization: "WHO-Africa", Phase: PhaseDownload, Done: 4},
	}))

	snap := tr.Snapshot()
	require.Len(t, snap.Organizations, 1)
	org := snap.Organizations[0]
	assert.Equal(t, StateRunning, org.State)
	assert.Equal(t, PhaseDownload, org.Phase)
	assert.Equal(t, 10, org.PhaseTotal)
	assert.Equal(t, 7, org.PhaseDone)

	require.NoError(t, tr.Consume(context.Background(), []Event{
		{RunID: "r", TS: ts, Stage: StageOrgDone, Organization: "WHO-Africa", Found: 10, Downloaded: 7},
		{RunID: "r", TS: ts, Stage: StageOrgError, Organization: "UNICEF-Global", Note: "boom"},
		{RunID: "r", TS: ts, Stage: StageSessionDone},
	}))
	snap = tr.Snapshot()
	assert.True(t, snap.Finished)
	assert.Equal(t, 10, snap.Found)
	assert.Equal(t, 7, snap.Downloaded)
	require.Len(t, snap.Organizations, 2)
	assert.Equal(t, StateDone, snap.Organizations[0].State)
	assert.Equal(t, StateError, snap.Organizations[1].State)
	assert.Equal(t, "boom", snap.Organizations[1].Note)
}

func TestTrackerResetsOnNewSession(t *testing.T) {
	t.Parallel()

	ts := time.Now().UTC()
	tr := NewTracker()
	require.NoError(t, tr.Consume(context.Background(), []Event{
		{RunID: "a", TS: ts, Stage: StageSessionStart},
		{RunID: "a", TS: ts, Stage: StageOrgStart, Organization: "WHO-Africa"},
		{RunID: "b", TS: ts, Stage: StageSessionStart},
	}))
	snap := tr.Snapshot()
	assert.Equal(t, "b", snap.RunID)
	assert.Empty(t, snap.Organizations)
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	ts := time.Now().UTC()
	tr := NewTracker()
	require.NoError(t, tr.Consume(context.Background(), []Event{
		{RunID: "a", TS: ts, Stage: StageOrgStart, Organization: "WHO-Africa"},
	}))
	snap := tr.Snapshot()
	snap.Organizations[0].State = "mutated"
	assert.Equal(t, StateRunning, tr.Snapshot().Organizations[0].State)
}
