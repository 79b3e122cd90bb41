package progress

import (
	"context"
	"sync"
	"time"
)

// Organization states reported in a Snapshot.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

// OrgSnapshot is the latest known state of one organization.
type OrgSnapshot struct {
	Organization string    `json:"organization"`
	State        string    `json:"state"`
	Phase        Phase     `json:"phase,omitempty"`
	PhaseTotal   int       `json:"phase_total"`
	PhaseDone    int       `json:"phase_done"`
	Found        int       `json:"found"`
	Downloaded   int       `json:"downloaded"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Note         string    `json:"note,omitempty"`
}

// Snapshot is a point-in-time copy of the current session's progress.
type Snapshot struct {
	RunID         string        `json:"run_id,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Finished      bool          `json:"finished"`
	Found         int           `json:"found"`
	Downloaded    int           `json:"downloaded"`
	Organizations []OrgSnapshot `json:"organizations"`
}

// Tracker is a Sink that folds events into an in-memory Snapshot. A new
// SESSION_START resets it.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	index map[string]int
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{index: make(map[string]int)}
}

// Consume implements Sink.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt Event) {
	switch evt.Stage {
	case StageSessionStart:
		t.snap = Snapshot{RunID: evt.RunID, StartedAt: evt.TS}
		t.index = make(map[string]int)
		return
	case StageSessionDone:
		t.snap.Finished = true
		return
	}

	org := t.org(evt)
	org.UpdatedAt = evt.TS
	switch evt.Stage {
	case StageOrgStart:
		org.State = StateRunning
		org.StartedAt = evt.TS
	case StageOrgDone:
		org.State = StateDone
		org.Found = evt.Found
		org.Downloaded = evt.Downloaded
		t.snap.Found += evt.Found
		t.snap.Downloaded += evt.Downloaded
	case StageOrgError:
		org.State = StateError
		org.Note = evt.Note
	case StagePhaseStart:
		org.Phase = evt.Phase
		org.PhaseTotal = evt.Total
		org.PhaseDone = 0
	case StagePhaseAdvance:
		org.PhaseDone += evt.Done
	case StagePhaseDone:
		org.PhaseDone = evt.Done
	}
}

func (t *Tracker) org(evt Event) *OrgSnapshot {
	i, ok := t.index[evt.Organization]
	if !ok {
		t.snap.Organizations = append(t.snap.Organizations, OrgSnapshot{
			Organization: evt.Organization,
			State:        StateRunning,
			StartedAt:    evt.TS,
		})
		i = len(t.snap.Organizations) - 1
		t.index[evt.Organization] = i
	}
	return &t.snap.Organizations[i]
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snap
	out.Organizations = append([]OrgSnapshot(nil), t.snap.Organizations...)
	return out
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}
