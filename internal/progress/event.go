package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart Stage = "SESSION_START"
	StageSessionDone  Stage = "SESSION_DONE"
	StageOrgStart     Stage = "ORG_START"
	StageOrgDone      Stage = "ORG_DONE"
	StageOrgError     Stage = "ORG_ERROR"
	StagePhaseStart   Stage = "PHASE_START"
	StagePhaseAdvance Stage = "PHASE_ADVANCE"
	StagePhaseDone    Stage = "PHASE_DONE"
)

// Phase is one of the four per-organization pipeline phases.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseDiscover Phase = "discover"
	PhaseResolve  Phase = "resolve"
	PhaseFilter   Phase = "filter"
	PhaseDownload Phase = "download"
)

// Event captures a single pipeline milestone.
type Event struct {
	// RunID identifies the session run that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Organization is the "<ACRONYM>-<Region>" label for org and phase events.
	Organization string
	Phase        Phase
	// Total is the phase size on PHASE_START; Done is the increment on
	// PHASE_ADVANCE and the final count on PHASE_DONE.
	Total int
	Done  int
	// Found and Downloaded summarize an organization on ORG_DONE.
	Found      int
	Downloaded int
	Dur        time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone:
	case StageOrgStart, StageOrgDone, StageOrgError:
		if e.Organization == "" {
			return fmt.Errorf("%s requires organization", e.Stage)
		}
	case StagePhaseStart, StagePhaseAdvance, StagePhaseDone:
		if e.Organization == "" || e.Phase == "" {
			return fmt.Errorf("%s requires organization and phase", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Done < 0 || e.Total < 0 {
		return errors.New("counters and duration must be >= 0")
	}
	return nil
}
