package sinks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	pretty "github.com/jedib0t/go-pretty/v6/progress"

	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

// ConsoleSink renders one progress bar per organization phase on a terminal.
type ConsoleSink struct {
	pw   pretty.Writer
	done chan struct{}

	mu       sync.Mutex
	trackers map[string]*pretty.Tracker
	stopped  bool
}

// NewConsoleSink starts rendering to out. Close stops the renderer.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	pw := pretty.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetMessageLength(40)
	pw.SetUpdateFrequency(250 * time.Millisecond)
	pw.SetStyle(pretty.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Percentage = true
	pw.Style().Visibility.Value = true
	s := &ConsoleSink{pw: pw, done: make(chan struct{}), trackers: make(map[string]*pretty.Tracker)}
	go func() {
		defer close(s.done)
		pw.Render()
	}()
	return s
}

// Consume implements progress.Sink.
func (s *ConsoleSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *ConsoleSink) apply(evt progress.Event) {
	key := trackerKey(evt.Organization, evt.Phase)
	switch evt.Stage {
	case progress.StagePhaseStart:
		tr := &pretty.Tracker{
			Message: key,
			Total:   int64(evt.Total),
			Units:   pretty.UnitsDefault,
		}
		s.trackers[key] = tr
		s.pw.AppendTracker(tr)
	case progress.StagePhaseAdvance:
		if tr, ok := s.trackers[key]; ok {
			tr.Increment(int64(evt.Done))
		}
	case progress.StagePhaseDone:
		if tr, ok := s.trackers[key]; ok {
			tr.SetValue(int64(evt.Done))
			tr.MarkAsDone()
			delete(s.trackers, key)
		}
	case progress.StageOrgError:
		for k, tr := range s.trackers {
			if strings.HasPrefix(k, evt.Organization+" ") {
				tr.MarkAsErrored()
				delete(s.trackers, k)
			}
		}
	}
}

// Close stops rendering after a final refresh and waits for the renderer to
// exit.
func (s *ConsoleSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, tr := range s.trackers {
		tr.MarkAsDone()
	}
	s.trackers = make(map[string]*pretty.Tracker)
	s.mu.Unlock()

	// Stop is a no-op until Render has begun, so keep asking.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.pw.Stop()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("console sink close: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Open returns the number of phase bars still in progress.
func (s *ConsoleSink) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trackers)
}

func trackerKey(org string, phase progress.Phase) string {
	return fmt.Sprintf("%s %s", org, phase)
}
