package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

// PrometheusSink exports per-organization pipeline progress.
type PrometheusSink struct {
	orgsStarted   prometheus.Counter
	orgsCompleted *prometheus.CounterVec
	orgsRunning   prometheus.Gauge
	orgRuntime    *prometheus.HistogramVec

	phaseItems    *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec

	found      prometheus.Counter
	downloaded prometheus.Counter

	tracker *orgTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		orgsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "igocrawler_organizations_started_total",
			Help: "Organizations whose pipeline has started.",
		}),
		orgsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igocrawler_organizations_completed_total",
			Help: "Organizations completed partitioned by result.",
		}, []string{"result"}),
		orgsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "igocrawler_organizations_running",
			Help: "Organizations currently being processed.",
		}),
		orgRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "igocrawler_organization_runtime_seconds",
			Help:    "Wall time per organization.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		phaseItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igocrawler_phase_items_total",
			Help: "Items processed per pipeline phase.",
		}, []string{"phase"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "igocrawler_phase_duration_seconds",
			Help:    "Wall time per pipeline phase.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"phase"}),
		found: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "igocrawler_documents_found_total",
			Help: "Documents left to download after filtering.",
		}),
		downloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "igocrawler_documents_downloaded_total",
			Help: "Documents downloaded successfully.",
		}),
		tracker: newOrgTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.orgsStarted,
		s.orgsCompleted,
		s.orgsRunning,
		s.orgRuntime,
		s.phaseItems,
		s.phaseDuration,
		s.found,
		s.downloaded,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageOrgStart:
		s.orgsStarted.Inc()
		if s.tracker.start(evt.Organization) {
			s.orgsRunning.Inc()
		}
	case progress.StageOrgDone:
		s.orgsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
		s.found.Add(float64(evt.Found))
		s.downloaded.Add(float64(evt.Downloaded))
		s.complete(evt)
	case progress.StageOrgError:
		s.orgsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
		s.complete(evt)
	case progress.StagePhaseAdvance:
		if evt.Done > 0 {
			s.phaseItems.WithLabelValues(string(evt.Phase)).Add(float64(evt.Done))
		}
	case progress.StagePhaseDone:
		if evt.Dur > 0 {
			s.phaseDuration.WithLabelValues(string(evt.Phase)).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) complete(evt progress.Event) {
	if s.tracker.complete(evt.Organization) {
		s.orgsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.orgRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type orgTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newOrgTracker() *orgTracker {
	return &orgTracker{running: make(map[string]struct{})}
}

func (t *orgTracker) start(org string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[org]; ok {
		return false
	}
	t.running[org] = struct{}{}
	return true
}

func (t *orgTracker) complete(org string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[org]; !ok {
		return false
	}
	delete(t.running, org)
	return true
}
