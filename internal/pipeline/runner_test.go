package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/igo-publications-crawler/internal/clock/system"
	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/dedup"
	"github.com/JakeFAU/igo-publications-crawler/internal/download"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/sqlite"
)

// fakeAdapter stages urls and answers Resolve from details; a url mapped to
// a nil slice fails to resolve.
type fakeAdapter struct {
	acronym, region string
	urls            []string
	details         map[string][]crawler.DocumentDetail
	discoverErr     error
}

func (a *fakeAdapter) Name() string    { return a.acronym + "-" + a.region }
func (a *fakeAdapter) Acronym() string { return a.acronym }
func (a *fakeAdapter) Region() string  { return a.region }

func (a *fakeAdapter) Discover(ctx context.Context, stager crawler.URLStager) error {
	if a.discoverErr != nil {
		return a.discoverErr
	}
	for _, u := range a.urls {
		if _, err := stager.StageURL(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (a *fakeAdapter) Resolve(_ context.Context, url string) ([]crawler.DocumentDetail, error) {
	details, ok := a.details[url]
	if !ok || details == nil {
		return nil, errors.New("page layout changed")
	}
	return details, nil
}

// fakeWorker succeeds for every document not listed in fail.
type fakeWorker struct {
	mu   sync.Mutex
	fail map[string]bool
	dirs map[string]bool
	seen []crawler.Document
}

func (w *fakeWorker) Download(_ context.Context, dir string, doc crawler.Document) download.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs == nil {
		w.dirs = map[string]bool{}
	}
	w.dirs[dir] = true
	w.seen = append(w.seen, doc)
	return download.Result{Document: doc, OK: !w.fail[doc.PDFLink]}
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		if evt.Stage != progress.StagePhaseAdvance {
			out = append(out, evt.Stage)
		}
	}
	return out
}

type harness struct {
	store   *sqlite.Store
	worker  *fakeWorker
	events  *recorder
	runner  *Runner
	session int64
}

func newHarness(t *testing.T, cfg Config, filter dedup.Config) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "igo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	sessionID, err := store.CreateSession(ctx, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	h := &harness{store: store, worker: &fakeWorker{fail: map[string]bool{}}, events: &recorder{}, session: sessionID}
	h.runner = NewRunner(cfg, Deps{
		Store:     store,
		Filter:    dedup.New(store, filter, nil),
		Workers:   func(string) download.Worker { return h.worker },
		Engine:    download.EngineConfig{MaxConcurrent: 2},
		Emitter:   h.events,
		Clock:     system.NewManual(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
		Languages: crawler.DefaultLanguages(),
		SessionID: sessionID,
		RunID:     "run-1",
	})
	return h
}

func (h *harness) saveOrg(t *testing.T, acronym, region string) crawler.Organization {
	t.Helper()
	org := crawler.Organization{Acronym: acronym, Region: region, Name: acronym}
	id, err := h.store.SaveOrganization(context.Background(), org)
	require.NoError(t, err)
	org.ID = id
	return org
}

func detail(page, title, link, lang string) crawler.DocumentDetail {
	return crawler.DocumentDetail{Title: title, PublicationURL: page, PDFLink: link, Language: lang}
}

// whoAdapter discovers three pages. Two resolve to five candidates in total,
// the third fails.
func whoAdapter() *fakeAdapter {
	p1, p2, p3 := "https://www.afro.who.int/p/1", "https://www.afro.who.int/p/2", "https://www.afro.who.int/p/3"
	return &fakeAdapter{
		acronym: "WHO", region: "Africa",
		urls: []string{p1, p2, p3, p1},
		details: map[string][]crawler.DocumentDetail{
			p1: {
				detail(p1, "Annual report", "https://www.afro.who.int/files/annual-en.pdf", "English"),
				detail(p1, "Annual report", "https://www.afro.who.int/files/annual-fr.pdf", "(FRA)"),
				detail(p1, "Annual report", "https:/www.afro.who.int/files/annual-es.pdf", "es"),
			},
			p2: {
				detail(p2, "Malaria brief", "https://www.afro.who.int/files/malaria.pdf", "English"),
				detail(p2, "Malaria brief", "https://www.afro.who.int/files/malaria-ar.pdf", "Arabic"),
				detail(p2, "Untitled", "", "English"),
			},
			p3: nil,
		},
	}
}

func TestRunnerEndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{URLChunkSize: 2, DocumentChunkSize: 2}, dedup.Config{ChunkSize: 2})
	org := h.saveOrg(t, "WHO", "Africa")
	ctx := context.Background()

	// Two candidates already downloaded successfully in an earlier session.
	for _, existing := range []struct{ title, lang, link string }{
		{"Annual report", "English", "https://www.afro.who.int/files/annual-en.pdf"},
		{"Malaria brief", "Arabic", "https://www.afro.who.int/files/malaria-ar.pdf"},
	} {
		require.NoError(t, h.store.InsertDocument(ctx, crawler.Document{
			ID:             crawler.GenerateDocumentID("WHO", "Africa", existing.title, existing.lang, existing.link),
			SessionID:      h.session,
			OrganizationID: org.ID,
			PDFLink:        existing.link,
		}))
	}
	h.worker.fail["https://www.afro.who.int/files/malaria.pdf"] = true

	res := h.runner.Run(ctx, org, whoAdapter())
	require.NoError(t, res.Err)
	assert.Equal(t, "WHO-Africa", res.Organization)
	assert.Equal(t, 3, res.Discovered)
	assert.Equal(t, 5, res.Resolved)
	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 2, res.Downloaded)

	links := make([]string, 0, len(h.worker.seen))
	for _, doc := range h.worker.seen {
		links = append(links, doc.PDFLink)
		assert.Equal(t, h.session, doc.SessionID)
		assert.Equal(t, org.ID, doc.OrganizationID)
		assert.NotEmpty(t, doc.Language)
	}
	sort.Strings(links)
	assert.Equal(t, []string{
		"https://www.afro.who.int/files/annual-es.pdf",
		"https://www.afro.who.int/files/annual-fr.pdf",
		"https://www.afro.who.int/files/malaria.pdf",
	}, links)
	assert.Equal(t, map[string]bool{"who/africa": true}, h.worker.dirs)

	assert.Equal(t, []progress.Stage{
		progress.StageOrgStart,
		progress.StagePhaseStart, progress.StagePhaseDone,
		progress.StagePhaseStart, progress.StagePhaseDone,
		progress.StagePhaseStart, progress.StagePhaseDone,
		progress.StagePhaseStart, progress.StagePhaseDone,
		progress.StageOrgDone,
	}, h.events.stages())
	for _, evt := range h.events.events {
		require.NoError(t, evt.Validate())
	}
	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, 3, last.Found)
	assert.Equal(t, 2, last.Downloaded)
}

func TestRunnerResetsStagingBetweenOrganizations(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, dedup.Config{})
	ctx := context.Background()

	_, err := h.store.StageURL(ctx, "https://leftover.org/p")
	require.NoError(t, err)
	_, err = h.store.StageDocument(ctx, crawler.Document{ID: "LEFTOVER", PDFLink: "https://leftover.org/x.pdf"})
	require.NoError(t, err)

	res := h.runner.Run(ctx, h.saveOrg(t, "UNICEF", "Global"), &fakeAdapter{acronym: "UNICEF", region: "Global"})
	require.NoError(t, res.Err)
	assert.Zero(t, res.Discovered)
	assert.Zero(t, res.Found)
	assert.Empty(t, h.worker.seen)
}

func TestRunnerDownloadsExistingWhenForced(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, dedup.Config{DownloadEvenIfExist: true})
	org := h.saveOrg(t, "WHO", "Africa")
	ctx := context.Background()

	link := "https://www.afro.who.int/files/annual-en.pdf"
	require.NoError(t, h.store.InsertDocument(ctx, crawler.Document{
		ID:        crawler.GenerateDocumentID("WHO", "Africa", "Annual report", "English", link),
		SessionID: h.session, OrganizationID: org.ID, PDFLink: link,
	}))

	res := h.runner.Run(ctx, org, whoAdapter())
	require.NoError(t, res.Err)
	assert.Zero(t, res.Filtered)
	assert.Equal(t, 5, res.Found)
	assert.Equal(t, 5, res.Downloaded)
}

func TestRunnerDiscoveryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, dedup.Config{})
	org := h.saveOrg(t, "UNDP", "Global")

	res := h.runner.Run(context.Background(), org, &fakeAdapter{
		acronym: "UNDP", region: "Global", discoverErr: errors.New("listing unavailable"),
	})
	require.ErrorContains(t, res.Err, "listing unavailable")
	stages := h.events.stages()
	assert.Equal(t, progress.StageOrgError, stages[len(stages)-1])
	assert.Empty(t, h.worker.seen)
}

func TestRunnerCanceled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, dedup.Config{})
	org := h.saveOrg(t, "WHO", "Africa")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.runner.Run(ctx, org, whoAdapter())
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, h.worker.seen)
}
