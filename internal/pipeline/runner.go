// Package pipeline runs the per-organization crawl: discover publication
// URLs, resolve them into document candidates, filter what is already known
// and download the rest.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/dedup"
	"github.com/JakeFAU/igo-publications-crawler/internal/download"
	"github.com/JakeFAU/igo-publications-crawler/internal/metrics"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

// Store is what the runner needs from the relational store.
type Store interface {
	crawler.StagingStore
	GetDocument(ctx context.Context, id string) (crawler.Document, error)
}

// WorkerFactory returns the download worker for one organization label.
type WorkerFactory func(org string) download.Worker

// Config holds chunk sizes.
type Config struct {
	URLChunkSize      int
	DocumentChunkSize int
}

// Deps are the runner's collaborators.
type Deps struct {
	Store     Store
	Filter    *dedup.Filter
	Workers   WorkerFactory
	Engine    download.EngineConfig
	Emitter   progress.Emitter
	Clock     crawler.Clock
	Languages crawler.Languages
	Logger    *zap.Logger
	// SessionID and RunID stamp staged candidates and progress events.
	SessionID int64
	RunID     string
}

// Result summarizes one organization run.
type Result struct {
	Organization string
	Discovered   int
	Resolved     int
	Filtered     int
	// Found is the number of candidates left to download after filtering.
	Found      int
	Downloaded int
	Dur        time.Duration
	Err        error
}

// Runner executes the four phases for one organization at a time.
type Runner struct {
	deps Deps
	cfg  Config
}

// NewRunner builds a Runner.
func NewRunner(cfg Config, deps Deps) *Runner {
	if cfg.URLChunkSize <= 0 {
		cfg.URLChunkSize = 100
	}
	if cfg.DocumentChunkSize <= 0 {
		cfg.DocumentChunkSize = 100
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg}
}

// Run processes org with its adapter. A discovery failure or a store error
// aborts the organization and is reported in Result.Err; per-item failures
// are logged and skipped.
func (r *Runner) Run(ctx context.Context, org crawler.Organization, a crawler.Adapter) Result {
	label := org.Label()
	res := Result{Organization: label}
	logger := r.deps.Logger.With(zap.String("organization", label))
	start := r.deps.Clock.Now()
	r.emit(progress.Event{Stage: progress.StageOrgStart, Organization: label})

	err := r.run(ctx, org, a, logger, &res)
	res.Dur = r.deps.Clock.Now().Sub(start)
	if err != nil {
		res.Err = err
		logger.Error("organization run aborted", zap.Error(err))
		r.emit(progress.Event{Stage: progress.StageOrgError, Organization: label, Dur: res.Dur, Note: err.Error()})
		return res
	}
	logger.Info("organization finished",
		zap.Int("discovered", res.Discovered),
		zap.Int("found", res.Found),
		zap.Int("downloaded", res.Downloaded),
		zap.Duration("dur", res.Dur),
	)
	r.emit(progress.Event{
		Stage: progress.StageOrgDone, Organization: label,
		Found: res.Found, Downloaded: res.Downloaded, Dur: res.Dur,
	})
	return res
}

func (r *Runner) run(ctx context.Context, org crawler.Organization, a crawler.Adapter, logger *zap.Logger, res *Result) error {
	store := r.deps.Store
	if err := store.ResetStagedURLs(ctx); err != nil {
		return fmt.Errorf("reset staged urls: %w", err)
	}
	if err := store.ResetStagedDocuments(ctx); err != nil {
		return fmt.Errorf("reset staged documents: %w", err)
	}

	var err error
	if res.Discovered, err = r.discover(ctx, org, a, logger); err != nil {
		return err
	}
	if res.Resolved, err = r.resolve(ctx, org, a, logger); err != nil {
		return err
	}
	if res.Filtered, err = r.filter(ctx, org); err != nil {
		return err
	}
	res.Found, res.Downloaded, err = r.download(ctx, org, logger)
	return err
}

func (r *Runner) discover(ctx context.Context, org crawler.Organization, a crawler.Adapter, logger *zap.Logger) (int, error) {
	label := org.Label()
	phase := r.startPhase(label, progress.PhaseDiscover, 0)
	stager := &urlStager{store: r.deps.Store, org: label}
	if err := a.Discover(ctx, stager); err != nil {
		return 0, fmt.Errorf("discover: %w", err)
	}
	n, err := r.deps.Store.CountStagedURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("count staged urls: %w", err)
	}
	logger.Info("publication urls discovered", zap.Int("urls", n))
	phase.done(n)
	return n, nil
}

func (r *Runner) resolve(ctx context.Context, org crawler.Organization, a crawler.Adapter, logger *zap.Logger) (int, error) {
	label := org.Label()
	total, err := r.deps.Store.CountStagedURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("count staged urls: %w", err)
	}
	phase := r.startPhase(label, progress.PhaseResolve, total)

	staged := 0
	var from int64
	for {
		if err := ctx.Err(); err != nil {
			return staged, fmt.Errorf("resolve: %w", err)
		}
		chunk, err := r.deps.Store.StagedURLChunk(ctx, from, r.cfg.URLChunkSize)
		if err != nil {
			return staged, fmt.Errorf("read staged urls from %d: %w", from, err)
		}
		if len(chunk) == 0 {
			break
		}
		for _, u := range chunk {
			details, err := a.Resolve(ctx, u.URL)
			if err != nil {
				if ctx.Err() != nil {
					return staged, fmt.Errorf("resolve: %w", ctx.Err())
				}
				logger.Error("resolving publication failed", zap.String("url", u.URL), zap.Error(err))
				continue
			}
			for _, detail := range details {
				added, err := r.stageDocument(ctx, org, detail, logger)
				if err != nil {
					return staged, err
				}
				if added {
					staged++
				}
			}
		}
		phase.advance(len(chunk))
		from = chunk[len(chunk)-1].ID + 1
	}
	metrics.ObserveStaged(label, "document", staged)
	logger.Info("publication details resolved", zap.Int("urls", total), zap.Int("candidates", staged))
	phase.done(total)
	return staged, nil
}

// stageDocument turns a detail into a staging candidate keyed by its
// fingerprint. Details without a link are skipped.
func (r *Runner) stageDocument(
	ctx context.Context,
	org crawler.Organization,
	detail crawler.DocumentDetail,
	logger *zap.Logger,
) (bool, error) {
	link := crawler.FixURL(strings.TrimSpace(detail.PDFLink))
	if link == "" {
		logger.Warn("publication without download link", zap.String("url", detail.PublicationURL))
		return false, nil
	}
	lang := crawler.FormatLanguage(detail.Language, r.deps.Languages)
	title := strings.TrimSpace(detail.Title)
	doc := crawler.Document{
		ID:              crawler.GenerateDocumentID(org.Acronym, org.Region, title, lang, link),
		SessionID:       r.deps.SessionID,
		OrganizationID:  org.ID,
		Language:        lang,
		Tags:            detail.Tags,
		PublicationDate: detail.PublicationDate,
		PublicationURL:  detail.PublicationURL,
		PDFLink:         link,
	}
	added, err := r.deps.Store.StageDocument(ctx, doc)
	if err != nil {
		return false, fmt.Errorf("stage document %s: %w", doc.ID, err)
	}
	return added, nil
}

func (r *Runner) filter(ctx context.Context, org crawler.Organization) (int, error) {
	label := org.Label()
	total, err := r.deps.Store.CountStagedDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("count staged documents: %w", err)
	}
	phase := r.startPhase(label, progress.PhaseFilter, total)
	_, removed, err := r.deps.Filter.Run(ctx, phase.advance)
	if err != nil {
		return removed, err
	}
	metrics.ObserveStaged(label, "filtered", removed)
	phase.done(total)
	return removed, nil
}

func (r *Runner) download(ctx context.Context, org crawler.Organization, logger *zap.Logger) (found, downloaded int, err error) {
	label := org.Label()
	found, err = r.deps.Store.CountStagedDocuments(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count staged documents: %w", err)
	}
	logger.Info("documents to download", zap.Int("found", found))
	phase := r.startPhase(label, progress.PhaseDownload, found)
	engine := download.NewEngine(r.deps.Workers(label), r.deps.Engine, r.deps.Clock, logger)
	dir := crawler.OrganizationDir(org.Acronym, org.Region)

	considered := 0
	var from int64
	for {
		if err := ctx.Err(); err != nil {
			return found, downloaded, fmt.Errorf("download: %w", err)
		}
		chunk, err := r.deps.Store.StagedDocumentChunk(ctx, from, r.cfg.DocumentChunkSize)
		if err != nil {
			return found, downloaded, fmt.Errorf("read staged documents from %d: %w", from, err)
		}
		if len(chunk) == 0 {
			break
		}
		total, ok := engine.Run(ctx, dir, chunk, phase.advance)
		considered += total
		downloaded += ok
		from = chunk[len(chunk)-1].IDTemp + 1
	}
	phase.done(considered)
	return found, downloaded, nil
}

func (r *Runner) emit(evt progress.Event) {
	evt.RunID = r.deps.RunID
	evt.TS = r.deps.Clock.Now().UTC()
	r.deps.Emitter.Emit(evt)
}

type phaseTracker struct {
	r     *Runner
	org   string
	phase progress.Phase
	start time.Time
}

func (r *Runner) startPhase(org string, phase progress.Phase, total int) *phaseTracker {
	r.emit(progress.Event{Stage: progress.StagePhaseStart, Organization: org, Phase: phase, Total: total})
	return &phaseTracker{r: r, org: org, phase: phase, start: r.deps.Clock.Now()}
}

func (p *phaseTracker) advance(n int) {
	p.r.emit(progress.Event{Stage: progress.StagePhaseAdvance, Organization: p.org, Phase: p.phase, Done: n})
}

func (p *phaseTracker) done(n int) {
	p.r.emit(progress.Event{
		Stage: progress.StagePhaseDone, Organization: p.org, Phase: p.phase,
		Done: n, Dur: p.r.deps.Clock.Now().Sub(p.start),
	})
}

// urlStager repairs URLs before staging them and counts new ones.
type urlStager struct {
	store crawler.StagingStore
	org   string
}

func (s *urlStager) StageURL(ctx context.Context, url string) (bool, error) {
	url = crawler.FixURL(strings.TrimSpace(url))
	if url == "" {
		return false, nil
	}
	added, err := s.store.StageURL(ctx, url)
	if err != nil {
		return false, fmt.Errorf("stage url %s: %w", url, err)
	}
	if added {
		metrics.ObserveStaged(s.org, "url", 1)
	}
	return added, nil
}
