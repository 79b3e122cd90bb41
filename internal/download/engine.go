package download

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

// Worker downloads one document. *Downloader satisfies it.
type Worker interface {
	Download(ctx context.Context, dir string, doc crawler.Document) Result
}

// EngineConfig selects sequential or batched parallel execution.
type EngineConfig struct {
	Parallel      bool
	MaxConcurrent int
}

// Engine runs a Worker over a list of documents in batches of
// MaxConcurrent. In parallel mode a batch runs concurrently and the next
// batch starts only once it has fully finished.
type Engine struct {
	worker Worker
	cfg    EngineConfig
	clock  crawler.Clock
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(worker Worker, cfg EngineConfig, clock crawler.Clock, logger *zap.Logger) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{worker: worker, cfg: cfg, clock: clock, logger: logger.Named("download")}
}

// Run downloads docs into dir and returns how many were considered and how
// many succeeded. onBatch, when set, receives the size of every finished
// batch. Cancellation stops the engine between batches.
func (e *Engine) Run(ctx context.Context, dir string, docs []crawler.Document, onBatch func(n int)) (total, successful int) {
	start := e.clock.Now()
	size := e.cfg.MaxConcurrent

	for lo := 0; lo < len(docs); lo += size {
		if ctx.Err() != nil {
			e.logger.Warn("download interrupted", zap.Int("done", total), zap.Int("remaining", len(docs)-total))
			break
		}
		hi := min(lo+size, len(docs))
		results := e.runBatch(ctx, dir, docs[lo:hi])
		for _, res := range results {
			if res.OK {
				successful++
			}
		}
		total += len(results)
		if onBatch != nil {
			onBatch(len(results))
		}
		e.logger.Info("download batch finished",
			zap.Int("done", total),
			zap.Int("total", len(docs)),
			zap.Int("successful", successful),
			zap.String("remaining", crawler.RemainingTimeEstimate(e.clock.Now().Sub(start), total, len(docs))),
		)
	}
	return total, successful
}

// runBatch returns results in input order.
func (e *Engine) runBatch(ctx context.Context, dir string, batch []crawler.Document) []Result {
	results := make([]Result, len(batch))
	if !e.cfg.Parallel {
		for i, doc := range batch {
			results[i] = e.worker.Download(ctx, dir, doc)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrent)
	for i, doc := range batch {
		g.Go(func() error {
			results[i] = e.worker.Download(ctx, dir, doc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
