// Package dedup prunes staged document candidates that are already recorded
// canonically.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

// Store is the subset of crawler.Store used by the filter.
type Store interface {
	StagedDocumentChunk(ctx context.Context, fromIDTemp int64, limit int) ([]crawler.Document, error)
	DeleteStagedDocuments(ctx context.Context, idTemps []int64) error
	GetDocument(ctx context.Context, id string) (crawler.Document, error)
}

// Config mirrors the download policy flags.
type Config struct {
	ChunkSize                  int
	DownloadEvenIfExist        bool
	RetryDownloadInNextSession bool
}

// Filter removes staged candidates that already exist.
type Filter struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// New builds a Filter. A non-positive chunk size falls back to 100.
func New(store Store, cfg Config, logger *zap.Logger) *Filter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{store: store, cfg: cfg, logger: logger.Named("dedup")}
}

// Exists reports whether a canonical row blocks a new download: it succeeded,
// or it failed and failures are not retried.
func (f *Filter) Exists(canonical crawler.Document) bool {
	return !canonical.Error || !f.cfg.RetryDownloadInNextSession
}

// Run walks staged candidates by cursor and deletes the ones that exist,
// one delete per chunk. onChunk, when set, receives the size of each chunk.
func (f *Filter) Run(ctx context.Context, onChunk func(n int)) (checked, removed int, err error) {
	if f.cfg.DownloadEvenIfExist {
		f.logger.Info("filter skipped, download_even_if_exist is set")
		return 0, 0, nil
	}
	var from int64
	for {
		if err := ctx.Err(); err != nil {
			return checked, removed, fmt.Errorf("filter: %w", err)
		}
		chunk, err := f.store.StagedDocumentChunk(ctx, from, f.cfg.ChunkSize)
		if err != nil {
			return checked, removed, fmt.Errorf("filter: read chunk from %d: %w", from, err)
		}
		if len(chunk) == 0 {
			break
		}

		var existing []int64
		for _, doc := range chunk {
			canonical, err := f.store.GetDocument(ctx, doc.ID)
			switch {
			case errors.Is(err, crawler.ErrNotFound):
				continue
			case err != nil:
				return checked, removed, fmt.Errorf("filter: lookup %s: %w", doc.ID, err)
			}
			if f.Exists(canonical) {
				existing = append(existing, doc.IDTemp)
			}
		}
		if err := f.store.DeleteStagedDocuments(ctx, existing); err != nil {
			return checked, removed, fmt.Errorf("filter: delete %d candidates: %w", len(existing), err)
		}

		checked += len(chunk)
		removed += len(existing)
		if onChunk != nil {
			onChunk(len(chunk))
		}
		from = chunk[len(chunk)-1].IDTemp + 1
	}
	f.logger.Info("filter finished", zap.Int("checked", checked), zap.Int("removed", removed))
	return checked, removed, nil
}
