package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

// OrganizationSaver upserts organizations by (acronym, region).
type OrganizationSaver interface {
	SaveOrganization(ctx context.Context, org crawler.Organization) (int64, error)
}

// Seeder writes a parsed catalog into the store.
type Seeder struct {
	store  OrganizationSaver
	logger *zap.Logger
}

// NewSeeder builds a Seeder.
func NewSeeder(store OrganizationSaver, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{store: store, logger: logger.Named("catalog")}
}

// Seed saves every organization and returns them with their ids set. It
// stops at the first store error.
func (s *Seeder) Seed(ctx context.Context, res Result) ([]crawler.Organization, error) {
	for _, skipped := range res.Skipped {
		s.logger.Warn("catalog row skipped", zap.Int("line", skipped.Line), zap.String("reason", skipped.Error))
	}
	saved := make([]crawler.Organization, 0, len(res.Organizations))
	for _, org := range res.Organizations {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		id, err := s.store.SaveOrganization(ctx, org)
		if err != nil {
			return saved, fmt.Errorf("save organization %s: %w", org.Label(), err)
		}
		org.ID = id
		saved = append(saved, org)
		s.logger.Debug("organization saved", zap.String("organization", org.Label()), zap.Int64("id", id))
	}
	s.logger.Info("catalog seeded",
		zap.Int("organizations", len(saved)),
		zap.Int("skipped_rows", len(res.Skipped)),
	)
	return saved, nil
}
