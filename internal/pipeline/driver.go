package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

// Organizations looks up the catalog row of an adapter.
type Organizations interface {
	GetOrganization(ctx context.Context, acronym, region string) (crawler.Organization, error)
}

// Summary aggregates the results of a session.
type Summary struct {
	Results       []Result
	Organizations int
	Failed        int
	Discovered    int
	Found         int
	Downloaded    int
}

// Percent returns Downloaded/Found as a percentage rounded to two decimals,
// or 0 when nothing was found.
func (s Summary) Percent() float64 {
	if s.Found == 0 {
		return 0
	}
	return math.Round(float64(s.Downloaded)/float64(s.Found)*10000) / 100
}

func (s *Summary) add(res Result) {
	s.Results = append(s.Results, res)
	s.Organizations++
	if res.Err != nil {
		s.Failed++
	}
	s.Discovered += res.Discovered
	s.Found += res.Found
	s.Downloaded += res.Downloaded
}

// Driver runs every adapter of a session one organization at a time.
type Driver struct {
	orgs          Organizations
	runner        *Runner
	stopOnFailure bool
	logger        *zap.Logger
}

// NewDriver builds a Driver. When stopOnFailure is set the first failed
// organization ends the session.
func NewDriver(orgs Organizations, runner *Runner, stopOnFailure bool) *Driver {
	return &Driver{
		orgs:          orgs,
		runner:        runner,
		stopOnFailure: stopOnFailure,
		logger:        runner.deps.Logger,
	}
}

// Run processes adapters in order. It returns ctx.Err() when the session is
// canceled and the failing organization's error when stopOnFailure is set;
// the summary covers whatever ran before that.
func (d *Driver) Run(ctx context.Context, adapters []crawler.Adapter) (Summary, error) {
	var sum Summary
	start := d.runner.deps.Clock.Now()
	d.runner.emit(progress.Event{Stage: progress.StageSessionStart, Total: len(adapters)})
	defer func() {
		d.runner.emit(progress.Event{
			Stage: progress.StageSessionDone, Found: sum.Found, Downloaded: sum.Downloaded,
			Dur: d.runner.deps.Clock.Now().Sub(start),
		})
	}()

	for _, a := range adapters {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		org, err := d.orgs.GetOrganization(ctx, a.Acronym(), a.Region())
		if err != nil {
			if errors.Is(err, crawler.ErrNotFound) {
				err = fmt.Errorf("organization %s-%s is not in the catalog: %w", a.Acronym(), a.Region(), err)
			}
			res := Result{Organization: a.Acronym() + "-" + a.Region(), Err: err}
			d.logger.Error("organization lookup failed", zap.String("adapter", a.Name()), zap.Error(err))
			sum.add(res)
			if d.stopOnFailure {
				return sum, err
			}
			continue
		}

		res := d.runner.Run(ctx, org, a)
		sum.add(res)
		if res.Err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			if d.stopOnFailure {
				return sum, fmt.Errorf("organization %s: %w", res.Organization, res.Err)
			}
		}
	}

	d.logger.Info("session summary",
		zap.Int("organizations", sum.Organizations),
		zap.Int("failed", sum.Failed),
		zap.Int("found", sum.Found),
		zap.Int("downloaded", sum.Downloaded),
		zap.Float64("percent", sum.Percent()),
	)
	return sum, nil
}
