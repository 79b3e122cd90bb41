package adapter

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/fetcher/headless"
)

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Pages    PageGetter
	Renderer headless.Renderer
	// Promoter, when set, lets static listings fall back to the renderer for
	// pages that look client-side rendered.
	Promoter  Promoter
	Languages crawler.Languages
	Logger    *zap.Logger
}

// Promoter decides whether a fetched page must be rendered instead.
// *detector.Heuristic satisfies it.
type Promoter interface {
	ShouldPromote(resp crawler.FetchResponse) bool
}

// BuilderFunc creates an adapter from its spec.
type BuilderFunc func(spec Spec, deps Deps) (crawler.Adapter, error)

// Registry maps adapter kinds to their builders.
type Registry struct {
	builders map[string]BuilderFunc
}

// NewRegistry returns a registry with the built-in kinds registered.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]BuilderFunc)}
	r.Register(KindListing, func(spec Spec, deps Deps) (crawler.Adapter, error) {
		return NewListing(spec, deps)
	})
	return r
}

// Register adds or replaces the builder for kind.
func (r *Registry) Register(kind string, builder BuilderFunc) {
	r.builders[kind] = builder
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build instantiates every active spec, preserving configuration order.
func (r *Registry) Build(specs []Spec, deps Deps) ([]crawler.Adapter, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Renderer == nil {
		deps.Renderer = headless.NewNoop()
	}
	out := make([]crawler.Adapter, 0, len(specs))
	for _, spec := range specs {
		if !spec.Active {
			continue
		}
		builder, ok := r.builders[spec.Kind]
		if !ok {
			return nil, fmt.Errorf("adapter %s: unknown kind %q", spec.Name(), spec.Kind)
		}
		a, err := builder(spec, deps)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", spec.Name(), err)
		}
		out = append(out, a)
	}
	return out, nil
}
