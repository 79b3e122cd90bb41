package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

// ErrDisabled is returned when headless rendering is turned off.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop implements Renderer but always fails; it stands in when
// headless.enabled is false.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Render returns ErrDisabled.
func (Noop) Render(_ context.Context, _ RenderRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrDisabled
}
