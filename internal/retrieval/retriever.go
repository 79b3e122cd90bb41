// Package retrieval wraps a Fetcher with the crawler's retry rules: URL
// validation, default headers, and linear backoff on throttling and timeouts.
package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/metrics"
)

// ErrInvalidURL is returned for URLs without a scheme or host.
var ErrInvalidURL = errors.New("invalid url")

// StatusError reports a final non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HostLimiter spaces out requests to the same host.
// *ratelimit.Limiter satisfies it.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Config holds retrieval defaults; every field but Limiter can be overridden
// per call.
type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	MaxWait        time.Duration
	DefaultHeaders http.Header
	// Limiter is optional; nil means no per-host limit.
	Limiter HostLimiter
}

// Page is a parsed HTML response.
type Page struct {
	Doc      *goquery.Document
	Response crawler.FetchResponse
}

// Retriever issues GETs with retries.
type Retriever struct {
	cfg      Config
	fetcher  crawler.Fetcher
	insecure crawler.Fetcher
	pauser   crawler.Pauser
	logger   *zap.Logger
}

// New builds a Retriever. insecure is used when a call disables TLS
// verification; it may be nil, in which case fetcher serves every call.
func New(cfg Config, fetcher, insecure crawler.Fetcher, pauser crawler.Pauser, logger *zap.Logger) *Retriever {
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if insecure == nil {
		insecure = fetcher
	}
	return &Retriever{
		cfg:      cfg,
		fetcher:  fetcher,
		insecure: insecure,
		pauser:   pauser,
		logger:   logger,
	}
}

type options struct {
	timeout     time.Duration
	maxAttempts int
	maxWait     time.Duration
	headers     http.Header
	skipVerify  bool
}

// Option overrides a default for a single call.
type Option func(*options)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxAttempts sets the number of retries after the first request.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithMaxWait sets the total backoff budget.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithHeaders adds headers on top of the defaults. Caller values win.
func WithHeaders(h http.Header) Option {
	return func(o *options) {
		for k, v := range h {
			o.headers[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
}

// WithTLSVerify toggles certificate verification.
func WithTLSVerify(verify bool) Option {
	return func(o *options) { o.skipVerify = !verify }
}

func (r *Retriever) options(opts []Option) options {
	o := options{
		timeout:     r.cfg.Timeout,
		maxAttempts: r.cfg.MaxAttempts,
		maxWait:     r.cfg.MaxWait,
		headers:     r.cfg.DefaultHeaders.Clone(),
	}
	if o.headers == nil {
		o.headers = http.Header{}
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get fetches url, retrying throttled and timed-out attempts. It returns the
// last response when the final status is 2xx, a *StatusError otherwise.
func (r *Retriever) Get(ctx context.Context, url string, opts ...Option) (crawler.FetchResponse, error) {
	if !crawler.IsValidURL(url) {
		return crawler.FetchResponse{}, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	o := r.options(opts)
	policy := crawler.NewLinearRetryPolicy(o.maxAttempts, o.maxWait)
	fetcher := r.fetcher
	if o.skipVerify {
		fetcher = r.insecure
	}

	request := crawler.FetchRequest{URL: url, Headers: o.headers, Timeout: o.timeout}
	for attempt := 0; ; attempt++ {
		if r.cfg.Limiter != nil {
			if err := r.cfg.Limiter.Wait(ctx, url); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("GET %s: %w", url, err)
			}
		}
		resp, err := fetcher.Fetch(ctx, request)
		metrics.ObserveFetch(url, resp.StatusCode, len(resp.Body))

		if !policy.ShouldRetry(resp.StatusCode, err, attempt) {
			if err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("GET %s: %w", url, err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return resp, &StatusError{URL: url, StatusCode: resp.StatusCode}
			}
			return resp, nil
		}

		delay := policy.Backoff(attempt + 1)
		r.logger.Warn("request throttled, backing off",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
			zap.Int("retry", attempt+1),
			zap.Duration("delay", delay),
		)
		metrics.ObserveBackoff(url, delay)
		r.pauser.Pause(ctx, delay)
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("GET %s: %w", url, ctx.Err())
		}
	}
}

// GetPage fetches and parses an HTML page. Failures are logged at ERROR and
// reported as nil.
func (r *Retriever) GetPage(ctx context.Context, url string, opts ...Option) *Page {
	resp, err := r.Get(ctx, url, opts...)
	if err != nil {
		r.logger.Error("page retrieval failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	page, err := Parse(resp)
	if err != nil {
		r.logger.Error("page parse failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return page
}

// Parse builds a Page from an already fetched response.
func Parse(resp crawler.FetchResponse) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{Doc: doc, Response: resp}, nil
}
