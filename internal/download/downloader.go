// Package download fetches the payloads of staged documents, stores them in
// the blob store and records the outcome canonically.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/metrics"
	"github.com/JakeFAU/igo-publications-crawler/internal/retrieval"
)

// Outcome labels recorded in metrics.
const (
	OutcomeDownloaded   = "downloaded"
	OutcomeWrongType    = "wrong_type"
	OutcomeHTTPError    = "http_error"
	OutcomeStorageError = "storage_error"
	OutcomePersistError = "persist_error"
)

var (
	errWrongType  = errors.New("unexpected content type")
	errNoPDFLink  = errors.New("landing page has no pdf link")
	errSecondHop  = errors.New("landing page led to another html page")
	errInvalidPDF = errors.New("payload is not a valid pdf")
)

const landingPDFLink = `a[href*=".pdf"]`

// Getter issues GETs with the retry policy. *retrieval.Retriever satisfies it.
type Getter interface {
	Get(ctx context.Context, url string, opts ...retrieval.Option) (crawler.FetchResponse, error)
}

// DocumentStore is the canonical subset used to persist outcomes.
type DocumentStore interface {
	DocumentExists(ctx context.Context, id string) (bool, error)
	InsertDocument(ctx context.Context, doc crawler.Document) error
	UpdateDocument(ctx context.Context, doc crawler.Document) error
}

// Config holds the download policy.
type Config struct {
	// FileTypes maps an extension to the content type it is stored for.
	FileTypes   map[string]string
	UserAgent   string
	ValidatePDF bool
	// RunID and Organization label events and metrics.
	RunID        string
	Organization string
}

// Result is the outcome of one document.
type Result struct {
	Document crawler.Document
	OK       bool
	URI      string
	Outcome  string
	Err      error

	payload payload
}

type payload struct {
	contentType string
	size        int
	sha256      string
}

type fileType struct {
	ext         string
	contentType string
}

// Downloader fetches and records one document at a time. It is safe for
// concurrent use.
type Downloader struct {
	getter    Getter
	blobs     crawler.BlobStore
	docs      DocumentStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	cfg       Config
	types     []fileType
	logger    *zap.Logger
}

// NewDownloader wires a Downloader. publisher and hasher may be nil.
func NewDownloader(
	cfg Config,
	getter Getter,
	blobs crawler.BlobStore,
	docs DocumentStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	logger *zap.Logger,
) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := make([]string, 0, len(cfg.FileTypes))
	for ext := range cfg.FileTypes {
		keys = append(keys, ext)
	}
	sort.Strings(keys)
	types := make([]fileType, 0, len(keys))
	for _, ext := range keys {
		types = append(types, fileType{ext: strings.ToLower(ext), contentType: strings.ToLower(cfg.FileTypes[ext])})
	}
	return &Downloader{
		getter:    getter,
		blobs:     blobs,
		docs:      docs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		types:     types,
		logger:    logger.Named("download"),
	}
}

// ForOrganization returns a copy whose logs, metrics and events carry org.
func (d *Downloader) ForOrganization(org string) *Downloader {
	c := *d
	c.cfg.Organization = org
	c.logger = d.logger.With(zap.String("organization", org))
	return &c
}

// Download fetches doc.PDFLink, stores it under dir and records the attempt.
func (d *Downloader) Download(ctx context.Context, dir string, doc crawler.Document) Result {
	res := d.fetch(ctx, dir, doc)
	if !res.OK {
		res.Document.Error = true
	}
	if err := d.persist(ctx, res.Document); err != nil {
		d.logger.Error("recording download outcome failed", zap.String("id", doc.ID), zap.Error(err))
		res.OK = false
		res.Outcome = OutcomePersistError
		res.Err = errors.Join(res.Err, err)
	} else if res.OK {
		d.publish(ctx, res)
	}
	metrics.ObserveDocument(d.cfg.Organization, res.Outcome)
	return res
}

func (d *Downloader) fetch(ctx context.Context, dir string, doc crawler.Document) Result {
	res := Result{Document: doc}
	link := doc.PDFLink
	headers := http.Header{"User-Agent": []string{d.cfg.UserAgent}}

	for hop := 0; ; hop++ {
		resp, err := d.getter.Get(ctx, link, retrieval.WithTLSVerify(false), retrieval.WithHeaders(headers))
		if err != nil {
			d.logger.Error("document download failed", zap.String("id", doc.ID), zap.String("url", link), zap.Error(err))
			res.Outcome, res.Err = OutcomeHTTPError, err
			return res
		}
		contentType := strings.ToLower(resp.ContentType())

		if ft, ok := d.match(contentType); ok {
			if ft.ext == "pdf" && d.cfg.ValidatePDF {
				if err := validatePDF(resp.Body); err != nil {
					d.logger.Warn("downloaded file is not a valid pdf",
						zap.String("id", doc.ID), zap.String("url", link), zap.Error(err))
					res.Outcome, res.Err = OutcomeWrongType, err
					return res
				}
			}
			return d.store(ctx, dir, doc, ft, resp)
		}

		if strings.Contains(contentType, "html") {
			if hop > 0 {
				d.logger.Warn("download stopped", zap.String("id", doc.ID), zap.String("url", link), zap.Error(errSecondHop))
				res.Outcome, res.Err = OutcomeWrongType, errSecondHop
				return res
			}
			next, err := landingLink(resp)
			if err != nil {
				d.logger.Warn("download stopped", zap.String("id", doc.ID), zap.String("url", link), zap.Error(err))
				res.Outcome, res.Err = OutcomeWrongType, err
				return res
			}
			d.logger.Debug("following landing page", zap.String("id", doc.ID), zap.String("from", link), zap.String("to", next))
			link = next
			continue
		}

		d.logger.Warn("unexpected content type",
			zap.String("id", doc.ID), zap.String("url", link), zap.String("content_type", contentType))
		res.Outcome, res.Err = OutcomeWrongType, fmt.Errorf("%w: %q", errWrongType, contentType)
		return res
	}
}

func (d *Downloader) match(contentType string) (fileType, bool) {
	for _, ft := range d.types {
		if ft.contentType != "" && strings.Contains(contentType, ft.contentType) {
			return ft, true
		}
	}
	return fileType{}, false
}

func (d *Downloader) store(ctx context.Context, dir string, doc crawler.Document, ft fileType, resp crawler.FetchResponse) Result {
	res := Result{Document: doc}
	key := path.Join(dir, doc.ID+"."+ft.ext)
	uri, err := d.blobs.PutObject(ctx, key, ft.contentType, bytes.NewReader(resp.Body))
	if err != nil {
		d.logger.Error("storing document failed", zap.String("id", doc.ID), zap.String("path", key), zap.Error(err))
		res.Outcome, res.Err = OutcomeStorageError, err
		return res
	}
	d.logger.Debug("document stored", zap.String("id", doc.ID), zap.String("uri", uri), zap.Int("bytes", len(resp.Body)))
	res.OK, res.URI, res.Outcome = true, uri, OutcomeDownloaded
	res.Document.Error = false
	return d.withDigest(res, resp)
}

// withDigest carries the payload details needed by publish.
func (d *Downloader) withDigest(res Result, resp crawler.FetchResponse) Result {
	res.payload = payload{contentType: resp.ContentType(), size: len(resp.Body)}
	if d.hasher != nil {
		sum, err := d.hasher.Hash(resp.Body)
		if err != nil {
			d.logger.Warn("hashing document failed", zap.String("id", res.Document.ID), zap.Error(err))
		}
		res.payload.sha256 = sum
	}
	return res
}

// persist inserts the attempt, or updates it in place when the id already
// exists canonically. The filter only lets existing ids through when they
// failed before with retries on, or when every document is re-downloaded.
func (d *Downloader) persist(ctx context.Context, doc crawler.Document) error {
	now := d.clock.Now().UTC()
	doc.DownloadedAt = &now
	exists, err := d.docs.DocumentExists(ctx, doc.ID)
	if err != nil {
		return err
	}
	if exists {
		return d.docs.UpdateDocument(ctx, doc)
	}
	return d.docs.InsertDocument(ctx, doc)
}

func (d *Downloader) publish(ctx context.Context, res Result) {
	if d.publisher == nil {
		return
	}
	event := crawler.DocumentDownloaded{
		RunID:        d.cfg.RunID,
		SessionID:    res.Document.SessionID,
		DocumentID:   res.Document.ID,
		Organization: d.cfg.Organization,
		PDFLink:      res.Document.PDFLink,
		BlobURI:      res.URI,
		ContentType:  res.payload.contentType,
		Bytes:        res.payload.size,
		SHA256:       res.payload.sha256,
		DownloadedAt: d.clock.Now().UTC(),
	}
	if _, err := d.publisher.Publish(ctx, crawler.EventDocumentDownloaded, event); err != nil {
		d.logger.Warn("publishing download event failed", zap.String("id", res.Document.ID), zap.Error(err))
	}
}

// landingLink returns the first pdf link of an HTML landing page, resolved
// against the page's final URL.
func landingLink(resp crawler.FetchResponse) (string, error) {
	page, err := retrieval.Parse(resp)
	if err != nil {
		return "", err
	}
	href, ok := page.Doc.Find(landingPDFLink).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", errNoPDFLink
	}
	return crawler.AddBaseURLIfMissing(crawler.BaseURL(resp.URL), href), nil
}

func validatePDF(body []byte) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(body), conf); err != nil {
		return fmt.Errorf("%w: %w", errInvalidPDF, err)
	}
	return nil
}
