package adapter

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/igo-publications-crawler/internal/retrieval"
)

// ErrListingUnavailable means discovery never managed to load a listing page.
var ErrListingUnavailable = errors.New("listing page unavailable")

const clickPause = 2 * time.Second

// PageGetter loads a parsed page or nil. *retrieval.Retriever satisfies it.
type PageGetter interface {
	GetPage(ctx context.Context, url string, opts ...retrieval.Option) *retrieval.Page
}

// Listing crawls a paginated listing page and reads each publication page
// with CSS selectors.
type Listing struct {
	spec     Spec
	cfg      ListingSpec
	base     string
	pages    PageGetter
	renderer headless.Renderer
	promoter Promoter
	langs    crawler.Languages
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewListing builds a listing adapter.
func NewListing(spec Spec, deps Deps) (*Listing, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if deps.Pages == nil {
		return nil, errors.New("listing adapter requires a page getter")
	}
	cfg := spec.Listing.withDefaults()
	base := cfg.BaseURL
	if base == "" {
		base = crawler.BaseURL(strings.ReplaceAll(cfg.ListingURL, pagePlaceholder, "0"))
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = headless.NewNoop()
	}
	return &Listing{
		spec:     spec,
		cfg:      cfg,
		base:     base,
		pages:    deps.Pages,
		renderer: renderer,
		promoter: deps.Promoter,
		langs:    deps.Languages,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.Named("adapter").With(zap.String("organization", spec.Name())),
	}, nil
}

// Name implements crawler.Adapter.
func (l *Listing) Name() string { return l.spec.Name() }

// Acronym implements crawler.Adapter.
func (l *Listing) Acronym() string { return l.spec.Acronym }

// Region implements crawler.Adapter.
func (l *Listing) Region() string { return l.spec.Region }

// Discover walks the listing pages and stages every item link. It stops when
// a page has no items, no next link, fewer items than the first page (when
// configured), too many pages in a row stage nothing new, or too many page
// loads in a row fail.
func (l *Listing) Discover(ctx context.Context, stager crawler.URLStager) error {
	pageNum := l.cfg.FirstPage
	next := l.pageURL(pageNum)
	visited := map[string]struct{}{}
	var (
		loaded, failures, unchanged, staged int
		firstCount                          = -1
	)

	for i := 0; l.cfg.MaxPages == 0 || i < l.cfg.MaxPages; i++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("discover %s: %w", l.Name(), err)
		}
		doc, finalURL := l.load(ctx, next)
		if doc == nil {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("discover %s: %w", l.Name(), err)
			}
			failures++
			l.logger.Warn("listing page unavailable", zap.String("url", next), zap.Int("failures", failures))
			if failures >= l.cfg.MaxConsecutiveFailures {
				if loaded == 0 {
					return fmt.Errorf("discover %s: %w: %s", l.Name(), ErrListingUnavailable, next)
				}
				break
			}
			if l.cfg.NextSelector == "" && l.cfg.paginated() {
				pageNum++
				next = l.pageURL(pageNum)
			}
			continue
		}
		loaded++
		failures = 0
		visited[next] = struct{}{}

		links := l.itemLinks(doc, finalURL)
		added := 0
		for _, link := range links {
			ok, err := stager.StageURL(ctx, link)
			if err != nil {
				return fmt.Errorf("discover %s: stage url: %w", l.Name(), err)
			}
			if ok {
				added++
			}
		}
		staged += added
		l.logger.Debug("listing page read",
			zap.String("url", next), zap.Int("items", len(links)), zap.Int("new", added))

		if len(links) == 0 || !l.cfg.paginated() {
			break
		}
		if firstCount < 0 {
			firstCount = len(links)
		} else if l.cfg.StopOnShortPage && len(links) < firstCount {
			break
		}
		if added == 0 {
			unchanged++
			if unchanged >= l.cfg.MaxUnchangedPages {
				break
			}
		} else {
			unchanged = 0
		}

		if l.cfg.NextSelector != "" {
			href, ok := doc.Find(l.cfg.NextSelector).First().Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				break
			}
			next = crawler.AddBaseURLIfMissing(crawler.BaseURL(finalURL), strings.TrimSpace(href))
			if _, seen := visited[next]; seen {
				break
			}
			continue
		}
		pageNum++
		next = l.pageURL(pageNum)
	}

	l.logger.Info("discovery finished", zap.Int("pages", loaded), zap.Int("staged", staged))
	return nil
}

// Resolve reads one publication page. A page that cannot be loaded or does
// not match the scope selector yields no details.
func (l *Listing) Resolve(ctx context.Context, url string) ([]crawler.DocumentDetail, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", url, err)
	}
	page := l.pages.GetPage(ctx, url)
	if page == nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", url, err)
		}
		return nil, nil
	}
	d := l.cfg.Detail
	root := page.Doc.Selection
	if d.ScopeSelector != "" {
		root = root.Find(d.ScopeSelector).First()
		if root.Length() == 0 {
			l.logger.Warn("publication page without expected content", zap.String("url", url))
			return nil, nil
		}
	}

	title := firstText(root, d.TitleSelector)
	if title == "" {
		title = titleFromURL(url)
	}
	date := firstText(root, d.DateSelector)
	tags := joinTexts(root, d.TagsSelector)
	pageLang := ""
	if d.LanguageSelector != "" {
		pageLang = crawler.FormatLanguage(firstText(root, d.LanguageSelector), l.langs)
	}

	base := crawler.BaseURL(page.Response.URL)
	if base == "" {
		base = l.base
	}
	seen := map[string]struct{}{}
	var details []crawler.DocumentDetail
	root.Find(d.PDFSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr(d.PDFAttr)
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		link := crawler.AddBaseURLIfMissing(base, href)
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		lang := crawler.LanguageFromText(s.Text(), l.langs)
		if lang == "" {
			lang = pageLang
		}
		details = append(details, crawler.DocumentDetail{
			Title:           title,
			Tags:            tags,
			PublicationDate: date,
			PublicationURL:  url,
			PDFLink:         link,
			Language:        lang,
		})
	})
	return details, nil
}

func (l *Listing) pageURL(n int) string {
	return strings.ReplaceAll(l.cfg.ListingURL, pagePlaceholder, strconv.Itoa(n))
}

// load returns the parsed page and its final URL, or nil.
func (l *Listing) load(ctx context.Context, url string) (*goquery.Document, string) {
	if !l.cfg.Headless {
		page := l.pages.GetPage(ctx, url)
		if page == nil {
			return nil, ""
		}
		if l.promoter == nil || !l.promoter.ShouldPromote(page.Response) {
			return page.Doc, page.Response.URL
		}
		l.logger.Debug("listing page looks client-side rendered, promoting", zap.String("url", url))
		if doc, final := l.render(ctx, url); doc != nil {
			return doc, final
		}
		return page.Doc, page.Response.URL
	}
	return l.render(ctx, url)
}

func (l *Listing) render(ctx context.Context, url string) (*goquery.Document, string) {
	resp, err := l.renderer.Render(ctx, headless.RenderRequest{
		URL:           url,
		WaitSelector:  l.cfg.WaitSelector,
		ClickSelector: l.cfg.LoadMoreSelector,
		MaxClicks:     l.cfg.MaxClicks,
		ClickPause:    clickPause,
	})
	if err != nil {
		if errors.Is(err, headless.ErrDisabled) && !l.cfg.Headless {
			return nil, ""
		}
		l.logger.Error("headless render failed", zap.String("url", url), zap.Error(err))
		return nil, ""
	}
	page, err := retrieval.Parse(resp)
	if err != nil {
		l.logger.Error("rendered page parse failed", zap.String("url", url), zap.Error(err))
		return nil, ""
	}
	return page.Doc, resp.URL
}

func (l *Listing) itemLinks(doc *goquery.Document, pageURL string) []string {
	base := l.base
	if pageURL != "" && l.cfg.BaseURL == "" {
		base = crawler.BaseURL(pageURL)
	}
	var links []string
	seen := map[string]struct{}{}
	doc.Find(l.cfg.ItemSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr(l.cfg.ItemLinkAttr)
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		link := crawler.AddBaseURLIfMissing(base, href)
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func firstText(root *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(root.Find(selector).First().Text()), " ")
}

func joinTexts(root *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	var parts []string
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "; ")
}

// titleFromURL falls back to the last path segment with dashes as spaces.
func titleFromURL(raw string) string {
	trimmed := strings.TrimRight(raw, "/")
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.ReplaceAll(path.Base(trimmed), "-", " ")
}
