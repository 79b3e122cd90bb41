// Package adapter builds site adapters from configuration. Each adapter
// discovers publication URLs for one organization/region and resolves them
// into document details.
package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// KindListing is the generic "paginated listing + detail page" adapter.
const KindListing = "listing"

// Spec is one entry of the adapters: configuration list.
type Spec struct {
	Acronym string      `mapstructure:"acronym"`
	Region  string      `mapstructure:"region"`
	Kind    string      `mapstructure:"kind"`
	Active  bool        `mapstructure:"active"`
	Listing ListingSpec `mapstructure:"listing"`
}

// ListingSpec configures a listing adapter.
type ListingSpec struct {
	// ListingURL may contain a {page} placeholder replaced by the page number.
	ListingURL string `mapstructure:"listing_url"`
	// BaseURL completes relative links; defaults to the listing URL's scheme and host.
	BaseURL      string `mapstructure:"base_url"`
	FirstPage    int    `mapstructure:"first_page"`
	MaxPages     int    `mapstructure:"max_pages"`
	ItemSelector string `mapstructure:"item_selector"`
	ItemLinkAttr string `mapstructure:"item_link_attr"`
	// NextSelector points at the "next page" anchor. When set it wins over {page}.
	NextSelector string `mapstructure:"next_selector"`
	// StopOnShortPage ends discovery once a page lists fewer items than the first one.
	StopOnShortPage        bool    `mapstructure:"stop_on_short_page"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
	MaxUnchangedPages      int     `mapstructure:"max_unchanged_pages"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second"`

	Headless         bool   `mapstructure:"headless"`
	WaitSelector     string `mapstructure:"wait_selector"`
	LoadMoreSelector string `mapstructure:"load_more_selector"`
	MaxClicks        int    `mapstructure:"max_clicks"`

	Detail DetailSpec `mapstructure:"detail"`
}

// DetailSpec lists the selectors applied to a publication page.
type DetailSpec struct {
	// ScopeSelector must match for the page to count as a publication.
	ScopeSelector    string `mapstructure:"scope_selector"`
	TitleSelector    string `mapstructure:"title_selector"`
	DateSelector     string `mapstructure:"date_selector"`
	TagsSelector     string `mapstructure:"tags_selector"`
	LanguageSelector string `mapstructure:"language_selector"`
	// PDFSelector may match several links, one per language edition.
	PDFSelector string `mapstructure:"pdf_selector"`
	PDFAttr     string `mapstructure:"pdf_attr"`
}

const (
	defaultLinkAttr          = "href"
	defaultMaxFailures       = 3
	defaultMaxUnchangedPages = 2
	pagePlaceholder          = "{page}"
)

// Name returns the "<ACRONYM>-<Region>" label.
func (s Spec) Name() string {
	return s.Acronym + "-" + s.Region
}

// Validate checks the spec independently of whether it is active.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Acronym) == "" || strings.TrimSpace(s.Region) == "" {
		return errors.New("acronym and region are required")
	}
	switch s.Kind {
	case KindListing:
		if err := s.Listing.validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	case "":
		return fmt.Errorf("%s: kind is required", s.Name())
	default:
		return fmt.Errorf("%s: unknown kind %q", s.Name(), s.Kind)
	}
	return nil
}

func (l ListingSpec) validate() error {
	switch {
	case l.ListingURL == "":
		return errors.New("listing.listing_url is required")
	case l.ItemSelector == "":
		return errors.New("listing.item_selector is required")
	case l.Detail.PDFSelector == "":
		return errors.New("listing.detail.pdf_selector is required")
	case l.MaxPages < 0:
		return errors.New("listing.max_pages must be >= 0")
	case l.RequestsPerSecond < 0:
		return errors.New("listing.requests_per_second must be >= 0")
	case l.MaxConsecutiveFailures < 0 || l.MaxUnchangedPages < 0 || l.MaxClicks < 0:
		return errors.New("listing limits must be >= 0")
	}
	return nil
}

func (l ListingSpec) withDefaults() ListingSpec {
	if l.ItemLinkAttr == "" {
		l.ItemLinkAttr = defaultLinkAttr
	}
	if l.Detail.PDFAttr == "" {
		l.Detail.PDFAttr = defaultLinkAttr
	}
	if l.MaxConsecutiveFailures == 0 {
		l.MaxConsecutiveFailures = defaultMaxFailures
	}
	if l.MaxUnchangedPages == 0 {
		l.MaxUnchangedPages = defaultMaxUnchangedPages
	}
	return l
}

func (l ListingSpec) paginated() bool {
	return l.NextSelector != "" || strings.Contains(l.ListingURL, pagePlaceholder)
}
