// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Organization is one crawled site instance, keyed by acronym and region.
type Organization struct {
	ID              int64  `json:"id"`
	Acronym         string `json:"acronym"`
	Name            string `json:"name"`
	Region          string `json:"region"`
	HomePageURL     string `json:"home_page_url"`
	PublicationURLs string `json:"publication_urls"`
}

// Label returns the "<ACRONYM>-<Region>" display name.
func (o Organization) Label() string {
	return o.Acronym + "-" + o.Region
}

// Session is one process run.
type Session struct {
	ID           int64      `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ErrorsNumber int64      `json:"errors_number"`
}

// Document is a canonical publication row. Staged candidates share the same
// shape and additionally carry IDTemp, their cursor position in the staging
// table.
type Document struct {
	IDTemp          int64      `json:"id_temp,omitempty"`
	ID              string     `json:"id"`
	SessionID       int64      `json:"session_id"`
	OrganizationID  int64      `json:"organization_id"`
	Language        string     `json:"language"`
	Tags            string     `json:"tags"`
	PublicationDate string     `json:"publication_date"`
	DownloadedAt    *time.Time `json:"downloaded_at,omitempty"`
	PublicationURL  string     `json:"publication_url"`
	PDFLink         string     `json:"pdf_link"`
	Error           bool       `json:"error"`
}

// StagedURL is a discovered publication page waiting to be resolved.
type StagedURL struct {
	ID  int64
	URL string
}

// DocumentDetail is what an adapter extracts from a publication page.
type DocumentDetail struct {
	Title           string
	Tags            string
	PublicationDate string
	PublicationURL  string
	PDFLink         string
	Language        string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the raw result of a fetch. URL is the final URL after
// redirects.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ContentType returns the response Content-Type header.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// EventDocumentDownloaded is the event name of DocumentDownloaded.
const EventDocumentDownloaded = "document.downloaded"

// DocumentDownloaded is published after a payload has been stored.
type DocumentDownloaded struct {
	RunID        string    `json:"run_id"`
	SessionID    int64     `json:"session_id"`
	DocumentID   string    `json:"document_id"`
	Organization string    `json:"organization"`
	PDFLink      string    `json:"pdf_link"`
	BlobURI      string    `json:"blob_uri"`
	ContentType  string    `json:"content_type"`
	Bytes        int       `json:"bytes"`
	SHA256       string    `json:"sha256"`
	DownloadedAt time.Time `json:"downloaded_at"`
}
