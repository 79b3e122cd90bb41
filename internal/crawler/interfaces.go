package crawler

import (
	"context"
	"io"
	"time"
)

// OrganizationStore persists the organizations catalog.
type OrganizationStore interface {
	// SaveOrganization inserts org or refreshes the row with the same
	// (acronym, region) and returns its id.
	SaveOrganization(ctx context.Context, org Organization) (int64, error)
	GetOrganization(ctx context.Context, acronym, region string) (Organization, error)
	GetOrganizationByID(ctx context.Context, id int64) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
}

// SessionStore persists run sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, startedAt time.Time) (int64, error)
	FinishSession(ctx context.Context, id int64, endedAt time.Time, errorsNumber int64) error
	GetSession(ctx context.Context, id int64) (Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
}

// DocumentStore persists canonical documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (Document, error)
	DocumentExists(ctx context.Context, id string) (bool, error)
	InsertDocument(ctx context.Context, doc Document) error
	UpdateDocument(ctx context.Context, doc Document) error
}

// StagingStore manages the per-organization staging tables.
type StagingStore interface {
	ResetStagedURLs(ctx context.Context) error
	StageURL(ctx context.Context, url string) (bool, error)
	CountStagedURLs(ctx context.Context) (int, error)
	StagedURLChunk(ctx context.Context, fromID int64, limit int) ([]StagedURL, error)

	ResetStagedDocuments(ctx context.Context) error
	StageDocument(ctx context.Context, doc Document) (bool, error)
	CountStagedDocuments(ctx context.Context) (int, error)
	StagedDocumentChunk(ctx context.Context, fromIDTemp int64, limit int) ([]Document, error)
	DeleteStagedDocuments(ctx context.Context, idTemps []int64) error
}

// Store is the full relational store.
type Store interface {
	OrganizationStore
	SessionStore
	DocumentStore
	StagingStore
	Close() error
}

// URLStager is handed to adapters during discovery.
type URLStager interface {
	StageURL(ctx context.Context, url string) (bool, error)
}

// Adapter is one organization/region site integration.
type Adapter interface {
	Name() string
	Acronym() string
	Region() string
	Discover(ctx context.Context, stager URLStager) error
	Resolve(ctx context.Context, url string) ([]DocumentDetail, error)
}

// BlobStore writes downloaded payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar). event names
// the kind of payload, e.g. EventDocumentDownloaded.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Pauser blocks for a backoff delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// Hasher computes digests for integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
