// Package postgres provides a Postgres-backed crawler.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements crawler.Store on a pgx pool.
type Store struct {
	pool pool
}

var _ crawler.Store = (*Store)(nil)

// NewStore connects to Postgres and ensures the schema exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// SaveOrganization inserts org or refreshes the row with the same
// (acronym, region).
func (s *Store) SaveOrganization(ctx context.Context, org crawler.Organization) (int64, error) {
	query := `
		INSERT INTO organizations (acronym, name, region, home_page_url, publication_urls)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (acronym, region) DO UPDATE SET
			name = EXCLUDED.name,
			home_page_url = EXCLUDED.home_page_url,
			publication_urls = EXCLUDED.publication_urls
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		org.Acronym, org.Name, org.Region, org.HomePageURL, org.PublicationURLs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save organization %s: %w", org.Label(), err)
	}
	return id, nil
}

const organizationColumns = "id, acronym, name, region, home_page_url, publication_urls"

// GetOrganization looks an organization up by its natural key.
func (s *Store) GetOrganization(ctx context.Context, acronym, region string) (crawler.Organization, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE acronym = $1 AND region = $2",
		acronym, region)
	org, err := scanOrganization(row)
	if err != nil {
		return crawler.Organization{}, fmt.Errorf("get organization %s-%s: %w", acronym, region, err)
	}
	return org, nil
}

// GetOrganizationByID looks an organization up by id.
func (s *Store) GetOrganizationByID(ctx context.Context, id int64) (crawler.Organization, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+organizationColumns+" FROM organizations WHERE id = $1", id)
	org, err := scanOrganization(row)
	if err != nil {
		return crawler.Organization{}, fmt.Errorf("get organization %d: %w", id, err)
	}
	return org, nil
}

// ListOrganizations returns all organizations ordered by id.
func (s *Store) ListOrganizations(ctx context.Context) ([]crawler.Organization, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+organizationColumns+" FROM organizations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []crawler.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// CreateSession inserts a session row and returns its id.
func (s *Store) CreateSession(ctx context.Context, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO sessions (started_at, errors_number) VALUES ($1, 0) RETURNING id",
		startedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// FinishSession records the end time and error count.
func (s *Store) FinishSession(ctx context.Context, id int64, endedAt time.Time, errorsNumber int64) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE sessions SET ended_at = $1, errors_number = $2 WHERE id = $3",
		endedAt.UTC(), errorsNumber, id)
	if err != nil {
		return fmt.Errorf("finish session %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, id int64) (crawler.Session, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT id, started_at, ended_at, errors_number FROM sessions WHERE id = $1", id)
	sess, err := scanSession(row)
	if err != nil {
		return crawler.Session{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]crawler.Session, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, started_at, ended_at, errors_number FROM sessions ORDER BY id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []crawler.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

const documentColumns = "id, session_id, organization_id, language, tags, publication_date, " +
	"downloaded_at, publication_url, pdf_link, error"

const documentValues = "$1, $2, $3, $4, $5, $6, $7, $8, $9, $10"

// GetDocument returns the canonical document with the given id.
func (s *Store) GetDocument(ctx context.Context, id string) (crawler.Document, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)
	doc, err := scanDocument(row)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// DocumentExists reports whether a canonical row exists.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return exists, nil
}

// InsertDocument inserts a canonical document.
func (s *Store) InsertDocument(ctx context.Context, doc crawler.Document) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO documents ("+documentColumns+") VALUES ("+documentValues+")",
		documentArgs(doc)...)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// UpdateDocument rewrites every column of an existing canonical document.
func (s *Store) UpdateDocument(ctx context.Context, doc crawler.Document) error {
	query := `
		UPDATE documents SET
			session_id = $2, organization_id = $3, language = $4, tags = $5, publication_date = $6,
			downloaded_at = $7, publication_url = $8, pdf_link = $9, error = $10
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, documentArgs(doc)...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, crawler.ErrNotFound)
	}
	return nil
}

// ResetStagedURLs empties temp_publications_urls and restarts its ids at 1.
func (s *Store) ResetStagedURLs(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE temp_publications_urls RESTART IDENTITY"); err != nil {
		return fmt.Errorf("reset temp_publications_urls: %w", err)
	}
	return nil
}

// StageURL inserts url unless it is already staged.
func (s *Store) StageURL(ctx context.Context, url string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"INSERT INTO temp_publications_urls (url) VALUES ($1) ON CONFLICT (url) DO NOTHING", url)
	if err != nil {
		return false, fmt.Errorf("stage url %s: %w", url, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountStagedURLs returns the number of staged URLs.
func (s *Store) CountStagedURLs(ctx context.Context) (int, error) {
	return s.count(ctx, "temp_publications_urls")
}

// StagedURLChunk returns up to limit staged URLs with id >= fromID.
func (s *Store) StagedURLChunk(ctx context.Context, fromID int64, limit int) ([]crawler.StagedURL, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, url FROM temp_publications_urls WHERE id >= $1 ORDER BY id LIMIT $2", fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("read staged urls from %d: %w", fromID, err)
	}
	defer rows.Close()

	var urls []crawler.StagedURL
	for rows.Next() {
		var u crawler.StagedURL
		if err := rows.Scan(&u.ID, &u.URL); err != nil {
			return nil, fmt.Errorf("scan staged url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ResetStagedDocuments empties temp_documents and restarts id_temp at 1.
func (s *Store) ResetStagedDocuments(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE temp_documents RESTART IDENTITY"); err != nil {
		return fmt.Errorf("reset temp_documents: %w", err)
	}
	return nil
}

// StageDocument inserts doc unless a candidate with the same id is staged.
func (s *Store) StageDocument(ctx context.Context, doc crawler.Document) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"INSERT INTO temp_documents ("+documentColumns+") VALUES ("+documentValues+") ON CONFLICT (id) DO NOTHING",
		documentArgs(doc)...)
	if err != nil {
		return false, fmt.Errorf("stage document %s: %w", doc.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountStagedDocuments returns the number of staged candidates.
func (s *Store) CountStagedDocuments(ctx context.Context) (int, error) {
	return s.count(ctx, "temp_documents")
}

// StagedDocumentChunk returns up to limit candidates with id_temp >= fromIDTemp.
func (s *Store) StagedDocumentChunk(ctx context.Context, fromIDTemp int64, limit int) ([]crawler.Document, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id_temp, "+documentColumns+" FROM temp_documents WHERE id_temp >= $1 ORDER BY id_temp LIMIT $2",
		fromIDTemp, limit)
	if err != nil {
		return nil, fmt.Errorf("read staged documents from %d: %w", fromIDTemp, err)
	}
	defer rows.Close()

	var docs []crawler.Document
	for rows.Next() {
		var idTemp int64
		doc, err := scanDocumentWith(rows, &idTemp)
		if err != nil {
			return nil, fmt.Errorf("scan staged document: %w", err)
		}
		doc.IDTemp = idTemp
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteStagedDocuments removes the given candidates in one statement.
func (s *Store) DeleteStagedDocuments(ctx context.Context, idTemps []int64) error {
	if len(idTemps) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM temp_documents WHERE id_temp = ANY($1)", idTemps); err != nil {
		return fmt.Errorf("delete %d staged documents: %w", len(idTemps), err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func scanOrganization(row pgx.Row) (crawler.Organization, error) {
	var org crawler.Organization
	err := row.Scan(&org.ID, &org.Acronym, &org.Name, &org.Region, &org.HomePageURL, &org.PublicationURLs)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Organization{}, crawler.ErrNotFound
	}
	return org, err
}

func scanSession(row pgx.Row) (crawler.Session, error) {
	var sess crawler.Session
	err := row.Scan(&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.ErrorsNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Session{}, crawler.ErrNotFound
	}
	return sess, err
}

func scanDocument(row pgx.Row) (crawler.Document, error) {
	return scanDocumentWith(row)
}

// scanDocumentWith scans documentColumns preceded by any extra destinations.
func scanDocumentWith(row pgx.Row, extra ...any) (crawler.Document, error) {
	var (
		doc       crawler.Document
		sessionID *int64
		orgID     *int64
		errFlag   int16
	)
	dest := append(extra,
		&doc.ID, &sessionID, &orgID, &doc.Language, &doc.Tags, &doc.PublicationDate,
		&doc.DownloadedAt, &doc.PublicationURL, &doc.PDFLink, &errFlag,
	)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Document{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Document{}, err
	}
	if sessionID != nil {
		doc.SessionID = *sessionID
	}
	if orgID != nil {
		doc.OrganizationID = *orgID
	}
	doc.Error = errFlag != 0
	return doc, nil
}

func documentArgs(doc crawler.Document) []any {
	var errFlag int16
	if doc.Error {
		errFlag = 1
	}
	return []any{
		doc.ID,
		nullableID(doc.SessionID),
		nullableID(doc.OrganizationID),
		doc.Language,
		doc.Tags,
		doc.PublicationDate,
		doc.DownloadedAt,
		doc.PublicationURL,
		doc.PDFLink,
		errFlag,
	}
}

func nullableID(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
