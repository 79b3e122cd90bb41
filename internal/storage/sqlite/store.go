// Package sqlite implements crawler.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/sqlite/migrations"
)

const timeLayout = time.RFC3339

// Store is a SQLite-backed crawler.Store. A single connection is kept open,
// so statements from concurrent download workers are serialized.
type Store struct {
	db   *sql.DB
	path string
}

var _ crawler.Store = (*Store)(nil)

// Open creates (or opens) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs all pending migrations.
func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Organizations ====================

// SaveOrganization inserts org or refreshes the row with the same
// (acronym, region).
func (s *Store) SaveOrganization(ctx context.Context, org crawler.Organization) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (acronym, name, region, home_page_url, publication_urls)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(acronym, region) DO UPDATE SET
			name = excluded.name,
			home_page_url = excluded.home_page_url,
			publication_urls = excluded.publication_urls
	`, org.Acronym, org.Name, org.Region, org.HomePageURL, org.PublicationURLs)
	if err != nil {
		return 0, fmt.Errorf("saving organization %s: %w", org.Label(), err)
	}

	saved, err := s.GetOrganization(ctx, org.Acronym, org.Region)
	if err != nil {
		return 0, err
	}
	return saved.ID, nil
}

const organizationColumns = "id, acronym, name, region, home_page_url, publication_urls"

// GetOrganization looks an organization up by its natural key.
func (s *Store) GetOrganization(ctx context.Context, acronym, region string) (crawler.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE acronym = ? AND region = ?",
		acronym, region,
	)
	org, err := scanOrganization(row)
	if err != nil {
		return crawler.Organization{}, fmt.Errorf("getting organization %s-%s: %w", acronym, region, err)
	}
	return org, nil
}

// GetOrganizationByID looks an organization up by id.
func (s *Store) GetOrganizationByID(ctx context.Context, id int64) (crawler.Organization, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+organizationColumns+" FROM organizations WHERE id = ?", id)
	org, err := scanOrganization(row)
	if err != nil {
		return crawler.Organization{}, fmt.Errorf("getting organization %d: %w", id, err)
	}
	return org, nil
}

// ListOrganizations returns all organizations ordered by id.
func (s *Store) ListOrganizations(ctx context.Context) ([]crawler.Organization, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+organizationColumns+" FROM organizations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	defer rows.Close()

	var orgs []crawler.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// ==================== Sessions ====================

// CreateSession inserts a session row and returns its id.
func (s *Store) CreateSession(ctx context.Context, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (started_at, errors_number) VALUES (?, 0)",
		startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("creating session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading session id: %w", err)
	}
	return id, nil
}

// FinishSession records the end time and error count.
func (s *Store) FinishSession(ctx context.Context, id int64, endedAt time.Time, errorsNumber int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ?, errors_number = ? WHERE id = ?",
		endedAt.UTC().Format(timeLayout), errorsNumber, id,
	)
	if err != nil {
		return fmt.Errorf("finishing session %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("session %d", id))
}

// GetSession returns one session.
func (s *Store) GetSession(ctx context.Context, id int64) (crawler.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, started_at, ended_at, errors_number FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if err != nil {
		return crawler.Session{}, fmt.Errorf("getting session %d: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]crawler.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started_at, ended_at, errors_number FROM sessions ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []crawler.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ==================== Documents ====================

const documentColumns = "id, session_id, organization_id, language, tags, publication_date, " +
	"downloaded_at, publication_url, pdf_link, error"

// GetDocument returns the canonical document with the given id.
func (s *Store) GetDocument(ctx context.Context, id string) (crawler.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("getting document %s: %w", id, err)
	}
	return doc, nil
}

// DocumentExists reports whether a canonical row exists.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM documents WHERE id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("checking document %s: %w", id, err)
	}
	return n > 0, nil
}

// InsertDocument inserts a canonical document.
func (s *Store) InsertDocument(ctx context.Context, doc crawler.Document) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents ("+documentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		documentArgs(doc)...,
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", doc.ID, err)
	}
	return nil
}

// UpdateDocument rewrites every column of an existing canonical document.
func (s *Store) UpdateDocument(ctx context.Context, doc crawler.Document) error {
	args := documentArgs(doc)
	args = append(args[1:], doc.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET
			session_id = ?, organization_id = ?, language = ?, tags = ?, publication_date = ?,
			downloaded_at = ?, publication_url = ?, pdf_link = ?, error = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", doc.ID, err)
	}
	return requireAffected(res, "document "+doc.ID)
}

// ==================== Staging ====================

// ResetStagedURLs empties temp_publications_urls and restarts its ids at 1.
func (s *Store) ResetStagedURLs(ctx context.Context) error {
	return s.reset(ctx, "temp_publications_urls")
}

// StageURL inserts url unless it is already staged.
func (s *Store) StageURL(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO temp_publications_urls (url) VALUES (?)", url)
	if err != nil {
		return false, fmt.Errorf("staging url %s: %w", url, err)
	}
	return inserted(res)
}

// CountStagedURLs returns the number of staged URLs.
func (s *Store) CountStagedURLs(ctx context.Context) (int, error) {
	return s.count(ctx, "temp_publications_urls")
}

// StagedURLChunk returns up to limit staged URLs with id >= fromID.
func (s *Store) StagedURLChunk(ctx context.Context, fromID int64, limit int) ([]crawler.StagedURL, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, url FROM temp_publications_urls WHERE id >= ? ORDER BY id LIMIT ?", fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading staged urls from %d: %w", fromID, err)
	}
	defer rows.Close()

	var urls []crawler.StagedURL
	for rows.Next() {
		var u crawler.StagedURL
		if err := rows.Scan(&u.ID, &u.URL); err != nil {
			return nil, fmt.Errorf("scanning staged url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ResetStagedDocuments empties temp_documents and restarts id_temp at 1.
func (s *Store) ResetStagedDocuments(ctx context.Context) error {
	return s.reset(ctx, "temp_documents")
}

// StageDocument inserts doc unless a candidate with the same id is staged.
func (s *Store) StageDocument(ctx context.Context, doc crawler.Document) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO temp_documents ("+documentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		documentArgs(doc)...,
	)
	if err != nil {
		return false, fmt.Errorf("staging document %s: %w", doc.ID, err)
	}
	return inserted(res)
}

// CountStagedDocuments returns the number of staged candidates.
func (s *Store) CountStagedDocuments(ctx context.Context) (int, error) {
	return s.count(ctx, "temp_documents")
}

// StagedDocumentChunk returns up to limit candidates with id_temp >= fromIDTemp.
func (s *Store) StagedDocumentChunk(ctx context.Context, fromIDTemp int64, limit int) ([]crawler.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id_temp, "+documentColumns+" FROM temp_documents WHERE id_temp >= ? ORDER BY id_temp LIMIT ?",
		fromIDTemp, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading staged documents from %d: %w", fromIDTemp, err)
	}
	defer rows.Close()

	var docs []crawler.Document
	for rows.Next() {
		var idTemp int64
		doc, err := scanDocumentWith(rows, &idTemp)
		if err != nil {
			return nil, fmt.Errorf("scanning staged document: %w", err)
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(idTemps)), ",")
	args := make([]any, len(idTemps))
	for i, id := range idTemps {
		args[i] = id
	}
	query := "DELETE FROM temp_documents WHERE id_temp IN (" + placeholders + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting %d staged documents: %w", len(idTemps), err)
	}
	return nil
}

func (s *Store) reset(ctx context.Context, table string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resetting %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("emptying %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sqlite_sequence SET seq = 0 WHERE name = ?", table); err != nil {
		return fmt.Errorf("resetting %s sequence: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("resetting %s: %w", table, err)
	}
	return nil
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

// ==================== Helpers ====================

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (crawler.Organization, error) {
	var org crawler.Organization
	err := row.Scan(&org.ID, &org.Acronym, &org.Name, &org.Region, &org.HomePageURL, &org.PublicationURLs)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Organization{}, crawler.ErrNotFound
	}
	return org, err
}

func scanSession(row scanner) (crawler.Session, error) {
	var (
		sess      crawler.Session
		startedAt string
		endedAt   sql.NullString
	)
	err := row.Scan(&sess.ID, &startedAt, &endedAt, &sess.ErrorsNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Session{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Session{}, err
	}
	if sess.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return crawler.Session{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if sess.EndedAt, err = parseNullTime(endedAt); err != nil {
		return crawler.Session{}, fmt.Errorf("parsing ended_at: %w", err)
	}
	return sess, nil
}

func scanDocument(row scanner) (crawler.Document, error) {
	return scanDocumentWith(row)
}

// scanDocumentWith scans documentColumns preceded by any extra destinations.
func scanDocumentWith(row scanner, extra ...any) (crawler.Document, error) {
	var (
		doc          crawler.Document
		sessionID    sql.NullInt64
		orgID        sql.NullInt64
		downloadedAt sql.NullString
		errFlag      int
	)
	dest := append(extra,
		&doc.ID, &sessionID, &orgID, &doc.Language, &doc.Tags, &doc.PublicationDate,
		&downloadedAt, &doc.PublicationURL, &doc.PDFLink, &errFlag,
	)
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Document{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Document{}, err
	}
	doc.SessionID = sessionID.Int64
	doc.OrganizationID = orgID.Int64
	doc.Error = errFlag != 0
	if doc.DownloadedAt, err = parseNullTime(downloadedAt); err != nil {
		return crawler.Document{}, fmt.Errorf("parsing downloaded_at: %w", err)
	}
	return doc, nil
}

func documentArgs(doc crawler.Document) []any {
	return []any{
		doc.ID,
		nullInt(doc.SessionID),
		nullInt(doc.OrganizationID),
		doc.Language,
		doc.Tags,
		doc.PublicationDate,
		formatNullTime(doc.DownloadedAt),
		doc.PublicationURL,
		doc.PDFLink,
		boolToInt(doc.Error),
	}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func inserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n == 1, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, crawler.ErrNotFound)
	}
	return nil
}
