package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

// setupTestStore opens a store in a temp directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "sqlite", "igo.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func seedOrgAndSession(t *testing.T, store *Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	orgID, err := store.SaveOrganization(ctx, crawler.Organization{
		Acronym: "WHO", Name: "World Health Organization", Region: "Africa",
		HomePageURL: "https://www.afro.who.int", PublicationURLs: "https://www.afro.who.int/publications",
	})
	require.NoError(t, err)
	sessionID, err := store.CreateSession(ctx, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return orgID, sessionID
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igo.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	var version int
	require.NoError(t, second.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestOrganizations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.SaveOrganization(ctx, crawler.Organization{Acronym: "UNICEF", Region: "Global", Name: "UNICEF"})
	require.NoError(t, err)

	// Saving the same natural key updates in place.
	again, err := store.SaveOrganization(ctx, crawler.Organization{
		Acronym: "UNICEF", Region: "Global", Name: "United Nations Children's Fund",
	})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	org, err := store.GetOrganization(ctx, "UNICEF", "Global")
	require.NoError(t, err)
	assert.Equal(t, "United Nations Children's Fund", org.Name)

	byID, err := store.GetOrganizationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, org, byID)

	_, err = store.GetOrganization(ctx, "UNICEF", "Mars")
	assert.ErrorIs(t, err, crawler.ErrNotFound)

	orgs, err := store.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Len(t, orgs, 1)
}

func TestSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	id, err := store.CreateSession(ctx, started)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, sess.StartedAt.Equal(started))
	assert.Nil(t, sess.EndedAt)

	ended := started.Add(90 * time.Minute)
	require.NoError(t, store.FinishSession(ctx, id, ended, 7))

	sess, err = store.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	assert.True(t, sess.EndedAt.Equal(ended))
	assert.Equal(t, int64(7), sess.ErrorsNumber)

	_, err = store.CreateSession(ctx, ended)
	require.NoError(t, err)
	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(2), sessions[0].ID)

	assert.ErrorIs(t, store.FinishSession(ctx, 99, ended, 0), crawler.ErrNotFound)
}

func TestDocuments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	orgID, sessionID := seedOrgAndSession(t, store)

	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	doc := crawler.Document{
		ID:             "WHO-AFRICA_abc_ENGLISH_def",
		SessionID:      sessionID,
		OrganizationID: orgID,
		Language:       "English",
		DownloadedAt:   &now,
		PublicationURL: "https://www.afro.who.int/publications/report",
		PDFLink:        "https://www.afro.who.int/sites/default/files/report.pdf",
	}

	exists, err := store.DocumentExists(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.InsertDocument(ctx, doc))
	require.Error(t, store.InsertDocument(ctx, doc), "primary key must reject duplicates")

	exists, err = store.DocumentExists(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	doc.Error = true
	doc.Tags = "health; report"
	require.NoError(t, store.UpdateDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Error)
	assert.Equal(t, "health; report", got.Tags)
	require.NotNil(t, got.DownloadedAt)
	assert.True(t, got.DownloadedAt.Equal(now))

	_, err = store.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, crawler.ErrNotFound)
	assert.ErrorIs(t, store.UpdateDocument(ctx, crawler.Document{ID: "missing"}), crawler.ErrNotFound)
}

func TestStagedURLs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"https://a.org/1", "https://a.org/2", "https://a.org/3"} {
		added, err := store.StageURL(ctx, u)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := store.StageURL(ctx, "https://a.org/2")
	require.NoError(t, err)
	assert.False(t, added, "exact duplicate is a no-op")

	n, err := store.CountStagedURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chunk, err := store.StagedURLChunk(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, chunk, 2)
	assert.Equal(t, int64(1), chunk[0].ID)
	assert.Equal(t, int64(2), chunk[1].ID)

	chunk, err = store.StagedURLChunk(ctx, chunk[1].ID+1, 2)
	require.NoError(t, err)
	require.Len(t, chunk, 1)
	assert.Equal(t, "https://a.org/3", chunk[0].URL)

	require.NoError(t, store.ResetStagedURLs(ctx))
	n, err = store.CountStagedURLs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Ids restart at 1 after a reset.
	_, err = store.StageURL(ctx, "https://b.org/1")
	require.NoError(t, err)
	chunk, err = store.StagedURLChunk(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, chunk, 1)
	assert.Equal(t, int64(1), chunk[0].ID)
}

func TestStagedDocuments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C", "D"} {
		added, err := store.StageDocument(ctx, crawler.Document{ID: id, PDFLink: "https://x.org/" + id + ".pdf"})
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := store.StageDocument(ctx, crawler.Document{ID: "B"})
	require.NoError(t, err)
	assert.False(t, added)

	n, err := store.CountStagedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, store.DeleteStagedDocuments(ctx, []int64{2, 3}))
	require.NoError(t, store.DeleteStagedDocuments(ctx, nil))

	docs, err := store.StagedDocumentChunk(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(1), docs[0].IDTemp)
	assert.Equal(t, "A", docs[0].ID)
	assert.Equal(t, int64(4), docs[1].IDTemp)
	assert.Equal(t, "https://x.org/D.pdf", docs[1].PDFLink)

	require.NoError(t, store.ResetStagedDocuments(ctx))
	_, err = store.StageDocument(ctx, crawler.Document{ID: "E"})
	require.NoError(t, err)
	docs, err = store.StagedDocumentChunk(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(1), docs[0].IDTemp)
}

func TestChunkCursorSeesAppendsOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := store.StageURL(ctx, u)
		require.NoError(t, err)
	}

	var seen []string
	var from int64 = 1
	for {
		chunk, err := store.StagedURLChunk(ctx, from, 2)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		for _, u := range chunk {
			seen = append(seen, u.URL)
			if u.URL == "u2" {
				_, err := store.StageURL(ctx, "u4")
				require.NoError(t, err)
			}
		}
		from = chunk[len(chunk)-1].ID + 1
	}
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, seen)
}
