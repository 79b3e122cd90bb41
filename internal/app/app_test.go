package app_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/adapter"
	"github.com/JakeFAU/igo-publications-crawler/internal/app"
	"github.com/JakeFAU/igo-publications-crawler/internal/config"
	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
	"github.com/JakeFAU/igo-publications-crawler/internal/storage/sqlite"
)

const pdfBody = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n"

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pubs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body>
			<a class="pub" href="/pubs/annual-report">Annual report</a>
			<a class="pub" href="/pubs/country-brief">Country brief</a>
			<a class="pub" href="/pubs/annual-report">Annual report (again)</a>
		</body></html>`)
	})
	mux.HandleFunc("/pubs/annual-report", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><h1>Annual Report 2023</h1>
			<a class="download" href="/files/annual-en.pdf">English</a>
			<a class="download" href="/files/annual-fr.pdf">French</a>
		</body></html>`)
	})
	mux.HandleFunc("/pubs/country-brief", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><h1>Country Brief</h1>
			<a class="download" href="/landing/brief">Download</a>
		</body></html>`)
	})
	mux.HandleFunc("/landing/brief", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><a href="/files/brief.pdf">PDF</a></body></html>`)
	})
	mux.HandleFunc("/files/annual-en.pdf", servePDF)
	mux.HandleFunc("/files/brief.pdf", servePDF)
	mux.HandleFunc("/files/annual-fr.pdf", http.NotFound)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func servePDF(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/pdf")
	_, _ = io.WriteString(w, pdfBody)
}

func testConfig(t *testing.T, siteURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "igo.db")},
		Storage:  config.StorageConfig{Provider: "local", DownloadDir: filepath.Join(dir, "downloads")},
		HTTP: config.HTTPConfig{
			TimeoutSeconds: 5,
			MaxAttempts:    1,
			MaxWaitSeconds: 1,
			VerifyTLS:      true,
		},
		Pipeline: config.PipelineConfig{
			MaxPublicationURLsChunkSize: 1,
			MaxDocumentLinksChunkSize:   2,
		},
		Download: config.DownloadConfig{
			Parallel:                   true,
			MaxConcurrent:              2,
			FileTypes:                  map[string]string{"pdf": "application/pdf"},
			RetryDownloadInNextSession: true,
			UserAgent:                  config.DefaultUserAgent,
		},
		Languages: crawler.DefaultLanguages(),
		Adapters: []adapter.Spec{
			{
				Acronym: "WHO",
				Region:  "Africa",
				Kind:    adapter.KindListing,
				Active:  true,
				Listing: adapter.ListingSpec{
					ListingURL:   siteURL + "/pubs",
					ItemSelector: "a.pub",
					Detail: adapter.DetailSpec{
						TitleSelector: "h1",
						PDFSelector:   "a.download",
					},
				},
			},
			{
				Acronym: "ILO",
				Region:  "Global",
				Kind:    adapter.KindListing,
				Active:  false,
				Listing: adapter.ListingSpec{
					ListingURL:   siteURL + "/ilo?page={page}",
					ItemSelector: "a.pub",
					Detail:       adapter.DetailSpec{PDFSelector: "a.download"},
				},
			},
		},
	}
}

func newTestApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a, err := app.NewApp(ctx, cfg, zap.NewNop(), app.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func seedWHO(t *testing.T, a *app.App, siteURL string) {
	t.Helper()
	_, err := a.Store().SaveOrganization(context.Background(), crawler.Organization{
		Acronym:         "WHO",
		Name:            "World Health Organization",
		Region:          "Africa",
		HomePageURL:     siteURL,
		PublicationURLs: siteURL + "/pubs",
	})
	require.NoError(t, err)
}

func TestRunSessionEndToEnd(t *testing.T) {
	site := newSite(t)
	cfg := testConfig(t, site.URL)
	a := newTestApp(t, cfg)
	seedWHO(t, a, site.URL)
	ctx := context.Background()

	sum, err := a.RunSession(ctx, app.RunOptions{})
	require.NoError(t, err)

	require.Len(t, sum.Results, 1)
	res := sum.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, "WHO-Africa", res.Organization)
	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 2, res.Downloaded)
	assert.Equal(t, 0, sum.Failed)

	files, err := filepath.Glob(filepath.Join(cfg.Storage.DownloadDir, "who", "africa", "*.pdf"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	sessions, err := a.Store().ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt, "session must be closed")

	snap := a.Tracker().Snapshot()
	assert.True(t, snap.Finished)
	assert.Equal(t, 3, snap.Found)
	assert.Equal(t, 2, snap.Downloaded)
	require.Len(t, snap.Organizations, 1)
	assert.Equal(t, progress.StateDone, snap.Organizations[0].State)

	// The failed edition is retried, the stored ones are filtered out.
	sum, err = a.RunSession(ctx, app.RunOptions{})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, 1, sum.Results[0].Found)
	assert.Equal(t, 0, sum.Results[0].Downloaded)

	sessions, err = a.Store().ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRunSessionUnknownOrganization(t *testing.T) {
	site := newSite(t)
	cfg := testConfig(t, site.URL)
	a := newTestApp(t, cfg)

	sum, err := a.RunSession(context.Background(), app.RunOptions{})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.ErrorIs(t, sum.Results[0].Err, crawler.ErrNotFound)
	assert.Equal(t, 1, sum.Failed)
}

func TestAdaptersFilter(t *testing.T) {
	cfg := testConfig(t, "https://who.example")
	cfg.Adapters[1].Active = true
	a := newTestApp(t, cfg)

	all, err := a.Adapters()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := a.Adapters("ILO-Global")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "ILO-Global", only[0].Name())

	_, err = a.Adapters("UNICEF-Global")
	require.Error(t, err)
}

func TestStatusHandler(t *testing.T) {
	a := newTestApp(t, testConfig(t, "https://who.example"))
	srv := httptest.NewServer(a.StatusHandler())
	t.Cleanup(srv.Close)

	for _, route := range []string{"/healthz", "/readyz", "/v1/progress", "/v1/sessions"} {
		t.Run(route, func(t *testing.T) {
			resp, err := http.Get(srv.URL + route)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("GET %s", route))
		})
	}
}

func TestServeStatusDisabled(t *testing.T) {
	a := newTestApp(t, testConfig(t, "https://who.example"))
	require.NoError(t, a.ServeStatus(context.Background()))
}
