package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
)

type exampleSessions struct {
	sessions []crawler.Session
}

func (e *exampleSessions) GetSession(context.Context, int64) (crawler.Session, error) {
	return e.sessions[0], nil
}

func (e *exampleSessions) ListSessions(context.Context, int) ([]crawler.Session, error) {
	return e.sessions, nil
}

// ExampleProgressHandler_ListSessions shows how to serve the /v1/sessions endpoint.
func ExampleProgressHandler_ListSessions() {
	ended := time.Unix(3600, 0).UTC()
	repo := &exampleSessions{sessions: []crawler.Session{{
		ID:           1,
		StartedAt:    time.Unix(0, 0).UTC(),
		EndedAt:      &ended,
		ErrorsNumber: 2,
	}}}
	handler := NewProgressHandler(nil, repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListSessions(rec, req)

	var payload struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned sessions: %d, errors: %v\n", len(payload.Sessions), payload.Sessions[0]["errors_number"])
	// Output:
	// returned sessions: 1, errors: 2
}
