package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/correlation"
)

func TestHTTPBackendSearch(t *testing.T) {
	var gotAuth, gotCorrelation string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/memories/search", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get(correlation.Header)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{
					"id":      "mem-7",
					"memory":  "prefers terse answers",
					"user_id": "analyst-1",
					"score":   0.93,
					"metadata": map[string]any{
						"scope":      "user",
						"importance": 0.8,
					},
					"created_at": time.Now().UTC().Format(time.RFC3339),
				},
			},
		})
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "test-key", time.Second)
	ctx := correlation.WithID(context.Background(), "corr-123")

	hits, err := backend.Search(ctx, "answers", "analyst-1", 5, []string{models.ScopeUser})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	assert.Equal(t, "mem-7", hits[0].MemoryID)
	assert.Equal(t, "prefers terse answers", hits[0].Memory)
	assert.InDelta(t, 0.93, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.8, hits[0].Importance, 1e-9)
	assert.Equal(t, models.ScopeUser, hits[0].Scope)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "corr-123", gotCorrelation)
	assert.Equal(t, "answers", gotPayload["query"])
	assert.Equal(t, "analyst-1", gotPayload["user_id"])
}

func TestHTTPBackendAdd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/memories", r.URL.Path)

		var payload struct {
			UserID   string       `json:"user_id"`
			Memory   string       `json:"memory"`
			Metadata wireMetadata `json:"metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "analyst-1", payload.UserID)
		assert.Equal(t, models.ScopeScenario, payload.Metadata.Scope)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "mem-9"})
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", time.Second)
	id, err := backend.Add(context.Background(), models.MemoryRecord{
		UserID:     "analyst-1",
		Scope:      models.ScopeScenario,
		Memory:     "blue force holds the bridge",
		Importance: 1.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "mem-9", id)
}

func TestHTTPBackendDeleteNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/v1/memories/mem-1" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", time.Second)
	ctx := context.Background()

	found, err := backend.Delete(ctx, "mem-1")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = backend.Delete(ctx, "mem-404")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHTTPBackendListPassesFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/memories", r.URL.Path)
		assert.Equal(t, "analyst-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "agent", r.URL.Query().Get("scope"))
		assert.Equal(t, "opfor,armor", r.URL.Query().Get("tags"))

		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", time.Second)
	records, err := backend.List(context.Background(), "analyst-1", 5, models.ScopeAgent, []string{"opfor", "armor"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHTTPBackendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := NewHTTPBackend(server.URL, "", time.Second)
	_, err := backend.Search(context.Background(), "q", "u", 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
