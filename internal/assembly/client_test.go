package assembly_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-orchestrator/internal/assembly"
)

func TestClient_AppendPage(t *testing.T) {
	var got assembly.PageChunk
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/job-1/pages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "documentUrl": "https://cdn/job-1.pdf"})
	}))
	defer srv.Close()

	c := assembly.NewClient(srv.URL+"/", time.Second)
	url, err := c.AppendPage(context.Background(), assembly.PageChunk{
		JobID:         "job-1",
		Document:      assembly.DocumentCustomer,
		TargetKey:     "storyPage3",
		PositionIndex: 3,
		AssetPath:     "jobs/job-1/pages/storyPage3.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/job-1.pdf", url)
	assert.Equal(t, 3, got.PositionIndex)
	assert.Equal(t, "storyPage3", got.TargetKey)
}

func TestClient_ReportsServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "corrupt image"})
	}))
	defer srv.Close()

	c := assembly.NewClient(srv.URL, time.Second)
	_, err := c.BuildCoverDocument(context.Background(), assembly.CoverRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt image")
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := assembly.NewClient(srv.URL, time.Second)
	_, err := c.AppendPage(context.Background(), assembly.PageChunk{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
