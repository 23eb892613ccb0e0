package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/smartclm/clm/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama answers /api/embeddings with a vector derived from the prompt length.
func fakeOllama(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(calls, 1)
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-embed", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": []float32{float32(len(req.Prompt)), 1, 0},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text:latest", emb.Config.Model)
	assert.Equal(t, "http://localhost:11434", emb.Config.BaseURL)
	assert.Equal(t, 32, emb.Config.BatchSize)
}

func TestCreateEmbedding(t *testing.T) {
	var calls int32
	srv := fakeOllama(t, &calls)

	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Model: "test-embed", BaseURL: srv.URL, BatchSize: 2})
	require.NoError(t, err)

	vectors, err := emb.CreateEmbedding(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{2, 1, 0}, vectors[1])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	q, err := emb.EmbedQuery(context.Background(), "abcd")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1, 0}, q)

	none, err := emb.CreateEmbedding(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateEmbeddingServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = emb.CreateEmbedding(context.Background(), []string{"x"})
	assert.Error(t, err)
}
