package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbedBatchSingleRoundTrip(t *testing.T) {
	var got ollamaWireRequest
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaWireResponse{
			Embeddings: [][]float32{{1, 0}, {0, 1}},
		})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "embeddinggemma")
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one round trip for the batch, got %d", calls)
	}
	if got.Model != "embeddinggemma" || len(got.Input) != 2 {
		t.Errorf("unexpected request payload: %+v", got)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
}

func TestOllamaEmbedSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaWireResponse{Embeddings: [][]float32{{0.5, 0.5}}})
	}))
	defer srv.Close()

	e, _ := NewOllamaEngine(srv.URL, "")
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestOllamaEmbedErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		e, _ := NewOllamaEngine(srv.URL, "missing")
		if _, err := e.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("expected error for non-200 response")
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ollamaWireResponse{Embeddings: [][]float32{{1}}})
		}))
		defer srv.Close()

		e, _ := NewOllamaEngine(srv.URL, "")
		if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
			t.Fatal("expected error when vector count does not match input count")
		}
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		e, _ := NewOllamaEngine("http://localhost:1", "")
		vecs, err := e.EmbedBatch(context.Background(), nil)
		if err != nil || vecs != nil {
			t.Fatalf("expected nil, nil for empty batch, got %v, %v", vecs, err)
		}
	})
}
