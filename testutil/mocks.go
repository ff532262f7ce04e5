package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockEmbeddingServer mocks an OpenAI-compatible /embeddings endpoint. It
// returns a small deterministic vector per input and records every text it
// was asked to embed, so tests can assert exactly which comments reached the
// provider.
type MockEmbeddingServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
	failFor  map[string]bool
}

// NewMockEmbeddingServer creates a mock embeddings API server.
func NewMockEmbeddingServer(t *testing.T) *MockEmbeddingServer {
	t.Helper()
	m := &MockEmbeddingServer{failFor: make(map[string]bool)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		fail := false
		for _, in := range req.Input {
			m.requests = append(m.requests, in)
			if m.failFor[in] {
				fail = true
			}
		}
		m.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"induced failure"}}`))
			return
		}
		type datum struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []datum `json:"data"`
			Model  string  `json:"model"`
			Usage  struct {
				PromptTokens int `json:"prompt_tokens"`
				TotalTokens  int `json:"total_tokens"`
			} `json:"usage"`
		}{Object: "list", Model: req.Model}
		for i, in := range req.Input {
			resp.Data = append(resp.Data, datum{Object: "embedding", Index: i, Embedding: vectorFor(in)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// FailFor makes the server return a 500 whenever text appears in a request.
func (m *MockEmbeddingServer) FailFor(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[text] = true
}

// EmbeddedTexts returns every input text the server has seen, in order.
func (m *MockEmbeddingServer) EmbeddedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

// vectorFor derives a fixed-width vector from the text so assertions can
// recognize which text produced which embedding.
func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), float32(len(text) % 7), 0.5}
}
