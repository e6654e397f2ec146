package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "embeddinggemma"
	ollamaRequestTimeout  = 30 * time.Second

	// /api/embed accepts a list of inputs and returns one vector per
	// input, unlike the older single-prompt /api/embeddings route.
	ollamaEmbedPath = "/api/embed"
)

// ollamaWireRequest is the /api/embed request body. Input holds one or
// more texts.
type ollamaWireRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaWireResponse is the /api/embed response body, one vector per input.
type ollamaWireResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEngine generates embeddings against a local Ollama server, the
// default backend: no network dependency beyond localhost.
type OllamaEngine struct {
	baseURL string
	model   string
	httpc   *http.Client
}

// NewOllamaEngine builds an Ollama-backed engine, defaulting the endpoint
// to localhost:11434 and the model to embeddinggemma.
func NewOllamaEngine(endpoint, model string) (*OllamaEngine, error) {
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaEngine{
		baseURL: endpoint,
		model:   model,
		httpc:   &http.Client{Timeout: ollamaRequestTimeout},
	}, nil
}

// Embed returns the embedding vector for one text.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.post(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in a single round trip.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.post(ctx, texts)
}

func (e *OllamaEngine) post(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaWireRequest{Model: e.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+ollamaEmbedPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(detail))
	}

	var decoded ollamaWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(decoded.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(decoded.Embeddings), len(inputs))
	}
	return decoded.Embeddings, nil
}

// Dimensions returns the vector width this engine produces.
// embeddinggemma emits 768-dimensional vectors.
func (e *OllamaEngine) Dimensions() int {
	return 768
}

// Name identifies the engine in logs.
func (e *OllamaEngine) Name() string {
	return fmt.Sprintf("ollama:%s", e.model)
}
