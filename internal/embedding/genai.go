package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultGenAIModel = "gemini-embedding-001"

	// Embeddings feed cosine comparisons, so ask the API to optimize
	// for similarity rather than retrieval or classification.
	similarityTask = "SEMANTIC_SIMILARITY"

	// Output width of gemini-embedding-001 at its default dimensionality.
	genAIDimensions = 3072
)

// GenAIEngine generates embeddings through the Gemini API. It is the
// optional cloud backend; routing degrades to lexical-only when the
// engine cannot be constructed.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine builds a Gemini-backed engine. The API key is required;
// the model falls back to gemini-embedding-001 when unset.
func NewGenAIEngine(apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = defaultGenAIModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{client: client, model: model}, nil
}

// Embed returns the embedding vector for one text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in a single API call.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts)
}

func (e *GenAIEngine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: similarityTask,
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// Dimensions returns the vector width this engine produces.
func (e *GenAIEngine) Dimensions() int {
	return genAIDimensions
}

// Name identifies the engine in logs.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
