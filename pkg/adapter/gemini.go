package adapter

import (
	"context"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini embeds signatures with a Gemini embedding model on Vertex AI
type Gemini struct {
	client         *genai.Client
	embeddingModel string
	dimension      int
	taskType       string
}

var _ Embedder = (*Gemini)(nil)

type GeminiOption func(*Gemini)

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *Gemini) {
		g.embeddingModel = model
	}
}

// WithGeminiDimension sets the requested output dimensionality
func WithGeminiDimension(dim int) GeminiOption {
	return func(g *Gemini) {
		g.dimension = dim
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*Gemini, error) {
	if projectID == "" {
		return nil, goerr.New("gemini project ID is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &Gemini{
		client:         client,
		embeddingModel: "gemini-embedding-001",
		dimension:      384,
		taskType:       "SEMANTIC_SIMILARITY",
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.dimension <= 0 || g.dimension > math.MaxInt32 {
		return nil, goerr.New("invalid gemini embedding dimension", goerr.V("dimension", g.dimension))
	}

	return g, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
		TaskType:             g.taskType,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("no embedding in gemini response", goerr.V("model", g.embeddingModel))
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.dimension {
		return nil, goerr.New("unexpected gemini embedding dimension",
			goerr.V("expected", g.dimension), goerr.V("actual", len(values)))
	}
	return values, nil
}
