package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

// OpenAI embeds signatures through an OpenAI-compatible embeddings API,
// which also covers Ollama and other self-hosted servers via WithBaseURL.
type OpenAI struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
	baseURL   string
}

var _ Embedder = (*OpenAI)(nil)

type OpenAIOption func(*OpenAI)

func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAI) {
		o.model = openai.EmbeddingModel(model)
	}
}

// WithOpenAIDimension requests a reduced output dimension. Zero leaves the
// model default.
func WithOpenAIDimension(dim int) OpenAIOption {
	return func(o *OpenAI) {
		o.dimension = dim
	}
}

func WithBaseURL(url string) OpenAIOption {
	return func(o *OpenAI) {
		o.baseURL = url
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	o := &OpenAI{
		model:     openai.SmallEmbedding3,
		dimension: 384,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Self-hosted compatible servers commonly accept any key
	if apiKey == "" && o.baseURL == "" {
		return nil, goerr.New("openai API key is required")
	}
	if o.dimension < 0 {
		return nil, goerr.New("invalid openai embedding dimension", goerr.V("dimension", o.dimension))
	}

	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	o.client = openai.NewClientWithConfig(cfg)

	return o, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      o.model,
		Dimensions: o.dimension,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding", goerr.V("model", o.model))
	}

	if len(resp.Data) == 0 {
		return nil, goerr.New("no embedding in openai response", goerr.V("model", o.model))
	}

	values := resp.Data[0].Embedding
	if o.dimension > 0 && len(values) != o.dimension {
		return nil, goerr.New("unexpected openai embedding dimension",
			goerr.V("expected", o.dimension), goerr.V("actual", len(values)))
	}
	return values, nil
}
