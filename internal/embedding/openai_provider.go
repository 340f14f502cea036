package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider backs embed_text and embed_text_for_visual with OpenAI's
// embeddings endpoint, the way aqua777-ai-nexus's llm/openai.Client wraps
// go-openai for its Embeddings call. It does not implement EmbedImage;
// visual embeddings go through HTTPVisualProvider instead.
type OpenAIProvider struct {
	client    *openai.Client
	textModel string
}

// NewOpenAIProvider builds a provider against the public OpenAI API or a
// compatible base URL.
func NewOpenAIProvider(apiKey, baseURL, textModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		textModel: textModel,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(p.textModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d results for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// EmbedTextForVisual reuses the same text embedding call. It only belongs
// in the visual space when the configured model's output dim equals
// visual_dim; Service validates that per-call, not here.
func (p *OpenAIProvider) EmbedTextForVisual(ctx context.Context, texts []string) ([][]float32, error) {
	return p.EmbedText(ctx, texts)
}

func (p *OpenAIProvider) EmbedImage(ctx context.Context, images []ImageRef) ([][]float32, error) {
	return nil, fmt.Errorf("openai provider does not support image embeddings")
}
