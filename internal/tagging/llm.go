package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"previscore/internal/models"
)

// Enricher proposes L1..L4 tag assignments from an asset's textual
// context (filename, caption, joined keyframe captions). Rejected entries
// (outside the hierarchy) are the caller's responsibility to log rather
// than discard silently.
type Enricher interface {
	Propose(ctx context.Context, filename, caption string, keyframeCaptions []string) ([]models.TagAssignment, error)
}

// OpenAIEnricher asks an OpenAI-compatible chat model for a strict JSON
// object holding an array of tag tuples, the way aqua777-ai-nexus's llm/openai.Client.Chat
// wraps go-openai's chat completion call.
type OpenAIEnricher struct {
	client *openai.Client
	model  string
}

// NewOpenAIEnricher builds an Enricher against apiKey/baseURL.
func NewOpenAIEnricher(apiKey, baseURL, model string) *OpenAIEnricher {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEnricher{client: openai.NewClientWithConfig(cfg), model: model}
}

type tagProposal struct {
	L1 string `json:"l1"`
	L2 string `json:"l2,omitempty"`
	L3 string `json:"l3,omitempty"`
	L4 string `json:"l4,omitempty"`
}

type tagProposalResponse struct {
	Tags []tagProposal `json:"tags"`
}

const enrichPrompt = `You are tagging a media asset for a film previsualization system.
Given the filename, caption, and any keyframe descriptions below, propose a
JSON object of the form {"tags": [{"l1": "...", "l2": "...", "l3": "...", "l4": "..."}]}.
l1 is mandatory for every entry; l2/l3/l4 may be omitted if not applicable, but
a populated l3 implies a populated l2, and a populated l2 implies a populated l1.
Only use lowercase snake_case values. Return JSON only, no prose.`

func (e *OpenAIEnricher) Propose(ctx context.Context, filename, caption string, keyframeCaptions []string) ([]models.TagAssignment, error) {
	userContent := fmt.Sprintf("filename: %s\ncaption: %s\nkeyframes: %s",
		filename, caption, strings.Join(keyframeCaptions, " | "))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: enrichPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tag enrichment request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("tag enrichment: no choices returned")
	}

	var parsed tagProposalResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parsing tag enrichment response: %w", err)
	}

	out := make([]models.TagAssignment, len(parsed.Tags))
	for i, t := range parsed.Tags {
		out[i] = models.TagAssignment{L1: t.L1, L2: t.L2, L3: t.L3, L4: t.L4}
	}
	return out, nil
}
