package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTPVisualProvider calls a remote CLIP-style multimodal embedding
// endpoint for embed_image and embed_text_for_visual, the pattern of the
// teacher's clients.GraphRAGClient (POST {baseURL}/api/embeddings/generate)
// generalized to Vantagics-AskFlow's multimodal request/response shape in
// internal/embedding/service.go (callMultimodalAPI).
type HTTPVisualProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPVisualProvider builds a provider against a multimodal embedding
// service reachable at baseURL.
func NewHTTPVisualProvider(baseURL, model string) *HTTPVisualProvider {
	return &HTTPVisualProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *HTTPVisualProvider) Name() string { return "http-visual" }

type multimodalInputItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageB64 string `json:"image_base64,omitempty"`
}

type multimodalRequest struct {
	Model string                `json:"model"`
	Input []multimodalInputItem `json:"input"`
}

type multimodalData struct {
	Embedding []float32 `json:"embedding"`
}

type multimodalResponse struct {
	Success bool              `json:"success"`
	Data    []multimodalData  `json:"data"`
	Error   string            `json:"error,omitempty"`
}

func (p *HTTPVisualProvider) EmbedImage(ctx context.Context, images []ImageRef) ([][]float32, error) {
	items := make([]multimodalInputItem, len(images))
	for i, img := range images {
		b := img.Bytes
		if len(b) == 0 && img.Path != "" {
			data, err := os.ReadFile(img.Path)
			if err != nil {
				return nil, fmt.Errorf("reading image %s: %w", img.Path, err)
			}
			b = data
		}
		items[i] = multimodalInputItem{Type: "image", ImageB64: base64.StdEncoding.EncodeToString(b)}
	}
	return p.call(ctx, items)
}

func (p *HTTPVisualProvider) EmbedTextForVisual(ctx context.Context, texts []string) ([][]float32, error) {
	items := make([]multimodalInputItem, len(texts))
	for i, t := range texts {
		items[i] = multimodalInputItem{Type: "text", Text: t}
	}
	return p.call(ctx, items)
}

func (p *HTTPVisualProvider) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("http-visual provider does not serve plain text-space embeddings")
}

func (p *HTTPVisualProvider) call(ctx context.Context, items []multimodalInputItem) ([][]float32, error) {
	reqBody, err := json.Marshal(multimodalRequest{Model: p.model, Input: items})
	if err != nil {
		return nil, fmt.Errorf("marshaling multimodal request: %w", err)
	}

	url := p.baseURL + "/api/embeddings/multimodal"
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("building multimodal request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("multimodal request failed: %w", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading multimodal response: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("multimodal endpoint returned status %d", resp.StatusCode)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
			continue
		}

		var parsed multimodalResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("parsing multimodal response: %w", err)
		}
		if resp.StatusCode != http.StatusOK || !parsed.Success {
			return nil, fmt.Errorf("multimodal endpoint error (status %d): %s", resp.StatusCode, parsed.Error)
		}

		out := make([][]float32, len(parsed.Data))
		for i, d := range parsed.Data {
			out[i] = d.Embedding
		}
		return out, nil
	}
	return nil, lastErr
}
