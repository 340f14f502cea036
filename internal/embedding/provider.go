// Package embedding implements on-demand text/image embedding
// with provider fallback and a bounded cache, grounded on VideoAgent's
// clients.GraphRAGClient/MageAgentClient request shape and on
// Vantagics-AskFlow's internal/embedding/service.go batching/retry style.
package embedding

import "context"

// BatchSize is the default maximum batch accepted by embed_text/embed_image,
// batching inputs up to batch-size K (default 32).
const BatchSize = 32

// ImageRef is either a filesystem path or raw bytes for embed_image.
type ImageRef struct {
	Path  string
	Bytes []byte
}

// Provider computes embeddings for one or more modalities. A provider need
// not support every modality; an error for an unsupported modality marks it
// degraded for that modality only, and Service falls through to the next
// provider.
type Provider interface {
	Name() string
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
	EmbedImage(ctx context.Context, images []ImageRef) ([][]float32, error)
	EmbedTextForVisual(ctx context.Context, texts []string) ([][]float32, error)
}

// UsageRecord is an audit trail entry for one embedding call, the
// supplemented feature grounded on VideoAgent's models.ModelUsageRecord.
type UsageRecord struct {
	Provider  string
	Modality  string
	Count     int
	Succeeded bool
	DurationMs int64
}

// UsageRecorder receives a record after each provider call. Implementations
// must not block the caller; Service.recordUsage runs it in its own
// goroutine.
type UsageRecorder interface {
	Record(UsageRecord)
}

// NopRecorder discards usage records.
type NopRecorder struct{}

func (NopRecorder) Record(UsageRecord) {}
