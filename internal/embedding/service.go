package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"previscore/internal/errs"
	"previscore/internal/models"
)

const (
	modalityText         = "text"
	modalityVisual       = "visual"
	modalityTextForVisual = "text_for_visual"
)

// Service provides embed_text, embed_image, embed_text_for_visual,
// each with provider fallback, dimension validation, and an LRU cache.
// Providers are tried in order; a provider that errors for a modality is
// marked degraded for that modality for the rest of the process and skipped
// on subsequent calls of that modality.
type Service struct {
	providers []Provider
	degraded  map[string]bool

	textDim   int
	visualDim int

	cache    *lruCache
	recorder UsageRecorder
	log      zerolog.Logger
}

// Option configures a Service at construction.
type Option func(*Service)

// WithRecorder installs a usage recorder; the default discards records.
func WithRecorder(r UsageRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService builds a Service trying providers in the given order.
// cacheCapacity is config.Cache.EmbeddingCapacity (default 10000).
func NewService(providers []Provider, textDim, visualDim, cacheCapacity int, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		providers: providers,
		degraded:  make(map[string]bool, len(providers)),
		textDim:   textDim,
		visualDim: visualDim,
		cache:     newLRUCache(cacheCapacity),
		recorder:  NopRecorder{},
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedText implements embed_text(strings) -> list of vectors. Empty
// strings produce the zero vector without touching any provider; they
// never fail.
func (s *Service) EmbedText(ctx context.Context, texts []string) ([]models.Vector, error) {
	return s.embedBatched(ctx, texts, modalityText, s.textDim, func(p Provider, ctx context.Context, batch []string) ([][]float32, error) {
		return p.EmbedText(ctx, batch)
	})
}

// EmbedTextForVisual implements embed_text_for_visual: text encoded into
// the visual embedding space for cross-modal queries.
func (s *Service) EmbedTextForVisual(ctx context.Context, texts []string) ([]models.Vector, error) {
	return s.embedBatched(ctx, texts, modalityTextForVisual, s.visualDim, func(p Provider, ctx context.Context, batch []string) ([][]float32, error) {
		return p.EmbedTextForVisual(ctx, batch)
	})
}

// EmbedImage implements embed_image(image_refs) -> list of vectors.
func (s *Service) EmbedImage(ctx context.Context, images []ImageRef) ([]models.Vector, error) {
	out := make([]models.Vector, len(images))
	pending := make([]int, 0, len(images))
	pendingRefs := make([]ImageRef, 0, len(images))

	keys := make([]cacheKey, len(images))
	for i, img := range images {
		key := cacheKey{modality: modalityVisual, modelID: "any", inputSHA: hashInput(img.Path + string(img.Bytes))}
		keys[i] = key
		if v, ok := s.cache.get(key); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
		pendingRefs = append(pendingRefs, img)
	}
	if len(pending) == 0 {
		return out, nil
	}

	for start := 0; start < len(pendingRefs); start += BatchSize {
		end := start + BatchSize
		if end > len(pendingRefs) {
			end = len(pendingRefs)
		}
		batch := pendingRefs[start:end]
		vectors, providerName, err := s.callWithFallback(ctx, modalityVisual, len(batch), func(p Provider, ctx context.Context) ([][]float32, error) {
			return p.EmbedImage(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, errs.New(errs.EmbeddingDimMismatch, fmt.Sprintf("provider %s returned %d vectors for %d inputs", providerName, len(vectors), len(batch)))
		}
		for j, v := range vectors {
			if len(v) != s.visualDim {
				return nil, errs.New(errs.EmbeddingDimMismatch, fmt.Sprintf("provider %s returned dim %d, want %d", providerName, len(v), s.visualDim))
			}
			idx := pending[start+j]
			out[idx] = models.Vector(v)
			s.cache.put(keys[idx], v)
		}
	}
	return out, nil
}

type batchFn func(Provider, context.Context, []string) ([][]float32, error)

func (s *Service) embedBatched(ctx context.Context, texts []string, modality string, dim int, call batchFn) ([]models.Vector, error) {
	out := make([]models.Vector, len(texts))
	pending := make([]int, 0, len(texts))
	pendingTexts := make([]string, 0, len(texts))
	keys := make([]cacheKey, len(texts))

	for i, t := range texts {
		if t == "" {
			out[i] = make(models.Vector, dim)
			continue
		}
		key := cacheKey{modality: modality, modelID: "any", inputSHA: hashInput(t)}
		keys[i] = key
		if v, ok := s.cache.get(key); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
		pendingTexts = append(pendingTexts, t)
	}
	if len(pending) == 0 {
		return out, nil
	}

	for start := 0; start < len(pendingTexts); start += BatchSize {
		end := start + BatchSize
		if end > len(pendingTexts) {
			end = len(pendingTexts)
		}
		batch := pendingTexts[start:end]
		vectors, providerName, err := s.callWithFallback(ctx, modality, len(batch), func(p Provider, ctx context.Context) ([][]float32, error) {
			return call(p, ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, errs.New(errs.EmbeddingDimMismatch, fmt.Sprintf("provider %s returned %d vectors for %d inputs", providerName, len(vectors), len(batch)))
		}
		for j, v := range vectors {
			if len(v) != dim {
				return nil, errs.New(errs.EmbeddingDimMismatch, fmt.Sprintf("provider %s returned dim %d, want %d", providerName, len(v), dim))
			}
			idx := pending[start+j]
			out[idx] = models.Vector(v)
			s.cache.put(keys[idx], v)
		}
	}
	return out, nil
}

// callWithFallback tries each provider not degraded for modality in order,
// marking any that errors as degraded for that modality for the rest of the
// process.
func (s *Service) callWithFallback(ctx context.Context, modality string, count int, fn func(Provider, context.Context) ([][]float32, error)) ([][]float32, string, error) {
	var lastErr error
	for _, p := range s.providers {
		degradedKey := p.Name() + "/" + modality
		if s.degraded[degradedKey] {
			continue
		}
		start := time.Now()
		vectors, err := fn(p, ctx)
		dur := time.Since(start)
		if err != nil {
			s.degraded[degradedKey] = true
			s.log.Warn().Str("provider", p.Name()).Str("modality", modality).Err(err).Msg("embedding provider failed, marking degraded")
			s.recordUsage(p.Name(), modality, count, false, dur)
			lastErr = err
			continue
		}
		s.recordUsage(p.Name(), modality, count, true, dur)
		return vectors, p.Name(), nil
	}
	return nil, "", errs.Wrap(errs.EmbeddingUnavailable, fmt.Sprintf("all providers failed for modality %s", modality), lastErr)
}

func (s *Service) recordUsage(provider, modality string, count int, ok bool, dur time.Duration) {
	go s.recorder.Record(UsageRecord{
		Provider:   provider,
		Modality:   modality,
		Count:      count,
		Succeeded:  ok,
		DurationMs: dur.Milliseconds(),
	})
}
