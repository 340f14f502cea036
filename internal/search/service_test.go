package search

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previscore/internal/config"
	"previscore/internal/embedding"
	"previscore/internal/models"
	"previscore/internal/store"
)

// fakeBackend is an in-memory store.Backend, mirroring the one in
// internal/store's own tests.
type fakeBackend struct{}

func (fakeBackend) LoadAll() (store.LoadResult, error)   { return store.LoadResult{}, nil }
func (fakeBackend) WriteAsset(tx store.AssetWrite) error { return nil }
func (fakeBackend) DeleteAsset(id string) error          { return nil }
func (fakeBackend) Close() error                         { return nil }

// echoProvider returns a fixed vector per modality, sized to this test
// store's text/visual dimensions, so queries produce stable cosine
// similarities without a real model.
type echoProvider struct {
	textResponse   []float32
	visualResponse []float32
}

func (p echoProvider) Name() string { return "echo" }
func (p echoProvider) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.textResponse
	}
	return out, nil
}
func (p echoProvider) EmbedImage(ctx context.Context, images []embedding.ImageRef) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		out[i] = p.visualResponse
	}
	return out, nil
}
func (p echoProvider) EmbedTextForVisual(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = p.visualResponse
	}
	return out, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(fakeBackend{}, 4, 2, zerolog.Nop())
	require.NoError(t, err)

	embeddings := embedding.NewService([]embedding.Provider{echoProvider{
		textResponse:   []float32{1, 0, 0, 0},
		visualResponse: []float32{1, 0},
	}}, 4, 2, 100, zerolog.Nop())

	cfg := config.Search{TagWeight: 0.4, VectorWeight: 0.6, DefaultLimit: 20, DeadlineMs: 2000}
	return New(st, embeddings, cfg, zerolog.Nop())
}

func seedAsset(t *testing.T, s *Service, id string, textVec models.Vector, tags []models.TagAssignment) {
	t.Helper()
	require.NoError(t, s.store.CommitAsset(models.Asset{
		ID:            id,
		TextEmbedding: textVec,
		Tags:          tags,
		Status:        models.StatusCompleted,
	}, nil, nil))
}

func TestSearchTagOnlyScoresByWeightedLineageMatch(t *testing.T) {
	s := newTestService(t)
	seedAsset(t, s, "interior", nil, []models.TagAssignment{{L1: "scene", L2: "interior"}})
	seedAsset(t, s, "exterior", nil, []models.TagAssignment{{L1: "scene", L2: "exterior"}})

	results, err := s.Search(context.Background(), models.Query{
		Mode: models.ModeTagOnly,
		Tags: []models.TagAssignment{{L1: "scene", L2: "interior"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "interior", results[0].AssetID)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestSearchHybridCombinesTagAndVectorScore(t *testing.T) {
	s := newTestService(t)
	seedAsset(t, s, "close-tagged", models.Vector{1, 0, 0, 0}, []models.TagAssignment{{L1: "scene", L2: "interior"}})
	seedAsset(t, s, "close-untagged", models.Vector{1, 0, 0, 0}, nil)

	results, err := s.Search(context.Background(), models.Query{
		Mode: models.ModeHybrid,
		Text: "interior scene",
		Tags: []models.TagAssignment{{L1: "scene", L2: "interior"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close-tagged", results[0].AssetID, "matching tags must outrank an untagged asset at equal vector similarity")
}

func TestSearchFilterThenRankGatesOnTagsThenRanksByVectorOnly(t *testing.T) {
	s := newTestService(t)
	seedAsset(t, s, "allowed", models.Vector{1, 0, 0, 0}, []models.TagAssignment{{L1: "scene", L2: "interior"}})
	seedAsset(t, s, "blocked", models.Vector{1, 0, 0, 0}, []models.TagAssignment{{L1: "scene", L2: "exterior"}})

	results, err := s.Search(context.Background(), models.Query{
		Mode:   models.ModeFilterThenRank,
		Text:   "interior scene",
		Filter: models.TagFilter{RequireAll: []models.TagAssignment{{L1: "scene", L2: "interior"}}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "allowed", results[0].AssetID)
}

func TestSearchRejectsUnknownMode(t *testing.T) {
	s := newTestService(t)
	_, err := s.Search(context.Background(), models.Query{Mode: "BOGUS"})
	require.Error(t, err)
}

func TestMultimodalSearchFusesTextVisualAndTagScores(t *testing.T) {
	s := newTestService(t)
	asset := models.Asset{
		ID:            "a1",
		TextEmbedding: models.Vector{1, 0, 0, 0},
		Tags:          []models.TagAssignment{{L1: "character", L2: "hero"}},
		Status:        models.StatusCompleted,
	}
	kf := models.Keyframe{ID: "kf1", AssetID: "a1", VisualEmbedding: models.Vector{1, 0}}
	require.NoError(t, s.store.CommitAsset(asset, []models.Keyframe{kf}, nil))

	results, err := s.MultimodalSearch(context.Background(), models.Query{
		Text: "hero",
		Tags: []models.TagAssignment{{L1: "character", L2: "hero"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Sub.Text, 0.0)
	assert.Greater(t, results[0].Sub.Visual, 0.0)
	assert.Equal(t, 1.0, results[0].Sub.Tag)
}

func TestSearchByImageGroupsByAssetTakingMaxKeyframeScore(t *testing.T) {
	s := newTestService(t)
	asset := models.Asset{ID: "a1", Status: models.StatusCompleted}
	kfs := []models.Keyframe{
		{ID: "kf-low", AssetID: "a1", VisualEmbedding: models.Vector{0, 1}},
		{ID: "kf-high", AssetID: "a1", VisualEmbedding: models.Vector{1, 0}},
	}
	require.NoError(t, s.store.CommitAsset(asset, kfs, nil))

	results, err := s.SearchByImage(context.Background(), embedding.ImageRef{Path: "query.png"}, models.TagFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].AssetID)
	assert.Equal(t, []string{"kf-high"}, results[0].Keyframes)
}

func TestRecallForBeatWindowsAroundBestMatchingKeyframe(t *testing.T) {
	s := newTestService(t)
	duration := 30.0
	asset := models.Asset{
		ID:            "chase",
		TextEmbedding: models.Vector{1, 0, 0, 0},
		Tags:          []models.TagAssignment{{L1: "scene", L2: "exterior", L3: "city"}},
		Duration:      &duration,
		Status:        models.StatusCompleted,
	}
	kfs := []models.Keyframe{
		{ID: "far", AssetID: "chase", Timestamp: 2, VisualEmbedding: models.Vector{0, 1}},
		{ID: "near", AssetID: "chase", Timestamp: 12, VisualEmbedding: models.Vector{1, 0}},
	}
	require.NoError(t, s.store.CommitAsset(asset, kfs, nil))

	beat := models.Beat{
		Text:           "night city chase",
		SceneTags:      []models.TagAssignment{{L1: "scene", L2: "exterior", L3: "city"}},
		TargetDuration: 6,
		DesiredCount:   5,
	}
	candidates, err := s.RecallForBeat(context.Background(), beat)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "near", candidates[0].AnchorKeyframeID)
	require.NotNil(t, candidates[0].InTime)
	require.NotNil(t, candidates[0].OutTime)
	assert.InDelta(t, 9.0, *candidates[0].InTime, 0.001)
	assert.InDelta(t, 15.0, *candidates[0].OutTime, 0.001)
}
