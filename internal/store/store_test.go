package store

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previscore/internal/errs"
	"previscore/internal/models"
)

// memBackend is an in-memory Backend double for exercising Store without
// touching a file or database.
type memBackend struct {
	assets        []models.Asset
	textVectors   [][]float32
	keyframes     []models.Keyframe
	visualVectors [][]float32
	segments      []models.Segment
	closed        bool
}

func (b *memBackend) LoadAll() (LoadResult, error) {
	return LoadResult{
		Assets:        append([]models.Asset(nil), b.assets...),
		TextVectors:   append([][]float32(nil), b.textVectors...),
		Keyframes:     append([]models.Keyframe(nil), b.keyframes...),
		VisualVectors: append([][]float32(nil), b.visualVectors...),
		Segments:      append([]models.Segment(nil), b.segments...),
	}, nil
}

func (b *memBackend) WriteAsset(tx AssetWrite) error {
	b.assets = append(b.assets, tx.Asset)
	b.textVectors = append(b.textVectors, tx.TextVector)
	b.keyframes = append(b.keyframes, tx.Keyframes...)
	b.visualVectors = append(b.visualVectors, tx.VisualVectors...)
	b.segments = append(b.segments, tx.Segments...)
	return nil
}

func (b *memBackend) DeleteAsset(id string) error {
	var keptAssets []models.Asset
	var keptVecs [][]float32
	for i, a := range b.assets {
		if a.ID == id {
			continue
		}
		keptAssets = append(keptAssets, a)
		keptVecs = append(keptVecs, b.textVectors[i])
	}
	b.assets, b.textVectors = keptAssets, keptVecs
	return nil
}

func (b *memBackend) Close() error {
	b.closed = true
	return nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(&memBackend{}, 4, 2, zerolog.Nop())
	require.NoError(t, err)
	return st
}

func TestCommitAssetThenGetAssetRoundTrips(t *testing.T) {
	st := newTestStore(t)
	asset := models.Asset{ID: "a1", Path: "/x.mp4", TextEmbedding: models.Vector{1, 0, 0, 0}}

	require.NoError(t, st.CommitAsset(asset, nil, nil))

	got, err := st.GetAsset("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
}

func TestCommitAssetRejectsWrongTextDimension(t *testing.T) {
	st := newTestStore(t)
	asset := models.Asset{ID: "a1", TextEmbedding: models.Vector{1, 0, 0}} // 3, want 4

	err := st.CommitAsset(asset, nil, nil)
	require.Error(t, err)
	assert.True(t, errsIsDimensionMismatch(err))
}

func TestCommitAssetRejectsWrongKeyframeDimension(t *testing.T) {
	st := newTestStore(t)
	asset := models.Asset{ID: "a1", TextEmbedding: models.Vector{1, 0, 0, 0}}
	kf := models.Keyframe{ID: "kf1", AssetID: "a1", VisualEmbedding: models.Vector{1}} // 1, want 2

	err := st.CommitAsset(asset, []models.Keyframe{kf}, nil)
	require.Error(t, err)
	assert.True(t, errsIsDimensionMismatch(err))

	_, getErr := st.GetAsset("a1")
	assert.Error(t, getErr, "a rejected write must not partially land")
}

func TestReingestReplacesPriorAssetRecord(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CommitAsset(models.Asset{ID: "a1", Summary: "first"}, nil, nil))
	require.NoError(t, st.CommitAsset(models.Asset{ID: "a1", Summary: "second"}, nil, nil))

	got, err := st.GetAsset("a1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Summary)
	assert.Equal(t, 1, st.snapshot().AssetCount(), "reingest must not leave a duplicate row")
}

func TestDeleteAssetThenGetAssetReturnsNotFound(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CommitAsset(models.Asset{ID: "a1"}, nil, nil))
	require.NoError(t, st.DeleteAsset("a1"))

	_, err := st.GetAsset("a1")
	require.Error(t, err)
	assert.True(t, errsIsNotFound(err))
}

func TestSearchTextRanksByCosineSimilarityDescending(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CommitAsset(models.Asset{ID: "close", TextEmbedding: models.Vector{1, 0, 0, 0}}, nil, nil))
	require.NoError(t, st.CommitAsset(models.Asset{ID: "far", TextEmbedding: models.Vector{0, 1, 0, 0}}, nil, nil))

	results, err := st.Search(models.Vector{1, 0, 0, 0}, models.TagFilter{}, 10, ModalityText)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].AssetID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTextHonorsRequireAllFilter(t *testing.T) {
	st := newTestStore(t)
	matching := models.Asset{
		ID:            "tagged",
		TextEmbedding: models.Vector{1, 0, 0, 0},
		Tags:          []models.TagAssignment{{L1: "scene", L2: "interior"}},
	}
	other := models.Asset{ID: "untagged", TextEmbedding: models.Vector{1, 0, 0, 0}}
	require.NoError(t, st.CommitAsset(matching, nil, nil))
	require.NoError(t, st.CommitAsset(other, nil, nil))

	filter := models.TagFilter{RequireAll: []models.TagAssignment{{L1: "scene", L2: "interior"}}}
	results, err := st.Search(models.Vector{1, 0, 0, 0}, filter, 10, ModalityText)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tagged", results[0].AssetID)
}

func TestSearchTextHonorsExcludeFilter(t *testing.T) {
	st := newTestStore(t)
	excluded := models.Asset{
		ID:            "excluded",
		TextEmbedding: models.Vector{1, 0, 0, 0},
		Tags:          []models.TagAssignment{{L1: "scene", L2: "exterior"}},
	}
	require.NoError(t, st.CommitAsset(excluded, nil, nil))

	filter := models.TagFilter{Exclude: []models.TagAssignment{{L1: "scene", L2: "exterior"}}}
	results, err := st.Search(models.Vector{1, 0, 0, 0}, filter, 10, ModalityText)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchVisualMatchesOwningAssetTags(t *testing.T) {
	st := newTestStore(t)
	asset := models.Asset{ID: "a1", Tags: []models.TagAssignment{{L1: "character"}}}
	kf := models.Keyframe{ID: "kf1", AssetID: "a1", VisualEmbedding: models.Vector{1, 0}}
	require.NoError(t, st.CommitAsset(asset, []models.Keyframe{kf}, nil))

	results, err := st.Search(models.Vector{1, 0}, models.TagFilter{RequireAll: []models.TagAssignment{{L1: "character"}}}, 10, ModalityVisual)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kf1", results[0].KeyframeID)
}

func TestSearchRejectsWrongQueryDimension(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Search(models.Vector{1, 2, 3}, models.TagFilter{}, 10, ModalityText)
	require.Error(t, err)
	assert.True(t, errsIsDimensionMismatch(err))
}

func TestOpenSkipsPersistedRecordsWithMismatchedDimension(t *testing.T) {
	backend := &memBackend{
		assets:      []models.Asset{{ID: "stale"}},
		textVectors: [][]float32{{1, 2, 3}}, // 3 dims, store wants 4
	}
	st, err := Open(backend, 4, 2, zerolog.Nop())
	require.NoError(t, err)

	_, getErr := st.GetAsset("stale")
	require.Error(t, getErr, "a record whose vector failed dim validation is not loaded")

	results, searchErr := st.Search(models.Vector{1, 0, 0, 0}, models.TagFilter{}, 10, ModalityText)
	require.NoError(t, searchErr)
	assert.Empty(t, results, "an asset whose vector failed dim validation must not be searchable")
}

func errsIsDimensionMismatch(err error) bool {
	return errors.Is(err, errs.ErrDimensionMismatch)
}

func errsIsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
