package recordfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"previscore/internal/models"
	"previscore/internal/store"
)

func TestWriteAssetThenLoadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir, 4, 2, "openai", "http-visual", false)
	require.NoError(t, err)

	asset := models.Asset{ID: "a1", Path: "/clips/a1.mp4", TextEmbedding: models.Vector{0.1, 0.2, 0.3, 0.4}}
	kf := models.Keyframe{ID: "kf1", AssetID: "a1", VisualEmbedding: models.Vector{0.5, 0.6}}

	err = b.WriteAsset(store.AssetWrite{
		Asset:         asset,
		TextVector:    []float32{0.1, 0.2, 0.3, 0.4},
		Keyframes:     []models.Keyframe{kf},
		VisualVectors: [][]float32{{0.5, 0.6}},
	})
	require.NoError(t, err)

	loaded, err := b.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded.Assets, 1)
	require.Equal(t, "a1", loaded.Assets[0].ID)
	require.Len(t, loaded.TextVectors, 1)
	require.InDelta(t, 0.3, loaded.TextVectors[0][2], 1e-6)
	require.Len(t, loaded.Keyframes, 1)
	require.InDelta(t, 0.6, loaded.VisualVectors[0][1], 1e-6)
}

func TestOpenRejectsMismatchedConfigWithoutAllowRebuild(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, 4, 2, "openai", "http-visual", false)
	require.NoError(t, err)

	_, err = Open(dir, 8, 2, "openai", "http-visual", false)
	require.Error(t, err)
}

func TestOpenAllowsRebuildOnMismatchedConfig(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir, 4, 2, "openai", "http-visual", false)
	require.NoError(t, err)
	require.NoError(t, b.WriteAsset(store.AssetWrite{
		Asset:      models.Asset{ID: "a1"},
		TextVector: []float32{0.1, 0.2, 0.3, 0.4},
	}))

	b2, err := Open(dir, 8, 3, "openai", "http-visual", true)
	require.NoError(t, err)
	loaded, err := b2.LoadAll()
	require.NoError(t, err)
	require.Empty(t, loaded.Assets, "allow_rebuild must discard stale records under the old dims")
}

func TestDeleteAssetRemovesItsKeyframes(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir, 4, 2, "openai", "http-visual", false)
	require.NoError(t, err)

	require.NoError(t, b.WriteAsset(store.AssetWrite{
		Asset:         models.Asset{ID: "a1"},
		TextVector:    []float32{0.1, 0.2, 0.3, 0.4},
		Keyframes:     []models.Keyframe{{ID: "kf1", AssetID: "a1"}},
		VisualVectors: [][]float32{{0.1, 0.2}},
	}))
	require.NoError(t, b.WriteAsset(store.AssetWrite{
		Asset:      models.Asset{ID: "a2"},
		TextVector: []float32{0.5, 0.5, 0.5, 0.5},
	}))

	require.NoError(t, b.DeleteAsset("a1"))

	loaded, err := b.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded.Assets, 1)
	require.Equal(t, "a2", loaded.Assets[0].ID)
	require.Empty(t, loaded.Keyframes)
}
