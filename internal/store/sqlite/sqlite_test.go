package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"previscore/internal/models"
	"previscore/internal/store"
)

func TestWriteAssetThenLoadAllRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.WriteAsset(store.AssetWrite{
		Asset:         models.Asset{ID: "a1", Path: "/clips/a1.mp4"},
		TextVector:    []float32{0.1, 0.2, 0.3, 0.4},
		Keyframes:     []models.Keyframe{{ID: "kf1", AssetID: "a1"}},
		VisualVectors: [][]float32{{0.5, 0.6}},
		Segments:      []models.Segment{{ID: "s1", AssetID: "a1"}},
	}))

	loaded, err := b.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded.Assets, 1)
	require.Equal(t, "a1", loaded.Assets[0].ID)
	require.InDelta(t, 0.3, loaded.TextVectors[0][2], 1e-6)
	require.Len(t, loaded.Keyframes, 1)
	require.InDelta(t, 0.6, loaded.VisualVectors[0][1], 1e-6)
	require.Len(t, loaded.Segments, 1)
}

func TestWriteAssetUpsertsOnConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	write := func(p string) error {
		return b.WriteAsset(store.AssetWrite{
			Asset:      models.Asset{ID: "a1", Path: p},
			TextVector: []float32{0.1, 0.2},
		})
	}
	require.NoError(t, write("/clips/v1.mp4"))
	require.NoError(t, write("/clips/v2.mp4"))

	loaded, err := b.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded.Assets, 1)
	require.Equal(t, "/clips/v2.mp4", loaded.Assets[0].Path)
}

func TestDeleteAssetRemovesItsKeyframesAndSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.WriteAsset(store.AssetWrite{
		Asset:         models.Asset{ID: "a1"},
		TextVector:    []float32{0.1, 0.2},
		Keyframes:     []models.Keyframe{{ID: "kf1", AssetID: "a1"}},
		VisualVectors: [][]float32{{0.1, 0.2}},
		Segments:      []models.Segment{{ID: "s1", AssetID: "a1"}},
	}))
	require.NoError(t, b.WriteAsset(store.AssetWrite{
		Asset:      models.Asset{ID: "a2"},
		TextVector: []float32{0.5, 0.5},
	}))

	require.NoError(t, b.DeleteAsset("a1"))

	loaded, err := b.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded.Assets, 1)
	require.Equal(t, "a2", loaded.Assets[0].ID)
	require.Empty(t, loaded.Keyframes)
	require.Empty(t, loaded.Segments)
}

func TestSerializeVectorRoundTrips(t *testing.T) {
	v := []float32{0.25, -1.5, 3.0}
	require.Equal(t, v, deserializeVector(serializeVector(v)))
}
