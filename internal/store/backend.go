package store

import "previscore/internal/models"

// Backend persists the records a Snapshot holds in memory. Vectors cross
// the Backend boundary as []float32 already in write order; a Backend
// never needs to normalize or validate dimension, that's the Store's job
// before it ever calls WriteAsset.
type Backend interface {
	// LoadAll reads every persisted asset/keyframe/segment plus their
	// vectors, used once at startup to rebuild the in-memory snapshot.
	LoadAll() (LoadResult, error)

	// WriteAsset persists one asset-level transaction: the asset row and
	// all its keyframes/segments commit together, or none do.
	WriteAsset(tx AssetWrite) error

	// DeleteAsset removes an asset and everything derived from it.
	DeleteAsset(id string) error

	// Close releases any resources the backend holds (files, connections).
	Close() error
}

// LoadResult is everything a Backend returns from LoadAll, row-aligned
// with its vectors the way the on-disk layout stores them (record
// file row i <-> vector matrix row i).
type LoadResult struct {
	Assets       []models.Asset
	TextVectors  [][]float32 // len == len(Assets); may contain nil for an asset with no text embedding
	Keyframes    []models.Keyframe
	VisualVectors [][]float32 // len == len(Keyframes)
	Segments     []models.Segment
}

// AssetWrite is one atomic write: an asset plus all of its keyframes and
// segments, already dimension-validated and L2-normalized by the Store.
type AssetWrite struct {
	Asset         models.Asset
	TextVector    []float32
	Keyframes     []models.Keyframe
	VisualVectors [][]float32 // parallel to Keyframes
	Segments      []models.Segment
}
