package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previscore/internal/config"
	"previscore/internal/embedding"
	"previscore/internal/keyframe"
	"previscore/internal/media"
	"previscore/internal/models"
	"previscore/internal/store"
	"previscore/internal/tagging"
)

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, path string) (models.VideoMetadata, error) {
	return models.VideoMetadata{Duration: 10, Width: 1920, Height: 1080}, nil
}

func (fakeProber) Transcode720pProxy(ctx context.Context, videoPath, outPath string) error {
	return os.WriteFile(outPath, []byte("proxy"), 0o644)
}

// keyframeProberAdapter satisfies keyframe.Extractor's unexported prober
// interface (ExtractFrame + DetectSceneChanges).
type keyframeProberAdapter struct{}

func (keyframeProberAdapter) ExtractFrame(ctx context.Context, videoPath string, timestampSec float64, outPath string, maxEdge int) error {
	return os.WriteFile(outPath, []byte("thumb"), 0o644)
}

func (keyframeProberAdapter) DetectSceneChanges(ctx context.Context, videoPath string, threshold float64) ([]media.SceneEvent, error) {
	return nil, nil
}

type fakeEmbedProvider struct{}

func (fakeEmbedProvider) Name() string { return "fake" }
func (fakeEmbedProvider) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return out, nil
}
func (fakeEmbedProvider) EmbedImage(ctx context.Context, images []embedding.ImageRef) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range images {
		out[i] = []float32{0.5, 0.6}
	}
	return out, nil
}
func (fakeEmbedProvider) EmbedTextForVisual(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5, 0.6}
	}
	return out, nil
}

type fakeBackend struct {
	assets        []models.Asset
	textVectors   [][]float32
	keyframes     []models.Keyframe
	visualVectors [][]float32
}

func (b *fakeBackend) LoadAll() (store.LoadResult, error) { return store.LoadResult{}, nil }
func (b *fakeBackend) WriteAsset(tx store.AssetWrite) error {
	b.assets = append(b.assets, tx.Asset)
	b.textVectors = append(b.textVectors, tx.TextVector)
	b.keyframes = append(b.keyframes, tx.Keyframes...)
	b.visualVectors = append(b.visualVectors, tx.VisualVectors...)
	return nil
}
func (b *fakeBackend) DeleteAsset(id string) error { return nil }
func (b *fakeBackend) Close() error                { return nil }

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	log := zerolog.Nop()

	vectors, err := store.Open(&fakeBackend{}, 4, 2, log)
	require.NoError(t, err)

	kfExtractor := keyframe.New(keyframeProberAdapter{}, config.Keyframe{
		Strategy: "interval", IntervalS: 5, MaxKeyframes: 10, MinIntervalS: 1, MaxGapS: 30,
	}, t.TempDir(), log)

	tagger := tagging.New(tagging.DefaultHierarchy(), tagging.DefaultFilenameRules(), nil, nil, 0.5, log)

	embeddings := embedding.NewService([]embedding.Provider{fakeEmbedProvider{}}, 4, 2, 100, log)

	return New(fakeProber{}, kfExtractor, tagger, embeddings, vectors, t.TempDir(), 4, log)
}

func TestBuildSummaryJoinsFilenameAndTagLineage(t *testing.T) {
	summary := buildSummary("hero.mp4", []models.TagAssignment{{L1: "character", L2: "hero"}})
	assert.Contains(t, summary, "hero.mp4")
	assert.Contains(t, summary, "character/hero")
}

func TestSniffMediaTypeDetectsImageFromBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pic.png")
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	mt, err := sniffMediaType(path)
	require.NoError(t, err)
	assert.Equal(t, models.MediaImage, mt)
}

func TestIngestImageAssetSkipsProbeAndKeyframeStages(t *testing.T) {
	p := newTestPipeline(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3, 4}
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	var stages []string
	id, err := p.Ingest(context.Background(), path, models.IngestOptions{}, func(u ProgressUpdate) {
		stages = append(stages, u.Stage)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotContains(t, stages, "probe")
	assert.NotContains(t, stages, "keyframe")

	asset, err := p.vectors.GetAsset(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, asset.Status)
	assert.NotEmpty(t, asset.Tags)
}

func TestIngestIsANoOpOnReingestWithoutForce(t *testing.T) {
	p := newTestPipeline(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G', 1, 2, 3}, 0o644))

	id1, err := p.Ingest(context.Background(), path, models.IngestOptions{}, nil)
	require.NoError(t, err)
	id2, err := p.Ingest(context.Background(), path, models.IngestOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "identical content must hash to the same asset id")
}
