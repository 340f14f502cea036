// Package recordfile is the default on-disk store.Backend: newline-delimited
// JSON record files alongside raw contiguous float32 vector matrices, per
// the persisted state layout (store/assets.jsonl, text_vectors.bin,
// keyframes.jsonl, visual_vectors.bin, config.json). Grounded on the
// line-oriented persistence shape of the example pack's file-backed stores,
// generalized to two parallel record/vector-matrix pairs instead of one.
package recordfile

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"previscore/internal/models"
	"previscore/internal/store"
)

const (
	assetsFile    = "assets.jsonl"
	textVecsFile  = "text_vectors.bin"
	keyframesFile = "keyframes.jsonl"
	visualVecsFile = "visual_vectors.bin"
	segmentsFile  = "segments.jsonl"
	configFile    = "config.json"
)

// persistedConfig is written once at first Open and compared against on
// every subsequent Open: startup aborts if the current config
// disagrees with persisted config unless allow_rebuild=true".
type persistedConfig struct {
	TextDim       int    `json:"textDim"`
	VisualDim     int    `json:"visualDim"`
	TextProvider  string `json:"textProvider"`
	VisualProvider string `json:"visualProvider"`
}

// Backend is the file-based store.Backend. All mutation goes through a
// single in-process mutex; the files themselves hold no locking of their
// own, so only one process may open a given dir at a time.
type Backend struct {
	mu  sync.Mutex
	dir string

	assetIndex    map[string]int // asset id -> row in assets.jsonl / text_vectors.bin
	keyframeIndex map[string]int
	segmentIndex  map[string]int
	textDim       int
	visualDim     int
}

// Open validates (or creates) dir's config.json and returns a ready Backend.
// allowRebuild lets a changed text_dim/visual_dim/provider silently adopt
// the new config and discard the old records and vectors rather than
// failing startup.
func Open(dir string, textDim, visualDim int, textProvider, visualProvider string, allowRebuild bool) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	want := persistedConfig{TextDim: textDim, VisualDim: visualDim, TextProvider: textProvider, VisualProvider: visualProvider}
	cfgPath := filepath.Join(dir, configFile)

	existing, err := readConfig(cfgPath)
	switch {
	case os.IsNotExist(err):
		if err := writeConfig(cfgPath, want); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if existing != want {
			if !allowRebuild {
				return nil, fmt.Errorf("persisted store config %+v disagrees with configured %+v (set allow_rebuild to discard it)", existing, want)
			}
			for _, f := range []string{assetsFile, textVecsFile, keyframesFile, visualVecsFile, segmentsFile} {
				_ = os.Remove(filepath.Join(dir, f))
			}
			if err := writeConfig(cfgPath, want); err != nil {
				return nil, err
			}
		}
	}

	return &Backend{
		dir:           dir,
		assetIndex:    make(map[string]int),
		keyframeIndex: make(map[string]int),
		segmentIndex:  make(map[string]int),
		textDim:       textDim,
		visualDim:     visualDim,
	}, nil
}

func readConfig(path string) (persistedConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return persistedConfig{}, err
	}
	var c persistedConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return persistedConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

func writeConfig(path string, c persistedConfig) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadAll reads every jsonl record and its matching vector-matrix row.
func (b *Backend) LoadAll() (store.LoadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out store.LoadResult

	assets, err := readJSONLines[models.Asset](filepath.Join(b.dir, assetsFile))
	if err != nil {
		return out, fmt.Errorf("reading assets: %w", err)
	}
	textVecs, err := readVectorMatrix(filepath.Join(b.dir, textVecsFile), b.textDim, len(assets))
	if err != nil {
		return out, fmt.Errorf("reading text vectors: %w", err)
	}
	keyframes, err := readJSONLines[models.Keyframe](filepath.Join(b.dir, keyframesFile))
	if err != nil {
		return out, fmt.Errorf("reading keyframes: %w", err)
	}
	visualVecs, err := readVectorMatrix(filepath.Join(b.dir, visualVecsFile), b.visualDim, len(keyframes))
	if err != nil {
		return out, fmt.Errorf("reading visual vectors: %w", err)
	}
	segments, err := readJSONLines[models.Segment](filepath.Join(b.dir, segmentsFile))
	if err != nil {
		return out, fmt.Errorf("reading segments: %w", err)
	}

	for i, a := range assets {
		b.assetIndex[a.ID] = i
	}
	for i, kf := range keyframes {
		b.keyframeIndex[kf.ID] = i
	}
	for i, seg := range segments {
		b.segmentIndex[seg.ID] = i
	}

	out.Assets = assets
	out.TextVectors = textVecs
	out.Keyframes = keyframes
	out.VisualVectors = visualVecs
	out.Segments = segments
	return out, nil
}

// WriteAsset appends one asset-level transaction. A prior version of the
// same asset, if any, is left in place on disk (the in-memory Snapshot
// handles superseding it); a full rewrite-in-place would cost an O(n) file
// rewrite per ingest, so this backend is append-only and relies on the
// caller's LoadAll + Snapshot.removeAsset to collapse duplicates on restart.
func (b *Backend) WriteAsset(tx store.AssetWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := appendJSONLine(filepath.Join(b.dir, assetsFile), tx.Asset); err != nil {
		return fmt.Errorf("appending asset: %w", err)
	}
	if err := appendVectorRow(filepath.Join(b.dir, textVecsFile), tx.TextVector, b.textDim); err != nil {
		return fmt.Errorf("appending text vector: %w", err)
	}
	b.assetIndex[tx.Asset.ID] = len(b.assetIndex)

	for i, kf := range tx.Keyframes {
		if err := appendJSONLine(filepath.Join(b.dir, keyframesFile), kf); err != nil {
			return fmt.Errorf("appending keyframe: %w", err)
		}
		if err := appendVectorRow(filepath.Join(b.dir, visualVecsFile), tx.VisualVectors[i], b.visualDim); err != nil {
			return fmt.Errorf("appending visual vector: %w", err)
		}
		b.keyframeIndex[kf.ID] = len(b.keyframeIndex)
	}
	for _, seg := range tx.Segments {
		if err := appendJSONLine(filepath.Join(b.dir, segmentsFile), seg); err != nil {
			return fmt.Errorf("appending segment: %w", err)
		}
		b.segmentIndex[seg.ID] = len(b.segmentIndex)
	}
	return nil
}

// DeleteAsset rewrites every record file without the asset's rows. This
// backend favors append-only writes for ingest and only pays the O(n)
// rewrite cost on the comparatively rare delete path.
func (b *Backend) DeleteAsset(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	assets, err := readJSONLines[models.Asset](filepath.Join(b.dir, assetsFile))
	if err != nil {
		return err
	}
	textVecs, err := readVectorMatrix(filepath.Join(b.dir, textVecsFile), b.textDim, len(assets))
	if err != nil {
		return err
	}
	keyframes, err := readJSONLines[models.Keyframe](filepath.Join(b.dir, keyframesFile))
	if err != nil {
		return err
	}
	visualVecs, err := readVectorMatrix(filepath.Join(b.dir, visualVecsFile), b.visualDim, len(keyframes))
	if err != nil {
		return err
	}
	segments, err := readJSONLines[models.Segment](filepath.Join(b.dir, segmentsFile))
	if err != nil {
		return err
	}

	keepAssets := assets[:0]
	keepTextVecs := textVecs[:0]
	for i, a := range assets {
		if a.ID == id {
			continue
		}
		keepAssets = append(keepAssets, a)
		keepTextVecs = append(keepTextVecs, textVecs[i])
	}
	keepKeyframes := keyframes[:0]
	keepVisualVecs := visualVecs[:0]
	for i, kf := range keyframes {
		if kf.AssetID == id {
			continue
		}
		keepKeyframes = append(keepKeyframes, kf)
		keepVisualVecs = append(keepVisualVecs, visualVecs[i])
	}
	keepSegments := segments[:0]
	for _, seg := range segments {
		if seg.AssetID == id {
			continue
		}
		keepSegments = append(keepSegments, seg)
	}

	if err := rewriteJSONLines(filepath.Join(b.dir, assetsFile), keepAssets); err != nil {
		return err
	}
	if err := rewriteVectorMatrix(filepath.Join(b.dir, textVecsFile), keepTextVecs, b.textDim); err != nil {
		return err
	}
	if err := rewriteJSONLines(filepath.Join(b.dir, keyframesFile), keepKeyframes); err != nil {
		return err
	}
	if err := rewriteVectorMatrix(filepath.Join(b.dir, visualVecsFile), keepVisualVecs, b.visualDim); err != nil {
		return err
	}
	if err := rewriteJSONLines(filepath.Join(b.dir, segmentsFile), keepSegments); err != nil {
		return err
	}

	b.assetIndex = make(map[string]int, len(keepAssets))
	for i, a := range keepAssets {
		b.assetIndex[a.ID] = i
	}
	b.keyframeIndex = make(map[string]int, len(keepKeyframes))
	for i, kf := range keepKeyframes {
		b.keyframeIndex[kf.ID] = i
	}
	b.segmentIndex = make(map[string]int, len(keepSegments))
	for i, seg := range keepSegments {
		b.segmentIndex[seg.ID] = i
	}
	return nil
}

// Close is a no-op: every write already flushed to disk synchronously.
func (b *Backend) Close() error { return nil }

func readJSONLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("parsing line in %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}

func appendJSONLine(path string, v any) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

func rewriteJSONLines[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, v := range rows {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readVectorMatrix reads a contiguous float32 matrix with rowCount rows of
// dim columns each, little-endian, row i aligned to record i.
func readVectorMatrix(path string, dim, rowCount int) ([][]float32, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return make([][]float32, rowCount), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([][]float32, 0, rowCount)
	buf := make([]byte, dim*4)
	reader := bufio.NewReader(f)
	for {
		row, err := readFloat32Row(reader, buf, dim)
		if err != nil {
			break
		}
		out = append(out, row)
	}
	for len(out) < rowCount {
		out = append(out, nil)
	}
	return out, nil
}

func readFloat32Row(r *bufio.Reader, buf []byte, dim int) ([]float32, error) {
	if _, err := fillBuffer(r, buf); err != nil {
		return nil, err
	}
	row := make([]float32, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		row[i] = math.Float32frombits(bits)
	}
	return row, nil
}

func fillBuffer(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, fmt.Errorf("short read")
		}
	}
	return n, nil
}

func appendVectorRow(path string, vec []float32, dim int) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeFloat32Row(f, vec, dim)
}

func writeFloat32Row(w *os.File, vec []float32, dim int) error {
	buf := make([]byte, dim*4)
	for i := 0; i < dim; i++ {
		var f float32
		if i < len(vec) {
			f = vec[i]
		}
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(f))
	}
	_, err := w.Write(buf)
	return err
}

func rewriteVectorMatrix(path string, rows [][]float32, dim int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, row := range rows {
		if err := writeFloat32Row(f, row, dim); err != nil {
			return err
		}
	}
	return nil
}
