package store

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"previscore/internal/errs"
	"previscore/internal/models"
)

// Modality selects which vector matrix Search scores against.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityVisual Modality = "visual"
)

// minCandidatesPerWorker mirrors AskFlow's minWorkersThreshold: below this
// many candidates, scoring runs on a single goroutine.
const minCandidatesPerWorker = 500

// Store is the transactional write path and the lock-free
// read path over a copy-on-write Snapshot. One exclusive lock serializes
// writers; readers never take a lock, they just load the current pointer.
type Store struct {
	backend Backend
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex

	textDim   int
	visualDim int
	log       zerolog.Logger

	rejectedWrites atomic.Int64
}

// Open rebuilds the in-memory snapshot from backend at startup, discarding
// (logging, not failing) any record whose vector dim disagrees with the
// configured textDim/visualDim before anything is written.
func Open(backend Backend, textDim, visualDim int, log zerolog.Logger) (*Store, error) {
	st := &Store{backend: backend, textDim: textDim, visualDim: visualDim, log: log}

	loaded, err := backend.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading persisted store: %w", err)
	}

	snap := newEmptySnapshot(textDim, visualDim)
	for i, a := range loaded.Assets {
		var vec []float32
		if i < len(loaded.TextVectors) {
			vec = loaded.TextVectors[i]
		}
		if len(vec) != 0 && len(vec) != textDim {
			log.Warn().Str("asset_id", a.ID).Int("dim", len(vec)).Int("want", textDim).Msg("discarding asset record with mismatched text vector dimension")
			continue
		}
		snap.appendAsset(a, vec)
	}
	for i, kf := range loaded.Keyframes {
		var vec []float32
		if i < len(loaded.VisualVectors) {
			vec = loaded.VisualVectors[i]
		}
		if len(vec) != visualDim {
			log.Warn().Str("keyframe_id", kf.ID).Int("dim", len(vec)).Int("want", visualDim).Msg("discarding keyframe vector with mismatched dimension")
			continue
		}
		snap.appendKeyframe(kf, vec)
	}
	for _, seg := range loaded.Segments {
		snap.appendSegment(seg)
	}

	st.current.Store(snap)
	return st, nil
}

func (st *Store) snapshot() *Snapshot {
	return st.current.Load()
}

// CommitAsset writes one asset and all of its keyframes/segments
// transactionally: if any vector fails dim validation the whole write is
// rejected before anything reaches the backend.
// A prior version of the same asset id (reingest, force-replace) is
// removed first so the swap never exposes a mix of old and new rows.
func (st *Store) CommitAsset(asset models.Asset, keyframes []models.Keyframe, segments []models.Segment) error {
	textVec, err := st.prepareVector(asset.TextEmbedding, st.textDim, "asset text embedding")
	if err != nil {
		return err
	}
	visualVecs := make([][]float32, len(keyframes))
	for i, kf := range keyframes {
		v, err := st.prepareVector(kf.VisualEmbedding, st.visualDim, fmt.Sprintf("keyframe %s visual embedding", kf.ID))
		if err != nil {
			return err
		}
		visualVecs[i] = v
	}
	for _, seg := range segments {
		if _, err := st.prepareVector(seg.TextEmbedding, st.textDim, fmt.Sprintf("segment %s text embedding", seg.ID)); err != nil {
			return err
		}
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if err := st.backend.WriteAsset(AssetWrite{
		Asset:         asset,
		TextVector:    textVec,
		Keyframes:     keyframes,
		VisualVectors: visualVecs,
		Segments:      segments,
	}); err != nil {
		return fmt.Errorf("persisting asset %s: %w", asset.ID, err)
	}

	next := st.snapshot().clone()
	next.removeAsset(asset.ID)
	next.appendAsset(asset, textVec)
	for i, kf := range keyframes {
		next.appendKeyframe(kf, visualVecs[i])
	}
	for _, seg := range segments {
		next.appendSegment(seg)
	}
	st.current.Store(next)
	return nil
}

// prepareVector L2-normalizes v (vectors are normalized at write
// time) after validating its length, or returns nil for an absent
// (zero-length) vector, which is valid for e.g. an image asset's segments.
// A dim mismatch increments RejectedWrites before the caller even reaches
// the backend, so the count reflects every rejected vector, not just
// rejected CommitAsset calls.
func (st *Store) prepareVector(v models.Vector, wantDim int, label string) ([]float32, error) {
	if len(v) == 0 {
		return nil, nil
	}
	if len(v) != wantDim {
		st.rejectedWrites.Add(1)
		return nil, errs.New(errs.DimensionMismatch, fmt.Sprintf("%s has dim %d, want %d", label, len(v), wantDim))
	}
	return normalizeL2([]float32(v)), nil
}

// RejectedWrites returns the number of vectors rejected for dimension
// mismatch since Store was opened, across every CommitAsset call.
func (st *Store) RejectedWrites() int64 {
	return st.rejectedWrites.Load()
}

// DeleteAsset removes an asset and its derived keyframes/segments.
func (st *Store) DeleteAsset(id string) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if _, ok := st.snapshot().Asset(id); !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("asset %s not found", id))
	}
	if err := st.backend.DeleteAsset(id); err != nil {
		return fmt.Errorf("deleting asset %s: %w", id, err)
	}
	next := st.snapshot().clone()
	next.removeAsset(id)
	st.current.Store(next)
	return nil
}

// GetAsset returns the current record for id.
func (st *Store) GetAsset(id string) (models.Asset, error) {
	a, ok := st.snapshot().Asset(id)
	if !ok {
		return models.Asset{}, errs.New(errs.NotFound, fmt.Sprintf("asset %s not found", id))
	}
	return a, nil
}

// ListKeyframes returns every keyframe of assetID.
func (st *Store) ListKeyframes(assetID string) ([]models.Keyframe, error) {
	if _, ok := st.snapshot().Asset(assetID); !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("asset %s not found", assetID))
	}
	return st.snapshot().KeyframesForAsset(assetID), nil
}

// Candidate is one raw scored row from Search, before the search service's
// modality fusion.
type Candidate struct {
	AssetID    string
	KeyframeID string
	Score      float64
}

// Search implements the read path: filter first, score the
// survivors by cosine similarity (a plain dot product since vectors are
// pre-normalized), return the top-k tie-broken by id ascending (asset id
// for the text modality, keyframe id for the visual modality).
func (st *Store) Search(queryVec models.Vector, filter models.TagFilter, k int, modality Modality) ([]Candidate, error) {
	snap := st.snapshot()

	var wantDim int
	switch modality {
	case ModalityText:
		wantDim = snap.textDim
	case ModalityVisual:
		wantDim = snap.visualDim
	default:
		return nil, fmt.Errorf("unknown search modality %q", modality)
	}
	if len(queryVec) != wantDim {
		return nil, errs.New(errs.DimensionMismatch, fmt.Sprintf("query vector has dim %d, want %d", len(queryVec), wantDim))
	}
	queryF32 := normalizeL2(append([]float32(nil), queryVec...))

	switch modality {
	case ModalityText:
		return st.searchText(snap, queryF32, filter, k)
	default:
		return st.searchVisual(snap, queryF32, filter, k)
	}
}

func (st *Store) searchText(snap *Snapshot, queryVec []float32, filter models.TagFilter, k int) ([]Candidate, error) {
	var indices []int
	for i, a := range snap.assets {
		if len(snap.textVectors[i]) == 0 {
			continue
		}
		if !matchesFilter(a.Tags, filter) {
			continue
		}
		indices = append(indices, i)
	}

	numWorkers := adaptiveWorkers(runtime.NumCPU(), len(indices), minCandidatesPerWorker)
	scored := parallelScore(indices, numWorkers, func(idx int) (float32, bool) {
		return dotProductF32Unrolled(queryVec, snap.textVectors[idx]), true
	})
	scored = topKByScoreThenID(scored, k, func(idx int) string { return snap.assets[idx].ID })

	out := make([]Candidate, len(scored))
	for i, s := range scored {
		out[i] = Candidate{AssetID: snap.assets[s.index].ID, Score: float64(s.score)}
	}
	return out, nil
}

func (st *Store) searchVisual(snap *Snapshot, queryVec []float32, filter models.TagFilter, k int) ([]Candidate, error) {
	var indices []int
	for i, kf := range snap.keyframes {
		asset, ok := snap.Asset(kf.AssetID)
		if !ok || !matchesFilter(asset.Tags, filter) {
			continue
		}
		indices = append(indices, i)
	}

	numWorkers := adaptiveWorkers(runtime.NumCPU(), len(indices), minCandidatesPerWorker)
	scored := parallelScore(indices, numWorkers, func(idx int) (float32, bool) {
		return dotProductF32Unrolled(queryVec, snap.visualVectors[idx]), true
	})
	scored = topKByScoreThenID(scored, k, func(idx int) string { return snap.keyframes[idx].ID })

	out := make([]Candidate, len(scored))
	for i, s := range scored {
		kf := snap.keyframes[s.index]
		out[i] = Candidate{AssetID: kf.AssetID, KeyframeID: kf.ID, Score: float64(s.score)}
	}
	return out, nil
}

// matchesFilter applies the required-all/required-any/excluded tag
// expressions against an asset's tag set.
func matchesFilter(tags []models.TagAssignment, filter models.TagFilter) bool {
	for _, must := range filter.RequireAll {
		if !anyTagMatches(tags, must) {
			return false
		}
	}
	if len(filter.RequireAny) > 0 {
		any := false
		for _, want := range filter.RequireAny {
			if anyTagMatches(tags, want) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, excluded := range filter.Exclude {
		if anyTagMatches(tags, excluded) {
			return false
		}
	}
	return true
}

// anyTagMatches reports whether some tag in tags agrees with pattern on
// every level pattern specifies (an empty level in pattern is a wildcard
// for that level and deeper).
func anyTagMatches(tags []models.TagAssignment, pattern models.TagAssignment) bool {
	for _, t := range tags {
		if t.L1 != pattern.L1 {
			continue
		}
		if pattern.L2 != "" && t.L2 != pattern.L2 {
			continue
		}
		if pattern.L3 != "" && t.L3 != pattern.L3 {
			continue
		}
		if pattern.L4 != "" && t.L4 != pattern.L4 {
			continue
		}
		return true
	}
	return false
}

// ListAssets returns every asset satisfying filter, without consulting any
// vector (the read path TAG_ONLY mode runs against).
func (st *Store) ListAssets(filter models.TagFilter) []models.Asset {
	snap := st.snapshot()
	out := make([]models.Asset, 0, len(snap.assets))
	for _, a := range snap.assets {
		if matchesFilter(a.Tags, filter) {
			out = append(out, a)
		}
	}
	return out
}

// BestKeyframeScore returns the id and cosine similarity of assetID's
// keyframe whose visual embedding is closest to queryVec, the per-asset
// lookup recall/multimodal scoring does to anchor a window
// or compute a cross-modal visual sub-score.
func (st *Store) BestKeyframeScore(assetID string, queryVec models.Vector) (keyframeID string, score float64, ok bool) {
	if len(queryVec) != st.visualDim {
		return "", 0, false
	}
	queryF32 := normalizeL2(append([]float32(nil), queryVec...))

	snap := st.snapshot()
	var best float32 = -2 // below any possible cosine similarity
	for _, idx := range snap.keyframesByAsset[assetID] {
		if len(snap.visualVectors[idx]) == 0 {
			continue
		}
		s := dotProductF32Unrolled(queryF32, snap.visualVectors[idx])
		if s > best {
			best = s
			keyframeID = snap.keyframes[idx].ID
			ok = true
		}
	}
	return keyframeID, float64(best), ok
}

// TextScore returns assetID's cosine similarity to queryVec against the
// text modality, or ok=false if the asset has no text vector (or the
// dimension disagrees), the per-asset lookup multimodal fusion needs
// alongside the tag and visual sub-scores.
func (st *Store) TextScore(assetID string, queryVec models.Vector) (score float64, ok bool) {
	if len(queryVec) != st.textDim {
		return 0, false
	}
	queryF32 := normalizeL2(append([]float32(nil), queryVec...))

	snap := st.snapshot()
	idx, exists := snap.assetIndexByID[assetID]
	if !exists || len(snap.textVectors[idx]) == 0 {
		return 0, false
	}
	return float64(dotProductF32Unrolled(queryF32, snap.textVectors[idx])), true
}

// Close releases the backend's resources.
func (st *Store) Close() error {
	return st.backend.Close()
}
