// Package store implements transactional asset-level writes
// over a lock-free, immutable, read-mostly snapshot of the vector matrices,
// grounded on Vantagics-AskFlow's internal/vectorstore/store.go (cached
// float32 vectors, product-partitioned indices, 4-way unrolled dot
// product, adaptive worker pool) generalized from AskFlow's single
// document/chunk model to this module's asset/keyframe/segment model.
package store

import (
	"math"
	"sort"
	"sync"

	"previscore/internal/models"
)

// Snapshot is one immutable, point-in-time view of the store: every asset,
// keyframe, and segment record plus their L2-normalized vectors, laid out
// contiguously for cache-friendly scanning. Readers hold a *Snapshot for
// the duration of one call and never block a concurrent writer: reads are
// lock-free against an immutable snapshot of the vector matrix.
type Snapshot struct {
	assets       []models.Asset
	assetIndexByID map[string]int
	textVectors  [][]float32 // row i ~ assets[i], L2-normalized, len == TextDim or 0 if asset has none

	keyframes        []models.Keyframe
	keyframeIndexByID map[string]int
	keyframesByAsset map[string][]int
	visualVectors    [][]float32 // row i ~ keyframes[i], L2-normalized

	segments        []models.Segment
	segmentsByAsset map[string][]int

	textDim   int
	visualDim int
}

func newEmptySnapshot(textDim, visualDim int) *Snapshot {
	return &Snapshot{
		assetIndexByID:    make(map[string]int),
		keyframeIndexByID: make(map[string]int),
		keyframesByAsset:  make(map[string][]int),
		segmentsByAsset:   make(map[string][]int),
		textDim:           textDim,
		visualDim:         visualDim,
	}
}

// clone returns a shallow copy whose slices/maps are independently
// appendable without mutating the snapshot other readers still hold. Used
// as the basis for a single asset-level write's copy-on-write swap.
func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		assets:            append([]models.Asset(nil), s.assets...),
		assetIndexByID:    make(map[string]int, len(s.assetIndexByID)),
		textVectors:       append([][]float32(nil), s.textVectors...),
		keyframes:         append([]models.Keyframe(nil), s.keyframes...),
		keyframeIndexByID: make(map[string]int, len(s.keyframeIndexByID)),
		keyframesByAsset:  make(map[string][]int, len(s.keyframesByAsset)),
		visualVectors:     append([][]float32(nil), s.visualVectors...),
		segments:          append([]models.Segment(nil), s.segments...),
		segmentsByAsset:   make(map[string][]int, len(s.segmentsByAsset)),
		textDim:           s.textDim,
		visualDim:         s.visualDim,
	}
	for k, v := range s.assetIndexByID {
		c.assetIndexByID[k] = v
	}
	for k, v := range s.keyframeIndexByID {
		c.keyframeIndexByID[k] = v
	}
	for k, v := range s.keyframesByAsset {
		c.keyframesByAsset[k] = append([]int(nil), v...)
	}
	for k, v := range s.segmentsByAsset {
		c.segmentsByAsset[k] = append([]int(nil), v...)
	}
	return c
}

// removeAsset drops asset id and everything derived from it (keyframes,
// segments) from the clone, used by reingest/force-replace/delete before
// appending the fresh records, so a reingest never leaves stale rows
// alongside the new ones.
func (s *Snapshot) removeAsset(id string) {
	idx, ok := s.assetIndexByID[id]
	if !ok {
		return
	}
	s.assets = append(s.assets[:idx], s.assets[idx+1:]...)
	s.textVectors = append(s.textVectors[:idx], s.textVectors[idx+1:]...)
	delete(s.assetIndexByID, id)
	for i := idx; i < len(s.assets); i++ {
		s.assetIndexByID[s.assets[i].ID] = i
	}

	if kfIdxs, ok := s.keyframesByAsset[id]; ok {
		removeSet := make(map[int]bool, len(kfIdxs))
		for _, i := range kfIdxs {
			removeSet[i] = true
		}
		newKeyframes := s.keyframes[:0]
		newVisual := s.visualVectors[:0]
		for i, kf := range s.keyframes {
			if removeSet[i] {
				continue
			}
			newKeyframes = append(newKeyframes, kf)
			newVisual = append(newVisual, s.visualVectors[i])
		}
		s.keyframes = newKeyframes
		s.visualVectors = newVisual
		s.keyframesByAsset = make(map[string][]int, len(s.keyframesByAsset))
		s.keyframeIndexByID = make(map[string]int, len(s.keyframes))
		for i, kf := range s.keyframes {
			s.keyframeIndexByID[kf.ID] = i
			s.keyframesByAsset[kf.AssetID] = append(s.keyframesByAsset[kf.AssetID], i)
		}
	}

	if segIdxs, ok := s.segmentsByAsset[id]; ok {
		removeSet := make(map[int]bool, len(segIdxs))
		for _, i := range segIdxs {
			removeSet[i] = true
		}
		newSegments := s.segments[:0]
		for i, seg := range s.segments {
			if removeSet[i] {
				continue
			}
			newSegments = append(newSegments, seg)
		}
		s.segments = newSegments
		delete(s.segmentsByAsset, id)
		s.segmentsByAsset = make(map[string][]int, len(s.segmentsByAsset))
		for i, seg := range s.segments {
			s.segmentsByAsset[seg.AssetID] = append(s.segmentsByAsset[seg.AssetID], i)
		}
	}
}

func (s *Snapshot) appendAsset(a models.Asset, textVec []float32) {
	s.assetIndexByID[a.ID] = len(s.assets)
	s.assets = append(s.assets, a)
	s.textVectors = append(s.textVectors, textVec)
}

func (s *Snapshot) appendKeyframe(kf models.Keyframe, visualVec []float32) {
	idx := len(s.keyframes)
	s.keyframeIndexByID[kf.ID] = idx
	s.keyframes = append(s.keyframes, kf)
	s.visualVectors = append(s.visualVectors, visualVec)
	s.keyframesByAsset[kf.AssetID] = append(s.keyframesByAsset[kf.AssetID], idx)
}

func (s *Snapshot) appendSegment(seg models.Segment) {
	idx := len(s.segments)
	s.segments = append(s.segments, seg)
	s.segmentsByAsset[seg.AssetID] = append(s.segmentsByAsset[seg.AssetID], idx)
}

// Asset returns the asset record for id, if present.
func (s *Snapshot) Asset(id string) (models.Asset, bool) {
	idx, ok := s.assetIndexByID[id]
	if !ok {
		return models.Asset{}, false
	}
	return s.assets[idx], true
}

// KeyframesForAsset returns every keyframe of id, in extraction order.
func (s *Snapshot) KeyframesForAsset(id string) []models.Keyframe {
	idxs := s.keyframesByAsset[id]
	out := make([]models.Keyframe, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, s.keyframes[i])
	}
	return out
}

// AssetCount and KeyframeCount expose the snapshot's size for callers that
// want to decide chunking/worker counts: larger stores chunk and yield
// every N rows rather than scanning in one pass.
func (s *Snapshot) AssetCount() int    { return len(s.assets) }
func (s *Snapshot) KeyframeCount() int { return len(s.keyframes) }

// dotProductF32Unrolled is a 4-way loop-unrolled dot product, the shape of
// AskFlow's vectorstore.dotProductF32Unrolled, reused here because the
// store normalizes vectors at write time and therefore also scores by dot
// product only: there is no pre-normalization at query time.
func dotProductF32Unrolled(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum0, sum1, sum2, sum3 float32
	i := 0
	for ; i <= n-4; i += 4 {
		sum0 += a[i] * b[i]
		sum1 += a[i+1] * b[i+1]
		sum2 += a[i+2] * b[i+2]
		sum3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		sum0 += a[i] * b[i]
	}
	return sum0 + sum1 + sum2 + sum3
}

func normalizeL2(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// scoredIndex pairs a candidate row index with its similarity score for
// the top-k selection below.
type scoredIndex struct {
	index int
	score float32
}

// topKByScoreThenID sorts candidates by score descending, tie-breaking by
// the provided id-ascending comparator for determinism, then truncates to
// k.
func topKByScoreThenID(candidates []scoredIndex, k int, idOf func(index int) string) []scoredIndex {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return idOf(candidates[i].index) < idOf(candidates[j].index)
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// parallelScore partitions indices across an adaptive worker pool and
// scores each against query via scoreFn, mirroring AskFlow's Search: one
// worker when the candidate set is small, otherwise min(NumCPU, N/minPerWorker)
// workers to avoid goroutine overhead, with mutex-free per-worker result
// slices merged after a WaitGroup join instead of a results channel + Nop
// since a simple slice append needs no synchronization once partitioned
// cleanly by index range.
func parallelScore(indices []int, numWorkers int, scoreFn func(idx int) (float32, bool)) []scoredIndex {
	if len(indices) == 0 {
		return nil
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(indices) {
		numWorkers = len(indices)
	}

	chunkSize := (len(indices) + numWorkers - 1) / numWorkers
	partials := make([][]scoredIndex, numWorkers)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > len(indices) {
			end = len(indices)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(w int, slice []int) {
			defer wg.Done()
			var local []scoredIndex
			for _, idx := range slice {
				score, ok := scoreFn(idx)
				if !ok {
					continue
				}
				local = append(local, scoredIndex{index: idx, score: score})
			}
			partials[w] = local
		}(w, indices[start:end])
	}
	wg.Wait()

	var out []scoredIndex
	for _, p := range partials {
		out = append(out, p...)
	}
	return out
}

// adaptiveWorkers picks a worker count that avoids goroutine overhead on
// small candidate sets, the shape of AskFlow's minWorkersThreshold logic.
func adaptiveWorkers(numCPU, candidateCount, minPerWorker int) int {
	if candidateCount < minPerWorker {
		return 1
	}
	w := numCPU
	if w > candidateCount/minPerWorker {
		w = candidateCount / minPerWorker
	}
	if w < 1 {
		w = 1
	}
	return w
}
