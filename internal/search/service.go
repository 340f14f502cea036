// Package search turns a query or a screenplay beat
// into ranked candidates by combining the vector store's cosine scoring
// with the tag hierarchy's lineage matching. Grounded on VideoAgent's
// internal/similarity package for cosine/fusion scoring shape and on
// internal/scene's beat-to-shot recall procedure, generalized from a single
// fixed similarity metric to four query modes plus a multimodal fusion
// across text, visual, and tag sub-scores.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"previscore/internal/config"
	"previscore/internal/embedding"
	"previscore/internal/errs"
	"previscore/internal/models"
	"previscore/internal/store"
)

const defaultDeadline = 2 * time.Second

// FusionWeights are the three-way weights multimodal_search combines
// text/visual/tag sub-scores with; they must sum to 1.0.
type FusionWeights struct {
	Text   float64
	Visual float64
	Tag    float64
}

// Service is the search engine, built over a Store and the embedding Service that
// feeds it query vectors.
type Service struct {
	store      *store.Store
	embeddings *embedding.Service
	cfg        config.Search
	log        zerolog.Logger
}

// New builds a Service. cfg supplies the default mode, hybrid/fusion
// weights, deadline, and result limit from the loaded configuration
// surface.
func New(st *store.Store, embeddings *embedding.Service, cfg config.Search, log zerolog.Logger) *Service {
	return &Service{store: st, embeddings: embeddings, cfg: cfg, log: log}
}

func (s *Service) deadlineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := time.Duration(s.cfg.DeadlineMs) * time.Millisecond
	if d <= 0 {
		d = defaultDeadline
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) limitOf(q models.Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	if s.cfg.DefaultLimit > 0 {
		return s.cfg.DefaultLimit
	}
	return 20
}

// minScoreOf returns the per-query min_score threshold, falling back to the
// configured default when the query doesn't set one.
func (s *Service) minScoreOf(q models.Query) float64 {
	if q.MinScore != 0 {
		return q.MinScore
	}
	return s.cfg.MinScore
}

func (s *Service) hybridWeights(q models.Query) (tagW, vecW float64) {
	tagW, vecW = q.TagWeight, q.VectorWeight
	if tagW == 0 && vecW == 0 {
		tagW, vecW = s.cfg.TagWeight, s.cfg.VectorWeight
	}
	if tagW == 0 && vecW == 0 {
		tagW, vecW = 0.4, 0.6
	}
	return tagW, vecW
}

func (s *Service) fusionWeights() FusionWeights {
	w := FusionWeights{Text: 0.4, Visual: 0.3, Tag: 0.3}
	if s.cfg.MultimodalWeights == nil {
		return w
	}
	if v, ok := s.cfg.MultimodalWeights["text"]; ok {
		w.Text = v
	}
	if v, ok := s.cfg.MultimodalWeights["visual"]; ok {
		w.Visual = v
	}
	if v, ok := s.cfg.MultimodalWeights["tag"]; ok {
		w.Tag = v
	}
	return w
}

// markPartialIfExpired flags every result as partial when ctx's deadline
// has already passed: on deadline expiry, callers still get the best
// results computed so far with a partial=true flag" — a non-error outcome.
func markPartialIfExpired(ctx context.Context, results []models.ScoredResult) []models.ScoredResult {
	if ctx.Err() == nil {
		return results
	}
	for i := range results {
		results[i].Partial = true
	}
	return results
}

// Search implements search(query), dispatching on query.Mode.
func (s *Service) Search(ctx context.Context, q models.Query) ([]models.ScoredResult, error) {
	ctx, cancel := s.deadlineCtx(ctx)
	defer cancel()

	mode := q.Mode
	if mode == "" {
		mode = models.SearchMode(s.cfg.DefaultMode)
	}
	switch mode {
	case models.ModeTagOnly, "":
		return s.searchTagOnly(q)
	case models.ModeVectorOnly:
		return s.searchVectorOnly(ctx, q)
	case models.ModeHybrid:
		return s.searchHybrid(ctx, q)
	case models.ModeFilterThenRank:
		return s.searchFilterThenRank(ctx, q)
	default:
		return nil, errs.New(errs.InvalidQuery, fmt.Sprintf("unknown search mode %q", mode))
	}
}

func (s *Service) searchTagOnly(q models.Query) ([]models.ScoredResult, error) {
	minScore := s.minScoreOf(q)
	assets := s.store.ListAssets(q.Filter)
	results := make([]models.ScoredResult, 0, len(assets))
	for _, a := range assets {
		score := tagScore(a.Tags, q.Tags)
		if score <= 0 || score <= minScore {
			continue
		}
		matches := matchedTags(a.Tags, q.Tags)
		results = append(results, models.ScoredResult{
			AssetID:     a.ID,
			Score:       score,
			Sub:         models.ModalityScores{Tag: score},
			MatchedTags: matches,
			Reason:      reasonFromMatches(matches),
		})
	}
	return rankResults(results, s.limitOf(q)), nil
}

func (s *Service) embedQueryText(ctx context.Context, text string) (models.Vector, error) {
	vecs, err := s.embeddings.EmbedText(ctx, []string{text})
	if err != nil {
		return nil, errs.Wrap(errs.SearchUnavailable, "embedding query text", err)
	}
	return vecs[0], nil
}

func (s *Service) searchVectorOnly(ctx context.Context, q models.Query) ([]models.ScoredResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errs.New(errs.InvalidQuery, "VECTOR_ONLY requires non-empty query text")
	}

	queryVec, err := s.embedQueryText(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	candidates, err := s.store.Search(queryVec, q.Filter, s.limitOf(q), store.ModalityText)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	minScore := s.minScoreOf(q)
	results := make([]models.ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score <= minScore {
			continue
		}
		results = append(results, models.ScoredResult{
			AssetID: c.AssetID,
			Score:   c.Score,
			Sub:     models.ModalityScores{Text: c.Score},
			Reason:  "vector similarity match",
		})
	}
	return markPartialIfExpired(ctx, rankResults(results, s.limitOf(q))), nil
}

func (s *Service) searchHybrid(ctx context.Context, q models.Query) ([]models.ScoredResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errs.New(errs.InvalidQuery, "HYBRID requires non-empty query text")
	}

	queryVec, err := s.embedQueryText(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	// Search with k=0 (unbounded) so the tag/vector fusion ranks the full
	// filtered candidate set, not just the vector-only top-k.
	candidates, err := s.store.Search(queryVec, q.Filter, 0, store.ModalityText)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	tagW, vecW := s.hybridWeights(q)
	minScore := s.minScoreOf(q)

	results := make([]models.ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		asset, err := s.store.GetAsset(c.AssetID)
		if err != nil {
			continue
		}
		ts := tagScore(asset.Tags, q.Tags)
		final := tagW*ts + vecW*c.Score
		if final <= minScore {
			continue
		}
		matches := matchedTags(asset.Tags, q.Tags)
		results = append(results, models.ScoredResult{
			AssetID:     c.AssetID,
			Score:       final,
			Sub:         models.ModalityScores{Tag: ts, Text: c.Score},
			MatchedTags: matches,
			Reason:      reasonFromMatches(matches),
		})
	}
	return markPartialIfExpired(ctx, rankResults(results, s.limitOf(q))), nil
}

func (s *Service) searchFilterThenRank(ctx context.Context, q models.Query) ([]models.ScoredResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errs.New(errs.InvalidQuery, "FILTER_THEN_RANK requires non-empty query text")
	}

	queryVec, err := s.embedQueryText(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	candidates, err := s.store.Search(queryVec, q.Filter, s.limitOf(q), store.ModalityText)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	minScore := s.minScoreOf(q)
	results := make([]models.ScoredResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score <= minScore {
			continue
		}
		results = append(results, models.ScoredResult{
			AssetID: c.AssetID,
			Score:   c.Score,
			Sub:     models.ModalityScores{Text: c.Score},
			Reason:  "passed tag filter, ranked by vector similarity",
		})
	}
	return markPartialIfExpired(ctx, rankResults(results, s.limitOf(q))), nil
}

// MultimodalSearch implements multimodal_search(query): text-text,
// text-visual (cross-modal), and tag scoring fused into one ranking.
func (s *Service) MultimodalSearch(ctx context.Context, q models.Query) ([]models.ScoredResult, error) {
	ctx, cancel := s.deadlineCtx(ctx)
	defer cancel()

	textVec, err := s.embedQueryText(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	visualVecs, err := s.embeddings.EmbedTextForVisual(ctx, []string{q.Text})
	if err != nil {
		return nil, errs.Wrap(errs.SearchUnavailable, "embedding query into visual space", err)
	}
	visualVec := visualVecs[0]

	weights := s.fusionWeights()
	minScore := s.minScoreOf(q)
	assets := s.store.ListAssets(q.Filter)
	results := make([]models.ScoredResult, 0, len(assets))
	for _, a := range assets {
		textScore, _ := s.store.TextScore(a.ID, textVec) // 0 if the asset has no text vector
		_, visualScore, hasVisual := s.store.BestKeyframeScore(a.ID, visualVec)
		if !hasVisual {
			visualScore = 0 // the asset has no keyframe with a visual vector
		}
		ts := tagScore(a.Tags, q.Tags)

		final := weights.Text*textScore + weights.Visual*visualScore + weights.Tag*ts
		if final <= minScore {
			continue
		}
		matches := matchedTags(a.Tags, q.Tags)
		results = append(results, models.ScoredResult{
			AssetID:     a.ID,
			Score:       final,
			Sub:         models.ModalityScores{Tag: ts, Text: textScore, Visual: visualScore},
			MatchedTags: matches,
			Reason:      reasonFromMatches(matches),
		})
	}
	return markPartialIfExpired(ctx, rankResults(results, s.limitOf(q))), nil
}

// SearchByImage implements search_by_image(image): cosine similarity over
// every keyframe, grouped by asset (max keyframe score per asset wins).
func (s *Service) SearchByImage(ctx context.Context, img embedding.ImageRef, filter models.TagFilter, limit int) ([]models.ScoredResult, error) {
	ctx, cancel := s.deadlineCtx(ctx)
	defer cancel()

	vecs, err := s.embeddings.EmbedImage(ctx, []embedding.ImageRef{img})
	if err != nil {
		return nil, errs.Wrap(errs.SearchUnavailable, "embedding query image", err)
	}
	queryVec := vecs[0]

	candidates, err := s.store.Search(queryVec, filter, 0, store.ModalityVisual)
	if err != nil {
		return nil, fmt.Errorf("visual search: %w", err)
	}

	bestByAsset := make(map[string]models.ScoredResult, len(candidates))
	for _, c := range candidates {
		existing, ok := bestByAsset[c.AssetID]
		if ok && existing.Score >= c.Score {
			continue
		}
		bestByAsset[c.AssetID] = models.ScoredResult{
			AssetID:   c.AssetID,
			Score:     c.Score,
			Sub:       models.ModalityScores{Visual: c.Score},
			Keyframes: []string{c.KeyframeID},
			Reason:    "image similarity match",
		}
	}

	results := make([]models.ScoredResult, 0, len(bestByAsset))
	for _, r := range bestByAsset {
		results = append(results, r)
	}
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	return markPartialIfExpired(ctx, rankResults(results, limit)), nil
}

// RecallForBeat implements recall_for_beat(beat): a HYBRID search seeded by
// the beat's text and hint tags, windowed around each candidate's
// best-matching keyframe.
func (s *Service) RecallForBeat(ctx context.Context, beat models.Beat) ([]models.SceneCandidate, error) {
	ctx, cancel := s.deadlineCtx(ctx)
	defer cancel()

	desired := beat.DesiredCount
	if desired <= 0 {
		desired = 5
	}
	hints := beat.HintTags()
	composite := compositeBeatQuery(beat.Text, hints)

	query := models.Query{
		Text:  composite,
		Tags:  hints,
		Mode:  models.ModeHybrid,
		Limit: desired,
	}
	ranked, err := s.searchHybrid(ctx, query)
	if err != nil {
		return nil, err
	}

	visualVecs, err := s.embeddings.EmbedTextForVisual(ctx, []string{composite})
	if err != nil {
		return nil, errs.Wrap(errs.SearchUnavailable, "embedding beat into visual space", err)
	}
	visualVec := visualVecs[0]

	candidates := make([]models.SceneCandidate, 0, len(ranked))
	for _, r := range ranked {
		asset, err := s.store.GetAsset(r.AssetID)
		if err != nil {
			continue
		}
		sc := models.SceneCandidate{ScoredResult: r}

		anchorID, _, ok := s.store.BestKeyframeScore(asset.ID, visualVec)
		if ok {
			keyframes, err := s.store.ListKeyframes(asset.ID)
			if err == nil {
				sc.AnchorKeyframeID = anchorID
				in, out := windowAround(keyframes, anchorID, beat.TargetDuration, asset.Duration)
				sc.InTime, sc.OutTime = in, out
			}
		}
		candidates = append(candidates, sc)
		if len(candidates) >= desired {
			break
		}
	}
	return candidates, nil
}

// compositeBeatQuery builds the string embed_text sees for a beat, per
// the beat text plus its hint tags' lineages.
func compositeBeatQuery(text string, hints []models.TagAssignment) string {
	parts := []string{text}
	for _, t := range hints {
		parts = append(parts, tagLabel(t))
	}
	return strings.Join(parts, " ")
}

// windowAround centers a window of length min(targetDuration, assetDuration)
// on anchorID's timestamp, clamped to [0, assetDuration]. Returns nil, nil
// for image assets (duration == nil) or an unknown anchor.
func windowAround(keyframes []models.Keyframe, anchorID string, targetDuration float64, assetDuration *float64) (*float64, *float64) {
	if assetDuration == nil {
		return nil, nil
	}
	var anchorTime float64
	found := false
	for _, kf := range keyframes {
		if kf.ID == anchorID {
			anchorTime = kf.Timestamp
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	length := targetDuration
	if length <= 0 || length > *assetDuration {
		length = *assetDuration
	}
	in := anchorTime - length/2
	out := anchorTime + length/2
	if in < 0 {
		out += -in
		in = 0
	}
	if out > *assetDuration {
		in -= out - *assetDuration
		out = *assetDuration
	}
	if in < 0 {
		in = 0
	}
	return &in, &out
}
