// Package keyframe chooses visually representative
// frames from a video via scene-change, interval, or hybrid strategies.
package keyframe

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"previscore/internal/config"
	"previscore/internal/media"
	"previscore/internal/models"
)

const thumbnailMaxEdge = 320

// prober is the subset of *media.Prober the extractor needs, narrowed to an
// interface so tests can substitute a fake decoder.
type prober interface {
	ExtractFrame(ctx context.Context, videoPath string, timestampSec float64, outPath string, maxEdge int) error
	DetectSceneChanges(ctx context.Context, videoPath string, threshold float64) ([]media.SceneEvent, error)
}

// Extractor runs one of the three keyframe strategies against a decoded
// video: scene-change detection, fixed interval, or a hybrid of both.
type Extractor struct {
	prober   prober
	cfg      config.Keyframe
	thumbDir string
	log      zerolog.Logger
}

// New builds an Extractor against p, normally a *media.Prober.
func New(p prober, cfg config.Keyframe, thumbDir string, log zerolog.Logger) *Extractor {
	return &Extractor{prober: p, cfg: cfg, thumbDir: thumbDir, log: log}
}

// Result is the outcome of one Extract call.
type Result struct {
	Keyframes []models.Keyframe
	Partial   bool
}

// Extract produces keyframes for one asset using the configured strategy
// (or strategyOverride if non-empty), capping at cfg.MaxKeyframes and
// uniformly subsampling if the strategy would exceed it.
func (e *Extractor) Extract(ctx context.Context, videoPath, assetID string, durationSec float64, strategyOverride models.ExtractionStrategy) (Result, error) {
	strategy := models.ExtractionStrategy(e.cfg.Strategy)
	if strategyOverride != "" {
		strategy = strategyOverride
	}

	var timestamps []float64
	var scores []*float64
	partial := false

	switch strategy {
	case models.StrategyInterval:
		timestamps = intervalTimestamps(durationSec, e.cfg.IntervalS)
	case models.StrategySceneChange:
		events, err := e.prober.DetectSceneChanges(ctx, videoPath, e.cfg.Threshold)
		if err != nil && len(events) == 0 {
			return Result{}, err
		}
		if err != nil {
			partial = true
		}
		timestamps, scores = dedupeByMinInterval(events, e.cfg.MinIntervalS)
	case models.StrategyHybrid:
		events, err := e.prober.DetectSceneChanges(ctx, videoPath, e.cfg.Threshold)
		if err != nil && len(events) == 0 {
			return Result{}, err
		}
		if err != nil {
			partial = true
		}
		sceneTs, sceneScores := dedupeByMinInterval(events, e.cfg.MinIntervalS)
		timestamps, scores = fillGaps(sceneTs, sceneScores, durationSec, e.cfg.MaxGapS, e.cfg.IntervalS)
	default:
		return Result{}, fmt.Errorf("unknown keyframe strategy %q", strategy)
	}

	if e.cfg.MaxKeyframes > 0 && len(timestamps) > e.cfg.MaxKeyframes {
		timestamps, scores = subsample(timestamps, scores, e.cfg.MaxKeyframes)
	}

	keyframes := make([]models.Keyframe, 0, len(timestamps))
	for i, ts := range timestamps {
		ms := int64(ts * 1000)
		thumbPath := filepath.Join(e.thumbDir, assetID, fmt.Sprintf("%d.jpg", ms))
		if err := e.prober.ExtractFrame(ctx, videoPath, ts, thumbPath, thumbnailMaxEdge); err != nil {
			e.log.Warn().Str("asset_id", assetID).Float64("timestamp", ts).Err(err).Msg("keyframe decode failed, continuing with partial set")
			partial = true
			continue
		}
		var score *float64
		if i < len(scores) {
			score = scores[i]
		}
		keyframes = append(keyframes, models.Keyframe{
			AssetID:          assetID,
			Timestamp:        ts,
			ThumbnailPath:    thumbPath,
			Method:           strategy,
			SceneChangeScore: score,
		})
	}

	if len(keyframes) == 0 && len(timestamps) > 0 {
		return Result{}, fmt.Errorf("keyframe extraction produced zero frames out of %d candidates", len(timestamps))
	}

	return Result{Keyframes: keyframes, Partial: partial}, nil
}

// intervalTimestamps emits one timestamp every deltaSec seconds, aligned to
// t=0, the fixed-interval strategy.
func intervalTimestamps(durationSec, deltaSec float64) []float64 {
	if deltaSec <= 0 {
		deltaSec = 2.0
	}
	var out []float64
	for t := 0.0; t <= durationSec; t += deltaSec {
		out = append(out, t)
	}
	if len(out) == 0 {
		out = append(out, 0)
	}
	return out
}

// dedupeByMinInterval enforces a minimum spacing between scene-change
// events, keeping the first event in each burst, the scene-change strategy.
func dedupeByMinInterval(events []media.SceneEvent, minIntervalSec float64) ([]float64, []*float64) {
	if len(events) == 0 {
		return nil, nil
	}
	var timestamps []float64
	var scores []*float64
	lastKept := -minIntervalSec - 1
	for _, ev := range events {
		if ev.TimestampSec-lastKept < minIntervalSec {
			continue
		}
		lastKept = ev.TimestampSec
		score := ev.Score
		timestamps = append(timestamps, ev.TimestampSec)
		scores = append(scores, &score)
	}
	return timestamps, scores
}

// fillGaps inserts interval-spaced timestamps into any gap between
// consecutive scene-change timestamps (or from 0 to the first, or from the
// last to the end) that exceeds maxGapSec, the hybrid strategy.
func fillGaps(sceneTs []float64, sceneScores []*float64, durationSec, maxGapSec, intervalSec float64) ([]float64, []*float64) {
	if intervalSec <= 0 {
		intervalSec = 2.0
	}
	var timestamps []float64
	var scores []*float64

	prev := 0.0
	for i, ts := range sceneTs {
		if ts-prev > maxGapSec {
			for t := prev + intervalSec; t < ts; t += intervalSec {
				timestamps = append(timestamps, t)
				scores = append(scores, nil)
			}
		}
		timestamps = append(timestamps, ts)
		scores = append(scores, sceneScores[i])
		prev = ts
	}
	if durationSec-prev > maxGapSec {
		for t := prev + intervalSec; t < durationSec; t += intervalSec {
			timestamps = append(timestamps, t)
			scores = append(scores, nil)
		}
	}
	return timestamps, scores
}

// subsample uniformly thins timestamps down to max entries, always keeping
// the first and last.
func subsample(timestamps []float64, scores []*float64, max int) ([]float64, []*float64) {
	if max <= 0 || len(timestamps) <= max {
		return timestamps, scores
	}
	if max == 1 {
		return timestamps[:1], scores[:1]
	}

	outTs := make([]float64, 0, max)
	outScores := make([]*float64, 0, max)
	step := float64(len(timestamps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(float64(i) * step)
		if idx >= len(timestamps) {
			idx = len(timestamps) - 1
		}
		outTs = append(outTs, timestamps[idx])
		outScores = append(outScores, scores[idx])
	}
	return outTs, outScores
}
