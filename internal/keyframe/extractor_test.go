package keyframe

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previscore/internal/config"
	"previscore/internal/media"
	"previscore/internal/models"
)

type fakeProber struct {
	events    []media.SceneEvent
	sceneErr  error
	failAfter int // ExtractFrame fails from this call index onward; 0 disables
	calls     int
}

func (f *fakeProber) DetectSceneChanges(ctx context.Context, videoPath string, threshold float64) ([]media.SceneEvent, error) {
	return f.events, f.sceneErr
}

func (f *fakeProber) ExtractFrame(ctx context.Context, videoPath string, ts float64, outPath string, maxEdge int) error {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return fmt.Errorf("decode failed")
	}
	return nil
}

func TestExtractIntervalStrategyAlignsToZero(t *testing.T) {
	p := &fakeProber{}
	cfg := config.Keyframe{Strategy: "interval", IntervalS: 2, MaxKeyframes: 100}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	res, err := ext.Extract(context.Background(), "video.mp4", "asset1", 9.0, "")
	require.NoError(t, err)
	require.Len(t, res.Keyframes, 5) // 0,2,4,6,8
	assert.Equal(t, 0.0, res.Keyframes[0].Timestamp)
	assert.Equal(t, 8.0, res.Keyframes[4].Timestamp)
	assert.False(t, res.Partial)
}

func TestExtractSceneChangeEnforcesMinInterval(t *testing.T) {
	p := &fakeProber{events: []media.SceneEvent{
		{TimestampSec: 1.0, Score: 0.4},
		{TimestampSec: 1.2, Score: 0.5}, // within min_interval of the first, dropped
		{TimestampSec: 3.0, Score: 0.6},
	}}
	cfg := config.Keyframe{Strategy: "scene_change", MinIntervalS: 1.0, Threshold: 0.3, MaxKeyframes: 100}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	res, err := ext.Extract(context.Background(), "video.mp4", "asset1", 5.0, "")
	require.NoError(t, err)
	require.Len(t, res.Keyframes, 2)
	assert.Equal(t, 1.0, res.Keyframes[0].Timestamp)
	assert.Equal(t, 3.0, res.Keyframes[1].Timestamp)
}

func TestExtractHybridFillsLargeGaps(t *testing.T) {
	p := &fakeProber{events: []media.SceneEvent{
		{TimestampSec: 1.0, Score: 0.4},
		{TimestampSec: 25.0, Score: 0.5}, // gap > max_gap_s triggers interval fill
	}}
	cfg := config.Keyframe{Strategy: "hybrid", MinIntervalS: 1.0, MaxGapS: 10.0, IntervalS: 5.0, Threshold: 0.3, MaxKeyframes: 100}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	res, err := ext.Extract(context.Background(), "video.mp4", "asset1", 30.0, "")
	require.NoError(t, err)
	assert.True(t, len(res.Keyframes) > 2, "expected interval fill frames between scene changes")
}

func TestExtractCapsAtMaxKeyframes(t *testing.T) {
	p := &fakeProber{}
	cfg := config.Keyframe{Strategy: "interval", IntervalS: 1, MaxKeyframes: 3}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	res, err := ext.Extract(context.Background(), "video.mp4", "asset1", 20.0, "")
	require.NoError(t, err)
	assert.Len(t, res.Keyframes, 3)
}

func TestExtractPartialOnMidStreamDecodeFailure(t *testing.T) {
	p := &fakeProber{failAfter: 3}
	cfg := config.Keyframe{Strategy: "interval", IntervalS: 1, MaxKeyframes: 100}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	res, err := ext.Extract(context.Background(), "video.mp4", "asset1", 9.0, "")
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Keyframes, 2) // first 2 succeed, rest fail
}

func TestExtractFailsOnlyWhenZeroFramesGathered(t *testing.T) {
	p := &fakeProber{failAfter: 1}
	cfg := config.Keyframe{Strategy: "interval", IntervalS: 1, MaxKeyframes: 100}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	_, err := ext.Extract(context.Background(), "video.mp4", "asset1", 9.0, "")
	require.Error(t, err)
}

func TestExtractionStrategyOverrideWins(t *testing.T) {
	p := &fakeProber{}
	cfg := config.Keyframe{Strategy: "scene_change", IntervalS: 3, MaxKeyframes: 100}
	ext := New(p, cfg, "/tmp/thumbs", zerolog.Nop())

	res, err := ext.Extract(context.Background(), "video.mp4", "asset1", 9.0, models.StrategyInterval)
	require.NoError(t, err)
	for _, kf := range res.Keyframes {
		assert.Equal(t, models.StrategyInterval, kf.Method)
	}
}
