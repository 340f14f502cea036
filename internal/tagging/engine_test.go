package tagging

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"previscore/internal/models"
)

type fakeEnricher struct {
	tags []models.TagAssignment
	err  error
}

func (f fakeEnricher) Propose(ctx context.Context, filename, caption string, keyframeCaptions []string) ([]models.TagAssignment, error) {
	return f.tags, f.err
}

type fakeClassifier struct {
	perFrame [][]ClassifierResult
	idx      int
}

func (f *fakeClassifier) Classify(ctx context.Context, thumbnailPath string) ([]ClassifierResult, error) {
	if f.idx >= len(f.perFrame) {
		return nil, nil
	}
	r := f.perFrame[f.idx]
	f.idx++
	return r, nil
}

func TestAssignTagsMatchesFilenameTokens(t *testing.T) {
	e := New(DefaultHierarchy(), DefaultFilenameRules(), nil, nil, 0.5, zerolog.Nop())

	res, err := e.AssignTags(context.Background(), "hero_running_happy.mp4", "", nil, nil)
	require.NoError(t, err)

	var sawRunning, sawJoy bool
	for _, tag := range res.Tags {
		if tag.L3 == "running" {
			sawRunning = true
		}
		if tag.L3 == "joy" {
			sawJoy = true
		}
	}
	assert.True(t, sawRunning)
	assert.True(t, sawJoy)
	assert.False(t, res.NeedsReview)
}

func TestAssignTagsDefaultsToUnknownWhenNoL1Found(t *testing.T) {
	e := New(DefaultHierarchy(), FilenameRules{}, nil, nil, 0.5, zerolog.Nop())

	res, err := e.AssignTags(context.Background(), "zzz_nomatch.mp4", "", nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Tags, 1)
	assert.Equal(t, "unknown", res.Tags[0].L1)
	assert.True(t, res.NeedsReview)
}

func TestAssignTagsRejectsTagsOutsideHierarchy(t *testing.T) {
	enricher := fakeEnricher{tags: []models.TagAssignment{
		{L1: "scene", L2: "interior", L3: "office"},  // valid
		{L1: "nonsense", L2: "bogus", L3: "invalid"}, // invalid, must be rejected
	}}
	e := New(DefaultHierarchy(), FilenameRules{}, enricher, nil, 0.5, zerolog.Nop())

	res, err := e.AssignTags(context.Background(), "clip.mp4", "an office scene", nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Tags, 1)
	assert.Equal(t, "scene", res.Tags[0].L1)
}

func TestAssignTagsDeduplicatesIdenticalTuples(t *testing.T) {
	enricher := fakeEnricher{tags: []models.TagAssignment{
		{L1: "scene", L2: "interior", L3: "office"},
	}}
	rules := FilenameRules{"office": {L1: "scene", L2: "interior", L3: "office"}}
	e := New(DefaultHierarchy(), rules, enricher, nil, 0.5, zerolog.Nop())

	res, err := e.AssignTags(context.Background(), "office.mp4", "", nil, nil)
	require.NoError(t, err)
	assert.Len(t, res.Tags, 1, "filename and LLM sources proposed the same tuple; it must appear once")
}

func TestAssignTagsContinuesWhenLLMFails(t *testing.T) {
	enricher := fakeEnricher{err: errors.New("llm unavailable")}
	rules := FilenameRules{"office": {L1: "scene", L2: "interior", L3: "office"}}
	e := New(DefaultHierarchy(), rules, enricher, nil, 0.5, zerolog.Nop())

	res, err := e.AssignTags(context.Background(), "office.mp4", "", nil, nil)
	require.NoError(t, err)
	assert.Len(t, res.Tags, 1)
}

func TestAssignTagsAggregatesKeyframeClassificationsAboveFloor(t *testing.T) {
	parent := models.TagAssignment{L1: "scene", L2: "interior"}
	classifier := &fakeClassifier{perFrame: [][]ClassifierResult{
		{{Label: "office", Level: models.LevelL3, Parent: parent, Confidence: 0.9}},
		{{Label: "office", Level: models.LevelL3, Parent: parent, Confidence: 0.3}},
	}}
	e := New(DefaultHierarchy(), FilenameRules{}, nil, classifier, 0.5, zerolog.Nop())

	res, err := e.AssignTags(context.Background(), "clip.mp4", "", nil, []string{"a.jpg", "b.jpg"})
	require.NoError(t, err)

	var found bool
	for _, tag := range res.Tags {
		if tag.L3 == "office" {
			found = true
		}
	}
	assert.True(t, found, "average confidence (0.6) is above the 0.5 floor")
}
