package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"previscore/internal/models"
)

func TestExtractJSONObjectStripsSurroundingProse(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"shot_size\": \"close_up\", \"confidence\": 0.9}\n```"
	assert.JSONEq(t, `{"shot_size": "close_up", "confidence": 0.9}`, extractJSONObject(raw))
}

func TestExtractJSONObjectNoBraces(t *testing.T) {
	assert.Equal(t, "{}", extractJSONObject("no json here"))
}

func TestContainsString(t *testing.T) {
	assert.True(t, containsString(shotSizes, "wide_shot"))
	assert.False(t, containsString(shotSizes, "fisheye"))
}

func TestDefaultHierarchyValidatesClassifierVocabulary(t *testing.T) {
	h := DefaultHierarchy()
	for _, label := range shotSizes {
		assert.True(t, h.Valid(models.TagAssignment{L1: "shot", L2: "composition", L3: label}), "shot size %q should be valid", label)
	}
	for _, label := range cameraMovements {
		assert.True(t, h.Valid(models.TagAssignment{L1: "camera", L2: "movement", L3: label}), "camera movement %q should be valid", label)
	}
	for _, label := range colorGradings {
		assert.True(t, h.Valid(models.TagAssignment{L1: "lighting", L2: "grading", L3: label}), "color grading %q should be valid", label)
	}
	for _, label := range moods {
		assert.True(t, h.Valid(models.TagAssignment{L1: "emotion", L2: "mood", L3: label}), "mood %q should be valid", label)
	}
}
