// Package tagging produces and validates L1..L4
// tag assignments for an asset from filename heuristics, LLM enrichment,
// and keyframe-derived classification, merged by priority: later sources
// may add but never silently overwrite a validated earlier assignment.
package tagging

import "previscore/internal/models"

// Hierarchy is the closed L1->L2->L3 vocabulary; L4 is open-vocabulary and
// isn't validated against a membership set.
type Hierarchy struct {
	// tree[l1][l2][l3] == true means that (l1, l2, l3) is a valid tuple
	// prefix. An l2-only entry is represented as tree[l1][l2][""] .
	tree map[string]map[string]map[string]bool
}

// NewHierarchy builds an empty hierarchy; use Add to populate it.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{tree: make(map[string]map[string]map[string]bool)}
}

// Add registers a valid (l1, l2, l3) tuple. l2/l3 may be empty to register
// a shallower valid prefix.
func (h *Hierarchy) Add(l1, l2, l3 string) {
	if h.tree[l1] == nil {
		h.tree[l1] = make(map[string]map[string]bool)
	}
	if h.tree[l1][l2] == nil {
		h.tree[l1][l2] = make(map[string]bool)
	}
	h.tree[l1][l2][l3] = true
}

// Valid reports whether the L1..L3 portion of t is within the declared
// hierarchy. L4 is never checked here; it's open-vocabulary.
func (h *Hierarchy) Valid(t models.TagAssignment) bool {
	if t.L1 == "" {
		return false
	}
	l2s, ok := h.tree[t.L1]
	if !ok {
		return false
	}
	if t.L2 == "" {
		return true
	}
	l3s, ok := l2s[t.L2]
	if !ok {
		return false
	}
	if t.L3 == "" {
		return true
	}
	return l3s[t.L3]
}

// DefaultHierarchy returns a small starter vocabulary covering the
// scene/action/emotion/object axes a previs system commonly tags by,
// matching the shape of a typical previs tag taxonomy. Hosts are
// expected to extend it with Add for their own production's vocabulary.
func DefaultHierarchy() *Hierarchy {
	h := NewHierarchy()
	for _, l1 := range []string{"scene", "action", "emotion", "object", "location", "lighting"} {
		h.Add(l1, "", "")
	}
	h.Add("scene", "interior", "")
	h.Add("scene", "exterior", "")
	h.Add("scene", "interior", "office")
	h.Add("scene", "interior", "home")
	h.Add("scene", "exterior", "street")
	h.Add("scene", "exterior", "nature")
	h.Add("action", "movement", "")
	h.Add("action", "movement", "walking")
	h.Add("action", "movement", "running")
	h.Add("action", "dialogue", "")
	h.Add("emotion", "positive", "")
	h.Add("emotion", "positive", "joy")
	h.Add("emotion", "negative", "")
	h.Add("emotion", "negative", "tension")
	h.Add("lighting", "natural", "")
	h.Add("lighting", "artificial", "")
	for _, grading := range []string{"natural", "warm", "cool", "desaturated", "vibrant", "high_contrast", "low_contrast", "monochrome", "sepia", "cinematic"} {
		h.Add("lighting", "grading", grading)
	}
	for _, mood := range []string{"tense", "peaceful", "energetic", "melancholy", "hopeful", "ominous", "joyful", "mysterious", "romantic", "nostalgic", "neutral"} {
		h.Add("emotion", "mood", mood)
	}
	h.Add("shot", "", "")
	for _, size := range []string{"extreme_close_up", "close_up", "medium_close_up", "medium_shot", "medium_wide", "wide_shot", "extreme_wide"} {
		h.Add("shot", "composition", size)
	}
	h.Add("camera", "", "")
	for _, movement := range []string{"static", "pan", "tilt", "zoom", "dolly", "tracking", "crane", "handheld"} {
		h.Add("camera", "movement", movement)
	}
	return h
}
