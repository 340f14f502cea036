package tagging

import (
	"context"

	"github.com/rs/zerolog"

	"previscore/internal/models"
)

// ClassifierResult is one keyframe's classification against an L3/L4 class
// label, with a confidence in [0,1].
type ClassifierResult struct {
	Label      string
	Level      models.TagLevel // LevelL3 or LevelL4
	Parent     models.TagAssignment // the L1/L2 (and L3 if Level==L4) this class extends
	Confidence float64
}

// Classifier runs a visual classification model against one keyframe
// thumbnail, when one is configured; Engine runs it on each keyframe.
type Classifier interface {
	Classify(ctx context.Context, thumbnailPath string) ([]ClassifierResult, error)
}

// Engine merges filename heuristics, LLM enrichment, and
// keyframe-derived classification into a validated tag set.
type Engine struct {
	hierarchy       *Hierarchy
	filenameRules   FilenameRules
	enricher        Enricher // may be nil to skip LLM enrichment
	classifier      Classifier // may be nil to skip keyframe-derived tags
	confidenceFloor float64
	log             zerolog.Logger
}

// New builds an Engine. enricher and classifier may be nil to disable those
// sources (e.g. no LLM configured, or a non-visual asset).
func New(hierarchy *Hierarchy, rules FilenameRules, enricher Enricher, classifier Classifier, confidenceFloor float64, log zerolog.Logger) *Engine {
	return &Engine{
		hierarchy:       hierarchy,
		filenameRules:   rules,
		enricher:        enricher,
		classifier:      classifier,
		confidenceFloor: confidenceFloor,
		log:             log,
	}
}

// Result is the outcome of one AssignTags call.
type Result struct {
	Tags        []models.TagAssignment
	NeedsReview bool
}

// AssignTags runs all three sources in order (filename, LLM, keyframes) and
// merges them against the tag hierarchy's validation rules.
func (e *Engine) AssignTags(ctx context.Context, filename, caption string, keyframeCaptions []string, thumbnailPaths []string) (Result, error) {
	var accepted []models.TagAssignment
	seen := make(map[models.TagAssignment]bool)

	add := func(t models.TagAssignment, source string) {
		if seen[t] {
			return
		}
		if !e.hierarchy.Valid(models.TagAssignment{L1: t.L1, L2: t.L2, L3: t.L3}) {
			e.log.Info().Str("source", source).Str("l1", t.L1).Str("l2", t.L2).Str("l3", t.L3).Msg("rejected tag outside hierarchy")
			return
		}
		seen[t] = true
		accepted = append(accepted, t)
	}

	for _, t := range MatchFilename(e.filenameRules, filename) {
		add(t, "filename")
	}

	if e.enricher != nil {
		proposed, err := e.enricher.Propose(ctx, filename, caption, keyframeCaptions)
		if err != nil {
			e.log.Warn().Err(err).Msg("LLM tag enrichment failed, continuing without it")
		} else {
			for _, t := range proposed {
				add(t, "llm")
			}
		}
	}

	if e.classifier != nil {
		agg := aggregateClassifications(ctx, e.classifier, thumbnailPaths, e.log)
		for _, t := range agg {
			if t.Confidence < e.confidenceFloor {
				continue
			}
			add(buildAssignment(t), "keyframe")
		}
	}

	needsReview := false
	hasL1 := false
	for i := range accepted {
		if accepted[i].L1 != "" {
			hasL1 = true
			break
		}
	}
	if !hasL1 {
		accepted = append(accepted, models.TagAssignment{L1: "unknown"})
		needsReview = true
	}

	return Result{Tags: accepted, NeedsReview: needsReview}, nil
}

func buildAssignment(r ClassifierResult) models.TagAssignment {
	t := r.Parent
	switch r.Level {
	case models.LevelL3:
		t.L3 = r.Label
	default:
		t.L4 = r.Label
	}
	return t
}

// aggregateClassifications runs the classifier on every keyframe and
// averages per-class confidence across frames.
func aggregateClassifications(ctx context.Context, c Classifier, thumbnailPaths []string, log zerolog.Logger) []ClassifierResult {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	templates := make(map[string]ClassifierResult)

	for _, path := range thumbnailPaths {
		results, err := c.Classify(ctx, path)
		if err != nil {
			log.Warn().Str("thumbnail", path).Err(err).Msg("keyframe classification failed, skipping frame")
			continue
		}
		for _, r := range results {
			sums[r.Label] += r.Confidence
			counts[r.Label]++
			templates[r.Label] = r
		}
	}

	out := make([]ClassifierResult, 0, len(sums))
	for label, sum := range sums {
		avg := sum / float64(counts[label])
		tmpl := templates[label]
		tmpl.Confidence = avg
		out = append(out, tmpl)
	}
	return out
}
