package search

import (
	"sort"

	"previscore/internal/models"
)

// levelWeight gives shallower, broader tags more weight than deep, specific
// ones when scoring a tag match.
var levelWeight = map[models.TagLevel]float64{
	models.LevelL1: 1.0,
	models.LevelL2: 0.7,
	models.LevelL3: 0.5,
	models.LevelL4: 0.3,
}

// tagScore scores assetTags against queryTags: the weighted fraction of the
// query's tags the asset also carries. An empty query is uninformative and
// scores 1.0 so it never penalizes a candidate in a combined score.
func tagScore(assetTags, queryTags []models.TagAssignment) float64 {
	if len(queryTags) == 0 {
		return 1.0
	}
	var num, den float64
	for _, q := range queryTags {
		w := levelWeight[q.Depth()]
		den += w
		if tagSetHas(assetTags, q) {
			num += w
		}
	}
	if den == 0 {
		return 1.0
	}
	return num / den
}

// tagSetHas reports whether some tag in tags agrees with pattern on every
// level pattern specifies; an empty level in pattern is a wildcard for that
// level and deeper, the same lineage matching the vector store's filter
// uses.
func tagSetHas(tags []models.TagAssignment, pattern models.TagAssignment) bool {
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

// matchedTags returns the subset of queryTags assetTags satisfies, ordered
// by level weight descending, for result explanation.
func matchedTags(assetTags, queryTags []models.TagAssignment) []models.MatchedTag {
	var out []models.MatchedTag
	for _, q := range queryTags {
		if tagSetHas(assetTags, q) {
			out = append(out, models.MatchedTag{Tag: q, Level: q.Depth()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return levelWeight[out[i].Level] > levelWeight[out[j].Level]
	})
	return out
}

// reasonFromMatches assembles a short explanation from the top 3 matched
// tags.
func reasonFromMatches(matches []models.MatchedTag) string {
	if len(matches) == 0 {
		return "vector similarity match"
	}
	n := len(matches)
	if n > 3 {
		n = 3
	}
	reason := "matched "
	for i := 0; i < n; i++ {
		if i > 0 {
			reason += ", "
		}
		reason += tagLabel(matches[i].Tag)
	}
	return reason
}

func tagLabel(t models.TagAssignment) string {
	label := t.L1
	for _, l := range []string{t.L2, t.L3, t.L4} {
		if l == "" {
			break
		}
		label += "/" + l
	}
	return label
}

// rankResults sorts by score descending, then by the text sub-score
// descending, then by asset id ascending, and truncates to limit (limit <= 0
// means unbounded).
func rankResults(results []models.ScoredResult, limit int) []models.ScoredResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Sub.Text != results[j].Sub.Text {
			return results[i].Sub.Text > results[j].Sub.Text
		}
		return results[i].AssetID < results[j].AssetID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
