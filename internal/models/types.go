// Package models defines the core data types shared across the retrieval
// pipeline: assets, keyframes, segments, the tag hierarchy, and the
// transient query/result shapes used by search and recall.
package models

import "time"

// MediaType distinguishes video assets from single-image assets.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
)

// AssetStatus tracks where an asset is in the ingestion lifecycle.
type AssetStatus string

const (
	StatusPending    AssetStatus = "pending"
	StatusProcessing AssetStatus = "processing"
	StatusCompleted  AssetStatus = "completed"
	StatusFailed     AssetStatus = "failed"
)

// TagLevel is one of the four ordered hierarchy levels.
type TagLevel int

const (
	LevelL1 TagLevel = 1
	LevelL2 TagLevel = 2
	LevelL3 TagLevel = 3
	LevelL4 TagLevel = 4
)

// TagAssignment is one (L1, L2, L3, L4) lineage assigned to an asset.
// L2-L4 may be empty strings when the assignment doesn't reach that deep,
// but a non-empty L(n+1) always implies a non-empty L(n): every child has
// exactly one parent, stored explicitly as part of the tuple rather than
// flattened to a path string.
type TagAssignment struct {
	L1 string `json:"l1"`
	L2 string `json:"l2,omitempty"`
	L3 string `json:"l3,omitempty"`
	L4 string `json:"l4,omitempty"`
}

// Depth returns the deepest populated level of the assignment.
func (t TagAssignment) Depth() TagLevel {
	switch {
	case t.L4 != "":
		return LevelL4
	case t.L3 != "":
		return LevelL3
	case t.L2 != "":
		return LevelL2
	default:
		return LevelL1
	}
}

// Vector is a dense embedding. Dimension is enforced by the owning store,
// not by the type itself.
type Vector []float32

// Keyframe is a sampled frame from a video asset.
type Keyframe struct {
	ID               string             `json:"id"`
	AssetID          string             `json:"assetId"`
	Timestamp        float64            `json:"timestamp"` // seconds, 0 <= t <= duration
	ThumbnailPath    string             `json:"thumbnailPath"`
	Method           ExtractionStrategy `json:"method"`
	VisualEmbedding  Vector             `json:"visualEmbedding"`
	SceneChangeScore *float64           `json:"sceneChangeScore,omitempty"`
}

// Segment is a contiguous, semantically coherent span of a video asset.
type Segment struct {
	ID            string          `json:"id"`
	AssetID       string          `json:"assetId"`
	StartTime     float64         `json:"startTime"`
	EndTime       float64         `json:"endTime"`
	Tags          []TagAssignment `json:"tags"`
	Description   string          `json:"description"`
	TextEmbedding Vector          `json:"textEmbedding"`
}

// Asset is one ingested media file and its derived records.
type Asset struct {
	ID            string          `json:"id"`
	Path          string          `json:"path"`
	MediaType     MediaType       `json:"mediaType"`
	Duration      *float64        `json:"duration,omitempty"` // nil for images
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	CreatedAt     time.Time       `json:"createdAt"`
	Status        AssetStatus     `json:"status"`
	NeedsReview   bool            `json:"needsReview"`
	Tags          []TagAssignment `json:"tags"`
	FreeTags      []string        `json:"freeTags"`
	Summary       string          `json:"summary"`
	TextEmbedding Vector          `json:"textEmbedding"`
	KeyframeIDs   []string        `json:"keyframeIds"`
	SegmentIDs    []string        `json:"segmentIds"`
	NoProxy       bool            `json:"noProxy"`
	ProxyPath     string          `json:"proxyPath,omitempty"`
	PartialFrames bool            `json:"partialFrames"`
	Error         string          `json:"error,omitempty"`
}

// TagsAtLevel1 returns the distinct L1 values assigned to the asset.
func (a *Asset) TagsAtLevel1() []string {
	seen := make(map[string]bool, len(a.Tags))
	out := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		if t.L1 == "" || seen[t.L1] {
			continue
		}
		seen[t.L1] = true
		out = append(out, t.L1)
	}
	return out
}

// SearchMode selects how a query is scored.
type SearchMode string

const (
	ModeTagOnly        SearchMode = "TAG_ONLY"
	ModeVectorOnly     SearchMode = "VECTOR_ONLY"
	ModeHybrid         SearchMode = "HYBRID"
	ModeFilterThenRank SearchMode = "FILTER_THEN_RANK"
)

// TagFilter expresses required/excluded tag constraints for a query.
type TagFilter struct {
	RequireAll []TagAssignment `json:"requireAll"`
	RequireAny []TagAssignment `json:"requireAny"`
	Exclude    []TagAssignment `json:"exclude"`
}

// Query is a transient search request.
type Query struct {
	Text         string          `json:"text"`
	Tags         []TagAssignment `json:"tags"` // soft query tags, scored not gated
	Filter       TagFilter       `json:"filter"`
	Mode         SearchMode      `json:"mode"`
	TagWeight    float64         `json:"tagWeight"`
	VectorWeight float64         `json:"vectorWeight"`
	Limit        int             `json:"limit"`
	MinScore     float64         `json:"minScore"`
}

// ModalityScores breaks a combined score down by contributing modality.
type ModalityScores struct {
	Tag    float64 `json:"tag"`
	Text   float64 `json:"text"`
	Visual float64 `json:"visual"`
}

// MatchedTag is a tag assignment the query matched, with its level for
// human-readable explanation.
type MatchedTag struct {
	Tag   TagAssignment `json:"tag"`
	Level TagLevel      `json:"level"`
}

// ScoredResult is a ranked candidate returned by search.
type ScoredResult struct {
	AssetID     string         `json:"assetId"`
	SegmentID   string         `json:"segmentId,omitempty"`
	Score       float64        `json:"score"`
	Sub         ModalityScores `json:"subScores"`
	MatchedTags []MatchedTag   `json:"matchedTags"`
	InTime      *float64       `json:"inTime,omitempty"`
	OutTime     *float64       `json:"outTime,omitempty"`
	Keyframes   []string       `json:"keyframes,omitempty"`
	Reason      string         `json:"reason"`
	Partial     bool           `json:"partial,omitempty"`
}

// Beat is a screenplay unit used to recall candidate assets.
type Beat struct {
	Text           string          `json:"text"`
	EmotionTags    []TagAssignment `json:"emotionTags"`
	SceneTags      []TagAssignment `json:"sceneTags"`
	ActionTags     []TagAssignment `json:"actionTags"`
	TargetDuration float64         `json:"targetDuration"`
	DesiredCount   int             `json:"desiredCount"`
}

// HintTags flattens a beat's emotion/scene/action tag sets into one slice.
func (b Beat) HintTags() []TagAssignment {
	out := make([]TagAssignment, 0, len(b.EmotionTags)+len(b.SceneTags)+len(b.ActionTags))
	out = append(out, b.EmotionTags...)
	out = append(out, b.SceneTags...)
	out = append(out, b.ActionTags...)
	return out
}

// SceneCandidate is the result of recall_for_beat: a candidate asset with a
// suggested in/out window anchored on the best-matching keyframe.
type SceneCandidate struct {
	ScoredResult
	AnchorKeyframeID string `json:"anchorKeyframeId"`
}

// ExtractionStrategy is the closed enum of keyframe extraction strategies.
type ExtractionStrategy string

const (
	StrategySceneChange ExtractionStrategy = "scene_change"
	StrategyInterval    ExtractionStrategy = "interval"
	StrategyHybrid      ExtractionStrategy = "hybrid"
)

// IngestOptions control a single ingest call.
type IngestOptions struct {
	Force      bool
	Strategy   ExtractionStrategy
	WorkerHint int
}

// VideoMetadata is the output of the media probe stage.
type VideoMetadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Format   string
	Bitrate  int64
}

// NewAssetID derives the stable content-addressed id for a file's bytes:
// the first 16 hex characters of its sha256, so re-ingesting identical
// content always resolves to the same asset.
func NewAssetID(sha256Hex string) string {
	if len(sha256Hex) < 16 {
		return sha256Hex
	}
	return sha256Hex[:16]
}
