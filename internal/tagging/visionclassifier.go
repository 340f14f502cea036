package tagging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"previscore/internal/models"
)

// shotSizes, cameraMovements, colorGradings and moods are the closed
// vocabularies VisionClassifier asks the model to choose from, carried over
// from VideoAgent's internal/scene analyzers (shot_composition.go,
// camera_movement.go, color_lighting_mood.go): framing, camera motion,
// grading, and mood as four independent L3 axes under one L1/L2 bucket
// each rather than four separate LLM calls per frame.
var (
	shotSizes       = []string{"extreme_close_up", "close_up", "medium_close_up", "medium_shot", "medium_wide", "wide_shot", "extreme_wide"}
	cameraMovements = []string{"static", "pan", "tilt", "zoom", "dolly", "tracking", "crane", "handheld"}
	colorGradings   = []string{"natural", "warm", "cool", "desaturated", "vibrant", "high_contrast", "low_contrast", "monochrome", "sepia", "cinematic"}
	moods           = []string{"tense", "peaceful", "energetic", "melancholy", "hopeful", "ominous", "joyful", "mysterious", "romantic", "nostalgic", "neutral"}
)

const visionPrompt = `Analyze this video frame for a previsualization shot library. Respond with JSON only:
{
  "shot_size": "one of: extreme_close_up, close_up, medium_close_up, medium_shot, medium_wide, wide_shot, extreme_wide",
  "camera_movement": "one of: static, pan, tilt, zoom, dolly, tracking, crane, handheld",
  "color_grading": "one of: natural, warm, cool, desaturated, vibrant, high_contrast, low_contrast, monochrome, sepia, cinematic",
  "mood": "one of: tense, peaceful, energetic, melancholy, hopeful, ominous, joyful, mysterious, romantic, nostalgic, neutral",
  "confidence": 0.0-1.0
}`

type visionResponse struct {
	ShotSize       string  `json:"shot_size"`
	CameraMovement string  `json:"camera_movement"`
	ColorGrading   string  `json:"color_grading"`
	Mood           string  `json:"mood"`
	Confidence     float64 `json:"confidence"`
}

// VisionClassifier implements Classifier over an OpenAI-compatible vision
// chat model, one call per thumbnail in place of VideoAgent's four separate
// SceneClassifier/ShotCompositionAnalyzer/CameraMovementAnalyzer/
// ColorLightingMoodAnalyzer calls.
type VisionClassifier struct {
	client *openai.Client
	model  string
}

// NewVisionClassifier builds a VisionClassifier against model (e.g.
// "gpt-4o-mini") using apiKey/baseURL.
func NewVisionClassifier(apiKey, baseURL, model string) *VisionClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &VisionClassifier{client: openai.NewClientWithConfig(cfg), model: model}
}

func (v *VisionClassifier) Classify(ctx context.Context, thumbnailPath string) ([]ClassifierResult, error) {
	dataURL, err := encodeImageDataURL(thumbnailPath)
	if err != nil {
		return nil, fmt.Errorf("reading thumbnail %s: %w", thumbnailPath, err)
	}

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision classification: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision classification: empty response")
	}

	var parsed visionResponse
	raw := extractJSONObject(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing vision response: %w", err)
	}

	results := make([]ClassifierResult, 0, 4)
	add := func(l1, l2, label string, valid []string) {
		if label == "" || !containsString(valid, label) {
			return
		}
		results = append(results, ClassifierResult{
			Label:      label,
			Level:      models.LevelL3,
			Parent:     models.TagAssignment{L1: l1, L2: l2},
			Confidence: parsed.Confidence,
		})
	}
	add("shot", "composition", parsed.ShotSize, shotSizes)
	add("camera", "movement", parsed.CameraMovement, cameraMovements)
	add("lighting", "grading", parsed.ColorGrading, colorGradings)
	add("emotion", "mood", parsed.Mood, moods)
	return results, nil
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func encodeImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := "jpeg"
	if strings.HasSuffix(strings.ToLower(path), ".png") {
		ext = "png"
	}
	return fmt.Sprintf("data:image/%s;base64,%s", ext, base64.StdEncoding.EncodeToString(data)), nil
}

// extractJSONObject pulls the first {...} span out of response, tolerating
// a model that wraps its JSON in prose or a markdown code fence.
func extractJSONObject(response string) string {
	start := strings.IndexByte(response, '{')
	end := strings.LastIndexByte(response, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return response[start : end+1]
}
