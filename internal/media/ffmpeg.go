// Package media wraps ffmpeg/ffprobe for probing, frame extraction, and
// proxy transcoding, adapted from VideoAgent's utils.FFmpegHelper
// (internal/utils/ffmpeg.go) to this module's VideoMetadata/Keyframe
// shapes.
package media

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"previscore/internal/errs"
	"previscore/internal/models"
)

// Prober runs ffmpeg/ffprobe subprocesses against a single video or image
// file. It holds no state about any particular asset.
type Prober struct {
	ffmpegPath  string
	ffprobePath string
}

// NewProber locates ffmpeg and ffprobe on PATH.
func NewProber() (*Prober, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &Prober{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// Probe reads container/stream metadata via ffprobe. Returns ErrProbeFailed
// wrapping the underlying exec/parse error on any failure.
func (p *Prober) Probe(ctx context.Context, path string) (models.VideoMetadata, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return models.VideoMetadata{}, errs.Wrap(errs.ProbeFailed, "ffprobe failed", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return models.VideoMetadata{}, errs.Wrap(errs.ProbeFailed, "parsing ffprobe output", err)
	}

	meta := models.VideoMetadata{Format: parsed.Format.FormatName}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			meta.Duration = d
		}
	}
	if parsed.Format.BitRate != "" {
		if b, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			meta.Bitrate = b
		}
	}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" {
			meta.Width = s.Width
			meta.Height = s.Height
			meta.Codec = s.CodecName
			if meta.Duration == 0 && s.Duration != "" {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					meta.Duration = d
				}
			}
			break
		}
	}
	return meta, nil
}

// ExtractFrame decodes the frame nearest timestampSec and writes it to
// outPath, downscaled so its longest edge is at most maxEdge pixels
// (preserving aspect ratio).
func (p *Prober) ExtractFrame(ctx context.Context, videoPath string, timestampSec float64, outPath string, maxEdge int) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating thumbnail directory: %w", err)
	}
	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", maxEdge, maxEdge)
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-ss", fmt.Sprintf("%.3f", timestampSec),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", scale,
		"-q:v", "2",
		"-y",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return errs.Wrap(errs.ExtractionFailed, fmt.Sprintf("extracting frame at %.3fs", timestampSec), err)
	}
	return nil
}

// SceneEvent is one frame ffmpeg's scene filter flagged as a likely cut,
// carrying the score it computed (0..1).
type SceneEvent struct {
	TimestampSec float64
	Score        float64
}

var showinfoLine = regexp.MustCompile(`pts_time:([0-9.]+)`)
var sceneScoreLine = regexp.MustCompile(`scene:([0-9.]+)`)

// DetectSceneChanges runs ffmpeg's scene-change filter (the same
// `select='gt(scene,T)',showinfo` filter VideoAgent's
// utils.FFmpegHelper.extractSceneFrames uses) at threshold t and parses the
// showinfo lines it writes to stderr for per-event timestamp and score.
func (p *Prober) DetectSceneChanges(ctx context.Context, videoPath string, threshold float64) ([]SceneEvent, error) {
	filter := fmt.Sprintf("select='gt(scene\\,%.3f)',showinfo", threshold)
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", videoPath,
		"-vf", filter,
		"-vsync", "vfr",
		"-f", "null",
		"-",
	)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.ExtractionFailed, "starting scene detection", err)
	}

	var events []SceneEvent
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "pts_time") {
			continue
		}
		tsMatch := showinfoLine.FindStringSubmatch(line)
		if tsMatch == nil {
			continue
		}
		ts, err := strconv.ParseFloat(tsMatch[1], 64)
		if err != nil {
			continue
		}
		score := threshold
		if scMatch := sceneScoreLine.FindStringSubmatch(line); scMatch != nil {
			if s, err := strconv.ParseFloat(scMatch[1], 64); err == nil {
				score = s
			}
		}
		events = append(events, SceneEvent{TimestampSec: ts, Score: score})
	}

	waitErr := cmd.Wait()
	if waitErr != nil && len(events) == 0 {
		return nil, errs.Wrap(errs.ExtractionFailed, "scene detection decode failed", waitErr)
	}
	// A mid-stream decode failure after some events were already parsed
	// returns those events together with the error; the caller treats that
	// as a partial result.
	if waitErr != nil {
		return events, errs.Wrap(errs.ExtractionFailed, "scene detection stopped mid-stream", waitErr)
	}
	return events, nil
}

// Transcode720pProxy produces an h264 720p-max proxy, the asset's
// `proxies/<asset_id>.mp4`.
func (p *Prober) Transcode720pProxy(ctx context.Context, videoPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating proxy directory: %w", err)
	}
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", videoPath,
		"-vf", "scale='min(1280,iw)':'min(720,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-y",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("transcoding proxy: %w", err)
	}
	return nil
}
