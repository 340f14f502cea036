// Package ingest orchestrates the embedding providers,
// keyframe extractor, tag engine, and vector store into the eight-stage
// pipeline that turns one raw media file into a committed, searchable asset
// record. Grounded on VideoAgent's internal/processor/video_processor.go
// Process method (sequential numbered stages, a progress callback fired
// between each, non-fatal sub-steps falling back instead of failing the
// whole job) and internal/queue/redis_consumer.go for the worker-pool shape.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"previscore/internal/embedding"
	"previscore/internal/errs"
	"previscore/internal/keyframe"
	"previscore/internal/models"
	"previscore/internal/store"
	"previscore/internal/tagging"
)

// Prober is the subset of *media.Prober the pipeline calls directly
// (keyframe.Extractor takes its own narrower view of the same type).
type Prober interface {
	Probe(ctx context.Context, path string) (models.VideoMetadata, error)
	Transcode720pProxy(ctx context.Context, videoPath, outPath string) error
}

// ProgressUpdate reports one stage transition of one ingest, the shape of
// VideoAgent's sendProgress payload.
type ProgressUpdate struct {
	AssetID  string
	Stage    string
	Progress float64 // 0-100
	Message  string
}

// ProgressFunc receives ProgressUpdates; may be nil.
type ProgressFunc func(ProgressUpdate)

// Each stage has a wall-clock limit (default 5 min for transcode, 2 min for
// keyframe extraction) so a stuck probe or embedding call can't hang a
// worker forever.
const (
	probeTimeout     = 1 * time.Minute
	transcodeTimeout = 5 * time.Minute
	keyframeTimeout  = 2 * time.Minute
	tagTimeout       = 1 * time.Minute
	embedTimeout     = 1 * time.Minute
)

// Pipeline wires the embedding, keyframe, tagging, and store components
// behind the eight ingest stages.
type Pipeline struct {
	prober     Prober
	keyframes  *keyframe.Extractor
	tagger     *tagging.Engine
	embeddings *embedding.Service
	vectors    *store.Store

	proxyDir       string
	maxFileBytes   int64
	embedSemaphore chan struct{} // bounds concurrent embedding calls across all in-flight ingests (default 4)
	log            zerolog.Logger
}

// New builds a Pipeline. embedConcurrency is the size of the semaphore
// guarding calls into embeddings, limiting concurrent embedding calls
// across all in-flight ingests to protect the providers (default 4).
func New(prober Prober, keyframes *keyframe.Extractor, tagger *tagging.Engine, embeddings *embedding.Service, vectors *store.Store, proxyDir string, embedConcurrency int, log zerolog.Logger) *Pipeline {
	if embedConcurrency < 1 {
		embedConcurrency = 4
	}
	return &Pipeline{
		prober:         prober,
		keyframes:      keyframes,
		tagger:         tagger,
		embeddings:     embeddings,
		vectors:        vectors,
		proxyDir:       proxyDir,
		maxFileBytes:   5 * 1024 * 1024 * 1024, // 5GB, VideoAgent's HTTPDownloaderConfig.MaxFileSize
		embedSemaphore: make(chan struct{}, embedConcurrency),
		log:            log,
	}
}

// RunAll ingests every path in paths concurrently, up to workers assets in
// parallel at a configured worker count. A failure on one path does not
// cancel the others; all errors are collected and returned together.
func (p *Pipeline) RunAll(ctx context.Context, paths []string, opts models.IngestOptions, workers int, progress ProgressFunc) ([]string, error) {
	if workers < 1 {
		workers = 1
	}
	ids := make([]string, len(paths))
	errsOut := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			id, err := p.Ingest(gctx, path, opts, progress)
			ids[i] = id
			errsOut[i] = err
			return nil // collect per-path errors instead of aborting the whole batch
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errsOut {
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", paths[i], err))
		}
	}
	if len(failed) > 0 {
		return ids, fmt.Errorf("%d of %d ingests failed: %s", len(failed), len(paths), strings.Join(failed, "; "))
	}
	return ids, nil
}

// Ingest runs the eight stages for one file, sequentially.
func (p *Pipeline) Ingest(ctx context.Context, path string, opts models.IngestOptions, progress ProgressFunc) (string, error) {
	report := func(assetID, stage string, pct float64, msg string) {
		if progress != nil {
			progress(ProgressUpdate{AssetID: assetID, Stage: stage, Progress: pct, Message: msg})
		}
	}

	// Stage 1: accept.
	asset, err := p.accept(path)
	if err != nil {
		return "", err
	}
	report(asset.ID, "accept", 5, "asset accepted")

	existing, existErr := p.vectors.GetAsset(asset.ID)
	if existErr == nil && existing.Status == models.StatusCompleted && !opts.Force {
		report(asset.ID, "accept", 100, "already ingested, skipping (force=false)")
		return asset.ID, nil
	}

	if ctx.Err() != nil {
		return "", errs.Wrap(errs.Cancelled, "ingest cancelled before probing", ctx.Err())
	}

	// Stage 2: probe (video only; image assets skip straight to tagging).
	var duration float64
	if asset.MediaType == models.MediaVideo {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		meta, err := p.prober.Probe(probeCtx, path)
		cancel()
		if err != nil {
			return "", errs.Wrap(errs.ProbeFailed, "probing media", err)
		}
		asset.Duration = &meta.Duration
		asset.Width, asset.Height = meta.Width, meta.Height
		duration = meta.Duration
		report(asset.ID, "probe", 15, "metadata probed")
	}

	if ctx.Err() != nil {
		return "", errs.Wrap(errs.Cancelled, "ingest cancelled before proxy", ctx.Err())
	}

	// Stage 3: proxy (video only). Failure is non-fatal: fall back to the
	// original file and mark no_proxy.
	sourceForKeyframes := path
	if asset.MediaType == models.MediaVideo {
		proxyPath := filepath.Join(p.proxyDir, asset.ID+".mp4")
		proxyCtx, cancel := context.WithTimeout(ctx, transcodeTimeout)
		err := p.prober.Transcode720pProxy(proxyCtx, path, proxyPath)
		cancel()
		if err != nil {
			p.log.Warn().Str("asset_id", asset.ID).Err(err).Msg("proxy transcode failed, falling back to original")
			asset.NoProxy = true
		} else {
			asset.ProxyPath = proxyPath
			sourceForKeyframes = proxyPath
		}
		report(asset.ID, "proxy", 30, "proxy ready")
	}

	// Stage 4: keyframe extraction.
	var keyframes []models.Keyframe
	if asset.MediaType == models.MediaVideo {
		kfCtx, cancel := context.WithTimeout(ctx, keyframeTimeout)
		result, err := p.keyframes.Extract(kfCtx, sourceForKeyframes, asset.ID, duration, opts.Strategy)
		cancel()
		if err != nil {
			asset.Status = models.StatusFailed
			asset.Error = err.Error()
			return "", errs.Wrap(errs.ExtractionFailed, "keyframe extraction produced no frames", err)
		}
		keyframes = result.Keyframes
		asset.PartialFrames = result.Partial
		if len(keyframes) == 0 {
			asset.Status = models.StatusFailed
			asset.Error = "no keyframes extracted"
			return "", errs.New(errs.ExtractionFailed, "video asset requires at least one keyframe")
		}
		report(asset.ID, "keyframe", 50, fmt.Sprintf("%d keyframes extracted", len(keyframes)))
	} else {
		keyframes = []models.Keyframe{{
			ID:        asset.ID + "-kf0",
			AssetID:   asset.ID,
			Timestamp: 0,
		}}
	}
	for i := range keyframes {
		if keyframes[i].ID == "" {
			keyframes[i].ID = fmt.Sprintf("%s-kf%d", asset.ID, i)
		}
		keyframes[i].AssetID = asset.ID
	}

	if ctx.Err() != nil {
		return "", errs.Wrap(errs.Cancelled, "ingest cancelled before tagging", ctx.Err())
	}

	// Stage 5: tag generation. Requires at least L1 (the Engine itself
	// guarantees this by defaulting to {L1: unknown, needs_review: true}).
	tagCtx, cancel := context.WithTimeout(ctx, tagTimeout)
	thumbPaths := make([]string, 0, len(keyframes))
	for _, kf := range keyframes {
		if kf.ThumbnailPath != "" {
			thumbPaths = append(thumbPaths, kf.ThumbnailPath)
		}
	}
	tagResult, err := p.tagger.AssignTags(tagCtx, filepath.Base(path), asset.Summary, nil, thumbPaths)
	cancel()
	if err != nil {
		return "", fmt.Errorf("tag generation: %w", err)
	}
	asset.Tags = tagResult.Tags
	asset.NeedsReview = tagResult.NeedsReview
	report(asset.ID, "tag", 65, fmt.Sprintf("%d tags assigned", len(asset.Tags)))

	if ctx.Err() != nil {
		return "", errs.Wrap(errs.Cancelled, "ingest cancelled before embedding", ctx.Err())
	}

	// Stage 6: text embedding of a summary built from the filename and each
	// tag's lineage.
	asset.Summary = buildSummary(filepath.Base(path), asset.Tags)
	p.embedSemaphore <- struct{}{}
	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	textVecs, err := p.embeddings.EmbedText(embedCtx, []string{asset.Summary})
	cancel()
	<-p.embedSemaphore
	if err != nil {
		return "", fmt.Errorf("text embedding: %w", err)
	}
	asset.TextEmbedding = textVecs[0]
	report(asset.ID, "embed_text", 80, "text embedded")

	// Stage 7: visual embedding, one call per keyframe (batched together).
	refs := make([]embedding.ImageRef, len(keyframes))
	for i, kf := range keyframes {
		thumbPath := kf.ThumbnailPath
		if thumbPath == "" {
			thumbPath = sourceForKeyframes // image assets: embed the source file itself
		}
		refs[i] = embedding.ImageRef{Path: thumbPath}
	}
	p.embedSemaphore <- struct{}{}
	visCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	visualVecs, err := p.embeddings.EmbedImage(visCtx, refs)
	cancel()
	<-p.embedSemaphore
	if err != nil {
		return "", fmt.Errorf("visual embedding: %w", err)
	}
	for i := range keyframes {
		keyframes[i].VisualEmbedding = visualVecs[i]
	}
	report(asset.ID, "embed_visual", 90, "keyframes embedded")

	if ctx.Err() != nil {
		return "", errs.Wrap(errs.Cancelled, "ingest cancelled before commit", ctx.Err())
	}

	// Stage 8: commit.
	asset.Status = models.StatusCompleted
	asset.KeyframeIDs = make([]string, len(keyframes))
	for i, kf := range keyframes {
		asset.KeyframeIDs[i] = kf.ID
	}
	if err := p.vectors.CommitAsset(asset, keyframes, nil); err != nil {
		return "", fmt.Errorf("committing asset: %w", err)
	}
	report(asset.ID, "commit", 100, "ingest complete")

	return asset.ID, nil
}

// accept validates the file and builds the pending Asset row (stage 1).
func (p *Pipeline) accept(path string) (models.Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Asset{}, errs.Wrap(errs.InvalidInput, "file not found", err)
	}
	if info.Size() == 0 {
		return models.Asset{}, errs.New(errs.InvalidInput, "file is empty")
	}
	if info.Size() > p.maxFileBytes {
		return models.Asset{}, errs.New(errs.InvalidInput, fmt.Sprintf("file exceeds max size of %d bytes", p.maxFileBytes))
	}

	mediaType, err := sniffMediaType(path)
	if err != nil {
		return models.Asset{}, err
	}

	hash, err := sha256File(path)
	if err != nil {
		return models.Asset{}, errs.Wrap(errs.InvalidInput, "hashing file", err)
	}

	return models.Asset{
		ID:        models.NewAssetID(hash),
		Path:      path,
		MediaType: mediaType,
		CreatedAt: time.Now(),
		Status:    models.StatusPending,
	}, nil
}

func sniffMediaType(path string) (models.MediaType, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "opening file", err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	mime := http.DetectContentType(buf[:n])

	switch {
	case strings.HasPrefix(mime, "video/"):
		return models.MediaVideo, nil
	case strings.HasPrefix(mime, "image/"):
		return models.MediaImage, nil
	default:
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".mp4", ".mov", ".mkv", ".avi", ".webm":
			return models.MediaVideo, nil
		case ".jpg", ".jpeg", ".png", ".gif", ".webp":
			return models.MediaImage, nil
		}
		return "", errs.New(errs.InvalidInput, fmt.Sprintf("unrecognized media type %q", mime))
	}
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// buildSummary assembles the text fed to the text embedder: filename plus
// the joined L1..L4 tag lineages.
func buildSummary(filename string, tags []models.TagAssignment) string {
	parts := []string{filename}
	for _, t := range tags {
		lineage := []string{t.L1, t.L2, t.L3, t.L4}
		var nonEmpty []string
		for _, l := range lineage {
			if l != "" {
				nonEmpty = append(nonEmpty, l)
			}
		}
		if len(nonEmpty) > 0 {
			parts = append(parts, strings.Join(nonEmpty, "/"))
		}
	}
	return strings.Join(parts, " ")
}

// Reingest forces a replace of an existing asset, per the
// idempotency rule: "Re-ingesting the same content id is a no-op unless
// force=true".
func (p *Pipeline) Reingest(ctx context.Context, assetID string, progress ProgressFunc) (string, error) {
	existing, err := p.vectors.GetAsset(assetID)
	if err != nil {
		return "", err
	}
	opts := models.IngestOptions{Force: true}
	return p.Ingest(ctx, existing.Path, opts, progress)
}

// Delete removes an asset and everything derived from it.
func (p *Pipeline) Delete(id string) error {
	return p.vectors.DeleteAsset(id)
}
