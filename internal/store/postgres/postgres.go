// Package postgres is a store.Backend selectable via config's
// backend=postgres, for multi-node deployments sharing one database.
// Grounded on VideoAgent's internal/storage/storage_manager.go: a
// dedicated schema, JSONB columns for nested fields, upsert-on-conflict
// writes, and a pooled *sql.DB with the same connection limits.
package postgres

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	"previscore/internal/models"
	"previscore/internal/store"
)

const schema = `
CREATE SCHEMA IF NOT EXISTS previscore;

CREATE TABLE IF NOT EXISTS previscore.assets (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	media_type TEXT NOT NULL,
	duration DOUBLE PRECISION,
	width INT,
	height INT,
	status TEXT NOT NULL,
	needs_review BOOLEAN NOT NULL DEFAULT FALSE,
	tags JSONB NOT NULL DEFAULT '[]',
	free_tags JSONB NOT NULL DEFAULT '[]',
	summary TEXT,
	text_vector BYTEA,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS previscore.keyframes (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES previscore.assets(id) ON DELETE CASCADE,
	timestamp DOUBLE PRECISION NOT NULL,
	thumbnail_path TEXT,
	method TEXT,
	visual_vector BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS previscore.segments (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES previscore.assets(id) ON DELETE CASCADE,
	start_time DOUBLE PRECISION NOT NULL,
	end_time DOUBLE PRECISION NOT NULL,
	tags JSONB NOT NULL DEFAULT '[]',
	description TEXT
);

CREATE INDEX IF NOT EXISTS idx_previscore_keyframes_asset ON previscore.keyframes(asset_id);
CREATE INDEX IF NOT EXISTS idx_previscore_segments_asset ON previscore.segments(asset_id);
`

// Backend is a postgres-backed store.Backend.
type Backend struct {
	db *sql.DB
}

// Open connects to dsn, applies connection-pool limits matching
// storage_manager.go's NewStorageManager, and ensures the schema exists.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// LoadAll reads every asset/keyframe/segment row.
func (b *Backend) LoadAll() (store.LoadResult, error) {
	var out store.LoadResult

	assetRows, err := b.db.Query(`
		SELECT id, path, media_type, duration, width, height, status, needs_review,
		       tags, free_tags, summary, text_vector, created_at
		FROM previscore.assets ORDER BY created_at`)
	if err != nil {
		return out, fmt.Errorf("querying assets: %w", err)
	}
	defer assetRows.Close()
	for assetRows.Next() {
		var a models.Asset
		var duration sql.NullFloat64
		var tagsJSON, freeTagsJSON []byte
		var vecBytes []byte
		if err := assetRows.Scan(&a.ID, &a.Path, &a.MediaType, &duration, &a.Width, &a.Height,
			&a.Status, &a.NeedsReview, &tagsJSON, &freeTagsJSON, &a.Summary, &vecBytes, &a.CreatedAt); err != nil {
			return out, fmt.Errorf("scanning asset row: %w", err)
		}
		if duration.Valid {
			a.Duration = &duration.Float64
		}
		if err := json.Unmarshal(tagsJSON, &a.Tags); err != nil {
			return out, fmt.Errorf("parsing tags for %s: %w", a.ID, err)
		}
		if err := json.Unmarshal(freeTagsJSON, &a.FreeTags); err != nil {
			return out, fmt.Errorf("parsing free_tags for %s: %w", a.ID, err)
		}
		out.Assets = append(out.Assets, a)
		out.TextVectors = append(out.TextVectors, deserializeVector(vecBytes))
	}
	if err := assetRows.Err(); err != nil {
		return out, err
	}

	kfRows, err := b.db.Query(`
		SELECT id, asset_id, timestamp, thumbnail_path, method, visual_vector
		FROM previscore.keyframes ORDER BY asset_id, timestamp`)
	if err != nil {
		return out, fmt.Errorf("querying keyframes: %w", err)
	}
	defer kfRows.Close()
	for kfRows.Next() {
		var kf models.Keyframe
		var method string
		var vecBytes []byte
		if err := kfRows.Scan(&kf.ID, &kf.AssetID, &kf.Timestamp, &kf.ThumbnailPath, &method, &vecBytes); err != nil {
			return out, fmt.Errorf("scanning keyframe row: %w", err)
		}
		kf.Method = models.ExtractionStrategy(method)
		out.Keyframes = append(out.Keyframes, kf)
		out.VisualVectors = append(out.VisualVectors, deserializeVector(vecBytes))
	}
	if err := kfRows.Err(); err != nil {
		return out, err
	}

	segRows, err := b.db.Query(`
		SELECT id, asset_id, start_time, end_time, tags, description
		FROM previscore.segments ORDER BY asset_id, start_time`)
	if err != nil {
		return out, fmt.Errorf("querying segments: %w", err)
	}
	defer segRows.Close()
	for segRows.Next() {
		var seg models.Segment
		var tagsJSON []byte
		if err := segRows.Scan(&seg.ID, &seg.AssetID, &seg.StartTime, &seg.EndTime, &tagsJSON, &seg.Description); err != nil {
			return out, fmt.Errorf("scanning segment row: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &seg.Tags); err != nil {
			return out, fmt.Errorf("parsing segment tags: %w", err)
		}
		out.Segments = append(out.Segments, seg)
	}
	return out, segRows.Err()
}

// WriteAsset upserts the asset row and replaces its keyframes/segments,
// mirroring storage_manager.go's StoreFrame transaction shape.
func (b *Backend) WriteAsset(tx store.AssetWrite) error {
	dbTx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback()

	a := tx.Asset
	tagsJSON, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	freeTagsJSON, err := json.Marshal(a.FreeTags)
	if err != nil {
		return fmt.Errorf("marshaling free_tags: %w", err)
	}

	_, err = dbTx.Exec(`
		INSERT INTO previscore.assets
			(id, path, media_type, duration, width, height, status, needs_review, tags, free_tags, summary, text_vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			media_type = EXCLUDED.media_type,
			duration = EXCLUDED.duration,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			status = EXCLUDED.status,
			needs_review = EXCLUDED.needs_review,
			tags = EXCLUDED.tags,
			free_tags = EXCLUDED.free_tags,
			summary = EXCLUDED.summary,
			text_vector = EXCLUDED.text_vector
	`, a.ID, a.Path, a.MediaType, a.Duration, a.Width, a.Height, a.Status, a.NeedsReview,
		tagsJSON, freeTagsJSON, a.Summary, serializeVector(tx.TextVector))
	if err != nil {
		return fmt.Errorf("upserting asset: %w", err)
	}

	if _, err := dbTx.Exec(`DELETE FROM previscore.keyframes WHERE asset_id = $1`, a.ID); err != nil {
		return fmt.Errorf("clearing old keyframes: %w", err)
	}
	for i, kf := range tx.Keyframes {
		if _, err := dbTx.Exec(`
			INSERT INTO previscore.keyframes (id, asset_id, timestamp, thumbnail_path, method, visual_vector)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, kf.ID, a.ID, kf.Timestamp, kf.ThumbnailPath, string(kf.Method), serializeVector(tx.VisualVectors[i])); err != nil {
			return fmt.Errorf("inserting keyframe: %w", err)
		}
	}

	if _, err := dbTx.Exec(`DELETE FROM previscore.segments WHERE asset_id = $1`, a.ID); err != nil {
		return fmt.Errorf("clearing old segments: %w", err)
	}
	for _, seg := range tx.Segments {
		segTagsJSON, err := json.Marshal(seg.Tags)
		if err != nil {
			return fmt.Errorf("marshaling segment tags: %w", err)
		}
		if _, err := dbTx.Exec(`
			INSERT INTO previscore.segments (id, asset_id, start_time, end_time, tags, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, seg.ID, a.ID, seg.StartTime, seg.EndTime, segTagsJSON, seg.Description); err != nil {
			return fmt.Errorf("inserting segment: %w", err)
		}
	}

	return dbTx.Commit()
}

// DeleteAsset removes the asset row; keyframes/segments cascade via FK.
func (b *Backend) DeleteAsset(id string) error {
	_, err := b.db.Exec(`DELETE FROM previscore.assets WHERE id = $1`, id)
	return err
}

// Close releases the underlying *sql.DB.
func (b *Backend) Close() error {
	return b.db.Close()
}

func serializeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(x))
	}
	return buf
}

func deserializeVector(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
