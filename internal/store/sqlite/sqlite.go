// Package sqlite is a store.Backend selectable via config's backend=sqlite:
// assets/keyframes/segments tables with vectors stored as BLOB-encoded
// contiguous float32 matrices, loaded entirely into memory at startup.
// Grounded on Vantagics-AskFlow's internal/vectorstore/store.go
// (SQLiteVectorStore.loadCache reading every row once into a cache, and its
// serialize.go byte<->[]float32 helpers).
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"previscore/internal/models"
	"previscore/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	text_vector BLOB
);
CREATE TABLE IF NOT EXISTS keyframes (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	record TEXT NOT NULL,
	visual_vector BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_keyframes_asset ON keyframes(asset_id);
CREATE INDEX IF NOT EXISTS idx_segments_asset ON segments(asset_id);
`

// Backend is a sqlite-backed store.Backend.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path and ensures its
// schema exists.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers anyway; avoid SQLITE_BUSY under concurrent readers

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// LoadAll reads every row into memory, mirroring loadCache's one-shot scan.
func (b *Backend) LoadAll() (store.LoadResult, error) {
	var out store.LoadResult

	assetRows, err := b.db.Query(`SELECT id, record, text_vector FROM assets ORDER BY rowid`)
	if err != nil {
		return out, fmt.Errorf("querying assets: %w", err)
	}
	defer assetRows.Close()
	for assetRows.Next() {
		var id, record string
		var vecBytes []byte
		if err := assetRows.Scan(&id, &record, &vecBytes); err != nil {
			return out, fmt.Errorf("scanning asset row: %w", err)
		}
		var a models.Asset
		if err := json.Unmarshal([]byte(record), &a); err != nil {
			return out, fmt.Errorf("parsing asset %s: %w", id, err)
		}
		out.Assets = append(out.Assets, a)
		out.TextVectors = append(out.TextVectors, deserializeVector(vecBytes))
	}
	if err := assetRows.Err(); err != nil {
		return out, err
	}

	kfRows, err := b.db.Query(`SELECT id, record, visual_vector FROM keyframes ORDER BY rowid`)
	if err != nil {
		return out, fmt.Errorf("querying keyframes: %w", err)
	}
	defer kfRows.Close()
	for kfRows.Next() {
		var id, record string
		var vecBytes []byte
		if err := kfRows.Scan(&id, &record, &vecBytes); err != nil {
			return out, fmt.Errorf("scanning keyframe row: %w", err)
		}
		var kf models.Keyframe
		if err := json.Unmarshal([]byte(record), &kf); err != nil {
			return out, fmt.Errorf("parsing keyframe %s: %w", id, err)
		}
		out.Keyframes = append(out.Keyframes, kf)
		out.VisualVectors = append(out.VisualVectors, deserializeVector(vecBytes))
	}
	if err := kfRows.Err(); err != nil {
		return out, err
	}

	segRows, err := b.db.Query(`SELECT record FROM segments ORDER BY rowid`)
	if err != nil {
		return out, fmt.Errorf("querying segments: %w", err)
	}
	defer segRows.Close()
	for segRows.Next() {
		var record string
		if err := segRows.Scan(&record); err != nil {
			return out, fmt.Errorf("scanning segment row: %w", err)
		}
		var seg models.Segment
		if err := json.Unmarshal([]byte(record), &seg); err != nil {
			return out, fmt.Errorf("parsing segment: %w", err)
		}
		out.Segments = append(out.Segments, seg)
	}
	return out, segRows.Err()
}

// WriteAsset commits the asset and its keyframes/segments in one
// transaction, replacing any prior row for the same ids.
func (b *Backend) WriteAsset(tx store.AssetWrite) error {
	dbTx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback()

	assetJSON, err := json.Marshal(tx.Asset)
	if err != nil {
		return fmt.Errorf("marshaling asset: %w", err)
	}
	if _, err := dbTx.Exec(
		`INSERT INTO assets (id, record, text_vector) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET record = excluded.record, text_vector = excluded.text_vector`,
		tx.Asset.ID, string(assetJSON), serializeVector(tx.TextVector),
	); err != nil {
		return fmt.Errorf("upserting asset: %w", err)
	}

	if _, err := dbTx.Exec(`DELETE FROM keyframes WHERE asset_id = ?`, tx.Asset.ID); err != nil {
		return fmt.Errorf("clearing old keyframes: %w", err)
	}
	for i, kf := range tx.Keyframes {
		kfJSON, err := json.Marshal(kf)
		if err != nil {
			return fmt.Errorf("marshaling keyframe: %w", err)
		}
		if _, err := dbTx.Exec(
			`INSERT INTO keyframes (id, asset_id, record, visual_vector) VALUES (?, ?, ?, ?)`,
			kf.ID, tx.Asset.ID, string(kfJSON), serializeVector(tx.VisualVectors[i]),
		); err != nil {
			return fmt.Errorf("inserting keyframe: %w", err)
		}
	}

	if _, err := dbTx.Exec(`DELETE FROM segments WHERE asset_id = ?`, tx.Asset.ID); err != nil {
		return fmt.Errorf("clearing old segments: %w", err)
	}
	for _, seg := range tx.Segments {
		segJSON, err := json.Marshal(seg)
		if err != nil {
			return fmt.Errorf("marshaling segment: %w", err)
		}
		if _, err := dbTx.Exec(
			`INSERT INTO segments (id, asset_id, record) VALUES (?, ?, ?)`,
			seg.ID, tx.Asset.ID, string(segJSON),
		); err != nil {
			return fmt.Errorf("inserting segment: %w", err)
		}
	}

	return dbTx.Commit()
}

// DeleteAsset removes the asset row and everything derived from it.
func (b *Backend) DeleteAsset(id string) error {
	dbTx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`DELETE FROM segments WHERE asset_id = ?`, id); err != nil {
		return err
	}
	if _, err := dbTx.Exec(`DELETE FROM keyframes WHERE asset_id = ?`, id); err != nil {
		return err
	}
	if _, err := dbTx.Exec(`DELETE FROM assets WHERE id = ?`, id); err != nil {
		return err
	}
	return dbTx.Commit()
}

// Close releases the underlying *sql.DB.
func (b *Backend) Close() error {
	return b.db.Close()
}

// serializeVector packs a []float32 into a little-endian byte blob, the
// shape of AskFlow's SerializeVectorF32.
func serializeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(x))
	}
	return buf
}

// deserializeVector is the inverse of serializeVector, mirroring AskFlow's
// DeserializeVectorF32.
func deserializeVector(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
