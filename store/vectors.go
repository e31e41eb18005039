package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// EntryVector pairs an entry with its stored embedding and the entry
// version it was computed from.
type EntryVector struct {
	EntryID   int64
	Version   int64
	Embedding []float32
}

// RelatedHit is a KNN result from the vec0 table joined with entries.
type RelatedHit struct {
	EntryID  int64   `json:"entry_id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Distance float64 `json:"distance"`
}

// UpsertEmbedding stores (or replaces) the embedding for an entry and
// records which entry version it was computed from.
func (s *Store) UpsertEmbedding(ctx context.Context, entryID, version int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("%w: embedding has %d dimensions, store expects %d",
			ErrValidation, len(embedding), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_entries WHERE entry_id = ?", entryID); err != nil {
			return fmt.Errorf("clearing embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_entries (entry_id, embedding) VALUES (?, ?)",
			entryID, serializeFloat32(embedding)); err != nil {
			return fmt.Errorf("inserting embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entry_index_state (entry_id, version) VALUES (?, ?)
			ON CONFLICT(entry_id) DO UPDATE SET version = excluded.version
		`, entryID, version); err != nil {
			return fmt.Errorf("recording index state: %w", err)
		}
		return nil
	})
}

// DeleteEmbedding removes the stored embedding for an entry.
func (s *Store) DeleteEmbedding(ctx context.Context, entryID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_entries WHERE entry_id = ?", entryID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM entry_index_state WHERE entry_id = ?", entryID)
		return err
	})
}

// AllEmbeddings streams every stored embedding with its indexed version.
func (s *Store) AllEmbeddings(ctx context.Context) ([]EntryVector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.entry_id, COALESCE(st.version, 0), v.embedding
		FROM vec_entries v
		LEFT JOIN entry_index_state st ON st.entry_id = v.entry_id
	`)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	defer rows.Close()

	var out []EntryVector
	for rows.Next() {
		var (
			ev   EntryVector
			blob []byte
		)
		if err := rows.Scan(&ev.EntryID, &ev.Version, &blob); err != nil {
			return nil, err
		}
		ev.Embedding = deserializeFloat32(blob)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RelatedByVector returns the k active entries nearest to the stored
// embedding of entryID, excluding the entry itself.
func (s *Store) RelatedByVector(ctx context.Context, entryID int64, k int) ([]RelatedHit, error) {
	if k <= 0 || k > 50 {
		k = 10
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM vec_entries WHERE entry_id = ?", entryID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entry %d has no embedding", ErrNotFound, entryID)
	}
	if err != nil {
		return nil, err
	}

	// k+1 because the query vector's own entry is the nearest match.
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.entry_id, e.title, e.category, v.distance
		FROM vec_entries v
		JOIN entries e ON e.id = v.entry_id
		WHERE v.embedding MATCH ? AND k = ? AND e.active = 1
		ORDER BY v.distance
	`, blob, k+1)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []RelatedHit
	for rows.Next() {
		var h RelatedHit
		if err := rows.Scan(&h.EntryID, &h.Title, &h.Category, &h.Distance); err != nil {
			return nil, err
		}
		if h.EntryID == entryID {
			continue
		}
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	return out, rows.Err()
}

// serializeFloat32 encodes a vector in the little-endian layout
// sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
