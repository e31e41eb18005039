package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Relation types recognised by the graph. citation links an entry to
// authority it cites, hierarchical links a general rule to a
// subordinate interpretation, causal links a condition to its legal
// consequence.
const (
	RelationCitation     = "citation"
	RelationHierarchical = "hierarchical"
	RelationCausal       = "causal"
)

var relationTypes = map[string]bool{
	RelationCitation:     true,
	RelationHierarchical: true,
	RelationCausal:       true,
}

// ValidRelationType reports whether t is a recognised relation type.
func ValidRelationType(t string) bool {
	return relationTypes[t]
}

// Relation represents a directed typed edge between two entries.
type Relation struct {
	ID         int64     `json:"id"`
	SourceID   int64     `json:"source_id"`
	TargetID   int64     `json:"target_id"`
	Type       string    `json:"relation_type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Neighbor is a relation joined with its far-end entry summary.
type Neighbor struct {
	EntryID    int64   `json:"entry_id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Type       string  `json:"relation_type"`
	Confidence float64 `json:"confidence"`
}

// InsertRelation validates and inserts an edge. Both endpoints must
// exist (active or not); a duplicate (source, target, type) triple
// yields ErrConflict.
func (s *Store) InsertRelation(ctx context.Context, r Relation) (*Relation, error) {
	if r.SourceID == r.TargetID {
		return nil, fmt.Errorf("%w: relation source and target must differ", ErrValidation)
	}
	if !ValidRelationType(r.Type) {
		return nil, fmt.Errorf("%w: unknown relation type %q", ErrValidation, r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, fmt.Errorf("%w: relation confidence must be in [0, 1]", ErrValidation)
	}
	for _, id := range []int64{r.SourceID, r.TargetID} {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", id).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: relation endpoint %d does not exist", ErrValidation, id)
		}
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (source_id, target_id, relation_type, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.SourceID, r.TargetID, r.Type, r.Confidence, formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: relation %d-[%s]->%d already exists",
				ErrConflict, r.SourceID, r.Type, r.TargetID)
		}
		return nil, fmt.Errorf("inserting relation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	r.ID = id
	r.CreatedAt = now
	return &r, nil
}

// Neighbors returns the relations of an entry joined with active
// far-end entries, outgoing and incoming, optionally filtered by type.
// Results are ordered by confidence descending, then far-end id.
func (s *Store) Neighbors(ctx context.Context, entryID int64, typ string, outgoing bool) ([]Neighbor, error) {
	far, near := "target_id", "source_id"
	if !outgoing {
		far, near = "source_id", "target_id"
	}
	q := fmt.Sprintf(`
		SELECT e.id, e.title, e.category, r.relation_type, r.confidence
		FROM relations r
		JOIN entries e ON e.id = r.%s
		WHERE r.%s = ? AND e.active = 1`, far, near)
	args := []any{entryID}
	if typ != "" {
		if !ValidRelationType(typ) {
			return nil, fmt.Errorf("%w: unknown relation type %q", ErrValidation, typ)
		}
		q += " AND r.relation_type = ?"
		args = append(args, typ)
	}
	q += " ORDER BY r.confidence DESC, e.id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.EntryID, &n.Title, &n.Category, &n.Type, &n.Confidence); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AllRelations returns every edge in the graph. The traversal layer
// builds its adjacency view from this.
func (s *Store) AllRelations(ctx context.Context) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation_type, confidence, created_at
		FROM relations ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing relations: %w", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var (
			r  Relation
			at string
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.Confidence, &at); err != nil {
			return nil, err
		}
		r.CreatedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}
