package store

import (
	"context"
	"fmt"
)

// TagCount is one row of the top-tags breakdown.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats summarises the knowledge base for the stats endpoint.
type Stats struct {
	TotalEntries  int              `json:"total_entries"`
	ByCategory    map[string]int   `json:"by_category"`
	TopTags       []TagCount       `json:"top_tags"`
	Relations     int              `json:"relations"`
	Consultations map[string]int   `json:"consultations"`
}

// KnowledgeStats aggregates counts over active entries, relations and
// the consultation log.
func (s *Store) KnowledgeStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByCategory:    make(map[string]int),
		Consultations: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM entries WHERE active = 1 GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByCategory[cat] = n
		st.TotalEntries += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// json_each unrolls the tags array so SQL can group over it.
	rows, err = s.db.QueryContext(ctx, `
		SELECT t.value, COUNT(*) AS n
		FROM entries e, json_each(e.tags) t
		WHERE e.active = 1
		GROUP BY t.value
		ORDER BY n DESC, t.value
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("counting tags: %w", err)
	}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			rows.Close()
			return nil, err
		}
		st.TopTags = append(st.TopTags, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM relations").Scan(&st.Relations); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM consultations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting consultations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.Consultations[status] = n
	}
	return st, rows.Err()
}
