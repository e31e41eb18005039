// Package graph manages the typed relation graph between knowledge
// entries: edge insertion with validation and bounded breadth-first
// traversal over an in-memory adjacency view.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/junyiz/lawkb/store"
)

// MaxDepth bounds transitive closure traversal.
const MaxDepth = 5

// Graph wraps the store's relation tables.
type Graph struct {
	store *store.Store
}

// New creates a graph over the store.
func New(s *store.Store) *Graph {
	return &Graph{store: s}
}

// AddRelation validates and inserts an edge between two entries.
func (g *Graph) AddRelation(ctx context.Context, r store.Relation) (*store.Relation, error) {
	return g.store.InsertRelation(ctx, r)
}

// Neighbors returns the direct neighbors of an entry. Inactive far
// ends are filtered; outgoing selects edge direction.
func (g *Graph) Neighbors(ctx context.Context, entryID int64, typ string, outgoing bool) ([]store.Neighbor, error) {
	if _, err := g.store.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	return g.store.Neighbors(ctx, entryID, typ, outgoing)
}

// ClosureNode is one entry reached by TransitiveClosure, annotated with
// its BFS depth from the start entry.
type ClosureNode struct {
	EntryID int64 `json:"entry_id"`
	Depth   int   `json:"depth"`
}

// TransitiveClosure walks outgoing edges from start up to maxDepth hops
// and returns every active entry reached, excluding the start itself.
// Cycles terminate because each entry is visited at most once. Nodes
// are ordered by depth, then id, so traversal output is deterministic.
func (g *Graph) TransitiveClosure(ctx context.Context, start int64, maxDepth int) ([]ClosureNode, error) {
	if maxDepth < 1 || maxDepth > MaxDepth {
		return nil, fmt.Errorf("%w: max_depth must be in [1, %d]", store.ErrValidation, MaxDepth)
	}
	if _, err := g.store.GetEntry(ctx, start); err != nil {
		return nil, err
	}

	rels, err := g.store.AllRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading relations: %w", err)
	}
	active, err := g.store.ActiveIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active ids: %w", err)
	}

	adjacency := make(map[int64][]int64)
	for _, r := range rels {
		adjacency[r.SourceID] = append(adjacency[r.SourceID], r.TargetID)
	}

	visited := map[int64]bool{start: true}
	queue := []int64{start}
	var out []ClosureNode

	for depth := 1; depth <= maxDepth && len(queue) > 0; depth++ {
		var next []int64
		for _, id := range queue {
			targets := adjacency[id]
			sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
			for _, tid := range targets {
				if visited[tid] || !active[tid] {
					continue
				}
				visited[tid] = true
				next = append(next, tid)
				out = append(out, ClosureNode{EntryID: tid, Depth: depth})
			}
		}
		queue = next
	}
	return out, nil
}
