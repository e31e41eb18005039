// Package index maintains the blended search index: an in-memory
// lexical posting list plus per-entry embeddings. The index is
// eventually consistent with the store; writes arrive as change
// notifications and are applied by a single worker goroutine, so a
// reader never observes a torn entry.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/store"
	"github.com/junyiz/lawkb/tokenize"
)

const (
	defaultQueueSize = 256
	jobTimeout       = 30 * time.Second
	embedBatchSize   = 32
)

type doc struct {
	version   int64
	category  category.Category
	tags      map[string]bool
	updatedAt time.Time
	terms     map[string]int
	vector    []float32
}

type job struct {
	change  store.Change
	barrier chan struct{} // non-nil for Sync jobs
}

// Indexer owns the search index and the refresh worker.
type Indexer struct {
	store    *store.Store
	embedder llm.Embedder

	mu       sync.RWMutex
	postings map[string]map[int64]int // term -> entry id -> tf
	docs     map[int64]*doc

	sendMu sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// New creates an indexer over the store. Call Rebuild to load existing
// entries, then Start to launch the refresh worker.
func New(s *store.Store, embedder llm.Embedder, queueSize int) *Indexer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Indexer{
		store:    s,
		embedder: embedder,
		postings: make(map[string]map[int64]int),
		docs:     make(map[int64]*doc),
		jobs:     make(chan job, queueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the refresh worker. Must be called exactly once.
func (ix *Indexer) Start() {
	go ix.run()
}

// Close stops the worker after draining queued notifications.
func (ix *Indexer) Close() {
	ix.sendMu.Lock()
	if !ix.closed {
		ix.closed = true
		close(ix.jobs)
	}
	ix.sendMu.Unlock()
	<-ix.done
}

// Notify enqueues a refresh for a changed entry. Safe for concurrent
// use; drops the notification if the indexer is closed.
func (ix *Indexer) Notify(c store.Change) {
	ix.sendMu.RLock()
	defer ix.sendMu.RUnlock()
	if ix.closed {
		return
	}
	ix.jobs <- job{change: c}
}

// Sync blocks until every notification enqueued before the call has
// been applied. Intended for tests and admin endpoints.
func (ix *Indexer) Sync(ctx context.Context) error {
	ix.sendMu.RLock()
	if ix.closed {
		ix.sendMu.RUnlock()
		return nil
	}
	barrier := make(chan struct{})
	ix.jobs <- job{barrier: barrier}
	ix.sendMu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ix *Indexer) run() {
	defer close(ix.done)
	for j := range ix.jobs {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		if err := ix.apply(ctx, j.change); err != nil {
			// A failed refresh is logged, never fatal: the entry keeps
			// its previous index state and a later change retries.
			slog.Error("index refresh failed", "entry", j.change.EntryID, "error", err)
		}
		cancel()
	}
}

func (ix *Indexer) apply(ctx context.Context, c store.Change) error {
	if c.Deactivated {
		ix.remove(c.EntryID)
		if err := ix.store.DeleteEmbedding(ctx, c.EntryID); err != nil {
			return fmt.Errorf("deleting embedding: %w", err)
		}
		return nil
	}

	e, err := ix.store.GetEntry(ctx, c.EntryID)
	if err != nil {
		return err
	}
	if !e.Active {
		ix.remove(e.ID)
		return ix.store.DeleteEmbedding(ctx, e.ID)
	}

	// Last write wins: the store row is authoritative, stale
	// notifications for older versions are dropped here.
	ix.mu.RLock()
	cur, ok := ix.docs[e.ID]
	ix.mu.RUnlock()
	if ok && cur.version >= e.Version {
		return nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{embedText(e)})
	if err != nil {
		return fmt.Errorf("embedding entry: %w", err)
	}
	if err := ix.store.UpsertEmbedding(ctx, e.ID, e.Version, vecs[0]); err != nil {
		return fmt.Errorf("persisting embedding: %w", err)
	}

	ix.put(e, vecs[0])
	return nil
}

// Rebuild loads every active entry into the index, reusing stored
// embeddings whose version still matches and re-embedding the rest.
func (ix *Indexer) Rebuild(ctx context.Context) error {
	entries, err := ix.store.AllActiveEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	stored, err := ix.store.AllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}
	byID := make(map[int64]store.EntryVector, len(stored))
	for _, ev := range stored {
		byID[ev.EntryID] = ev
	}

	var missing []store.Entry
	vectors := make(map[int64][]float32, len(entries))
	for _, e := range entries {
		if ev, ok := byID[e.ID]; ok && ev.Version == e.Version && len(ev.Embedding) == ix.store.EmbeddingDim() {
			vectors[e.ID] = ev.Embedding
			continue
		}
		missing = append(missing, e)
	}

	for start := 0; start < len(missing); start += embedBatchSize {
		end := min(start+embedBatchSize, len(missing))
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = embedText(&e)
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		for i, e := range batch {
			if err := ix.store.UpsertEmbedding(ctx, e.ID, e.Version, vecs[i]); err != nil {
				return fmt.Errorf("persisting embedding for entry %d: %w", e.ID, err)
			}
			vectors[e.ID] = vecs[i]
		}
	}

	ix.mu.Lock()
	ix.postings = make(map[string]map[int64]int)
	ix.docs = make(map[int64]*doc)
	ix.mu.Unlock()
	for _, e := range entries {
		ix.put(&e, vectors[e.ID])
	}

	slog.Info("index rebuilt", "entries", len(entries), "re-embedded", len(missing))
	return nil
}

// put replaces an entry's index state in one short critical section.
func (ix *Indexer) put(e *store.Entry, vector []float32) {
	terms := tokenize.TermFreqs(e.Title + "\n" + e.Content)
	tags := make(map[string]bool, len(e.Tags))
	for _, t := range e.Tags {
		tags[t] = true
	}
	d := &doc{
		version:   e.Version,
		category:  e.Category,
		tags:      tags,
		updatedAt: e.UpdatedAt,
		terms:     terms,
		vector:    vector,
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(e.ID)
	ix.docs[e.ID] = d
	for term, tf := range terms {
		p := ix.postings[term]
		if p == nil {
			p = make(map[int64]int)
			ix.postings[term] = p
		}
		p[e.ID] = tf
	}
}

func (ix *Indexer) remove(id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Indexer) removeLocked(id int64) {
	d, ok := ix.docs[id]
	if !ok {
		return
	}
	for term := range d.terms {
		p := ix.postings[term]
		delete(p, id)
		if len(p) == 0 {
			delete(ix.postings, term)
		}
	}
	delete(ix.docs, id)
}

// Size returns the number of indexed entries.
func (ix *Indexer) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Filter restricts the candidate set of a scoring pass.
type Filter struct {
	Category category.Category
	Tags     []string
}

// RawScore carries the unnormalized component scores of one candidate.
type RawScore struct {
	EntryID   int64
	Lexical   float64
	Semantic  float64
	Category  category.Category
	UpdatedAt time.Time
}

// Score computes raw lexical (TF-IDF) and semantic (cosine) scores for
// every indexed entry matching the filter that has any affinity to the
// query. Normalization and blending are the search engine's job.
func (ix *Indexer) Score(queryTerms []string, queryVec []float32, f Filter) []RawScore {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := float64(len(ix.docs))
	uniq := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		uniq[t] = true
	}

	var out []RawScore
	for id, d := range ix.docs {
		if f.Category != "" && d.category != f.Category {
			continue
		}
		if !hasAllTags(d.tags, f.Tags) {
			continue
		}

		var lex float64
		for term := range uniq {
			tf, ok := d.terms[term]
			if !ok {
				continue
			}
			df := float64(len(ix.postings[term]))
			idf := math.Log(1 + n/(1+df))
			lex += float64(tf) * idf
		}

		sem := cosine(queryVec, d.vector)
		if sem < 0 {
			sem = 0
		}

		if lex == 0 && sem == 0 {
			continue
		}
		out = append(out, RawScore{
			EntryID:   id,
			Lexical:   lex,
			Semantic:  sem,
			Category:  d.category,
			UpdatedAt: d.updatedAt,
		})
	}
	return out
}

func hasAllTags(have map[string]bool, want []string) bool {
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func embedText(e *store.Entry) string {
	return e.Title + "\n" + e.Content
}
