//go:build cgo

package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/store"
	"github.com/junyiz/lawkb/tokenize"
)

const testDim = 64

func newTestIndexer(t *testing.T) (*store.Store, *Indexer) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), testDim)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	ix := New(s, llm.NewLocalEmbedder(testDim), 16)
	s.SetNotifier(ix.Notify)
	ix.Start()
	t.Cleanup(func() {
		ix.Close()
		s.Close()
	})
	return s, ix
}

func createEntry(t *testing.T, s *store.Store, title, content string, cat category.Category) *store.Entry {
	t.Helper()
	e, err := s.CreateEntry(context.Background(), store.Entry{
		Title:    title,
		Content:  content,
		Category: cat,
	})
	if err != nil {
		t.Fatalf("creating entry: %v", err)
	}
	return e
}

func TestIndexerIndexesOnCreate(t *testing.T) {
	s, ix := newTestIndexer(t)

	e := createEntry(t, s, "合同纠纷", "买卖合同违约责任的认定。", category.CivilLaw)
	ix.Sync(context.Background())

	if ix.Size() != 1 {
		t.Fatalf("expected 1 indexed doc, got %d", ix.Size())
	}

	scores := ix.Score(tokenize.Tokenize("合同"), nil, Filter{})
	if len(scores) != 1 || scores[0].EntryID != e.ID {
		t.Fatalf("expected entry in index, got %+v", scores)
	}
	if scores[0].Lexical <= 0 {
		t.Fatalf("expected positive lexical score, got %+v", scores[0])
	}
}

func TestIndexerRemovesOnDeactivate(t *testing.T) {
	s, ix := newTestIndexer(t)
	ctx := context.Background()

	e := createEntry(t, s, "合同纠纷", "合同内容。", category.CivilLaw)
	ix.Sync(context.Background())
	if err := s.DeactivateEntry(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	ix.Sync(context.Background())

	if ix.Size() != 0 {
		t.Fatalf("expected empty index, got %d docs", ix.Size())
	}
	// Persisted embedding is gone too.
	vecs, err := s.AllEmbeddings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 0 {
		t.Fatalf("expected no embeddings, got %d", len(vecs))
	}
}

func TestIndexerLastWriteWins(t *testing.T) {
	s, ix := newTestIndexer(t)
	ctx := context.Background()

	e := createEntry(t, s, "旧标题", "旧内容关于仲裁。", category.CivilLaw)
	title, content := "新标题", "新内容关于诉讼程序。"
	if _, err := s.UpdateEntry(ctx, e.ID, 1, store.EntryPatch{Title: &title, Content: &content}); err != nil {
		t.Fatal(err)
	}
	ix.Sync(context.Background())

	old := ix.Score(tokenize.Tokenize("仲裁"), nil, Filter{})
	if len(old) != 0 {
		t.Fatalf("stale terms still indexed: %+v", old)
	}
	cur := ix.Score(tokenize.Tokenize("诉讼"), nil, Filter{})
	if len(cur) != 1 {
		t.Fatalf("expected updated terms indexed, got %+v", cur)
	}

	// A stale notification for an older version must not regress the index.
	ix.Notify(store.Change{EntryID: e.ID, Version: 1})
	ix.Sync(context.Background())
	cur = ix.Score(tokenize.Tokenize("诉讼"), nil, Filter{})
	if len(cur) != 1 {
		t.Fatalf("stale notification regressed the index: %+v", cur)
	}
}

func TestIndexerFilters(t *testing.T) {
	s, ix := newTestIndexer(t)
	ctx := context.Background()

	a := createEntry(t, s, "合同案例", "合同纠纷内容。", category.CivilLaw)
	b, err := s.CreateEntry(ctx, store.Entry{
		Title:    "劳动合同案例",
		Content:  "劳动合同纠纷内容。",
		Category: category.LaborLaw,
		Tags:     []string{"案例", "仲裁"},
	})
	if err != nil {
		t.Fatal(err)
	}
	ix.Sync(context.Background())

	terms := tokenize.Tokenize("合同")

	got := ix.Score(terms, nil, Filter{Category: category.LaborLaw})
	if len(got) != 1 || got[0].EntryID != b.ID {
		t.Fatalf("category filter wrong: %+v", got)
	}

	got = ix.Score(terms, nil, Filter{Tags: []string{"案例", "仲裁"}})
	if len(got) != 1 || got[0].EntryID != b.ID {
		t.Fatalf("tag filter wrong: %+v", got)
	}

	got = ix.Score(terms, nil, Filter{Tags: []string{"不存在"}})
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}

	got = ix.Score(terms, nil, Filter{})
	if len(got) != 2 {
		t.Fatalf("expected both entries, got %+v (a=%d)", got, a.ID)
	}
}

func TestRebuildReusesStoredEmbeddings(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, testDim)
	if err != nil {
		t.Fatal(err)
	}

	ix := New(s, llm.NewLocalEmbedder(testDim), 16)
	s.SetNotifier(ix.Notify)
	ix.Start()
	createEntry(t, s, "合同", "合同内容。", category.CivilLaw)
	ix.Sync(context.Background())
	ix.Close()
	s.Close()

	// Reopen: rebuild must load the persisted embedding without a worker.
	s2, err := store.New(dbPath, testDim)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	ix2 := New(s2, llm.NewLocalEmbedder(testDim), 16)
	if err := ix2.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if ix2.Size() != 1 {
		t.Fatalf("expected 1 doc after rebuild, got %d", ix2.Size())
	}

	scores := ix2.Score(tokenize.Tokenize("合同"), nil, Filter{})
	if len(scores) != 1 || scores[0].Lexical <= 0 {
		t.Fatalf("unexpected scores after rebuild: %+v", scores)
	}
}

func TestSemanticScore(t *testing.T) {
	s, ix := newTestIndexer(t)

	createEntry(t, s, "劳动合同解除", "劳动合同解除与经济补偿。", category.LaborLaw)
	ix.Sync(context.Background())

	emb := llm.NewLocalEmbedder(testDim)
	qvecs, err := emb.Embed(context.Background(), []string{"解除劳动合同补偿"})
	if err != nil {
		t.Fatal(err)
	}

	scores := ix.Score(nil, qvecs[0], Filter{})
	if len(scores) != 1 {
		t.Fatalf("expected semantic-only candidate, got %+v", scores)
	}
	if scores[0].Semantic <= 0 {
		t.Fatalf("expected positive semantic score, got %+v", scores[0])
	}
}
