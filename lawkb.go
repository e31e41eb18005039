// Package lawkb is a legal knowledge base with AI-assisted
// consultation: versioned knowledge entries, a typed relation graph,
// blended lexical/semantic retrieval, question classification and a
// consultation pipeline with a persistent log.
package lawkb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/classify"
	"github.com/junyiz/lawkb/compose"
	"github.com/junyiz/lawkb/graph"
	"github.com/junyiz/lawkb/index"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/search"
	"github.com/junyiz/lawkb/store"
)

// Input bounds for the consultation surface.
const (
	MaxQuestionLen = 2000
	MaxContextLen  = 4000
	MaxAnalyzeLen  = 20000
)

// Engine is the main entry point for the legal knowledge base.
type Engine interface {
	// Consult runs one question through the classify -> retrieve ->
	// compose pipeline and logs the outcome.
	Consult(ctx context.Context, req ConsultRequest) (*ConsultResult, error)

	// BatchConsult processes several questions with bounded
	// concurrency. One failing item never aborts its siblings.
	BatchConsult(ctx context.Context, req BatchConsultRequest) (*BatchConsultResult, error)

	// Analyze classifies a legal document and triages its risk level
	// against the knowledge base.
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error)

	// Consultations pages through the consultation log.
	Consultations(ctx context.Context, userID string, skip, limit int) ([]store.Consultation, error)

	// SearchKnowledge runs a blended search over active entries.
	SearchKnowledge(ctx context.Context, req SearchRequest) ([]SearchHit, error)

	// Store exposes the persistence layer for entry and relation CRUD.
	Store() *store.Store

	// Graph exposes relation traversal.
	Graph() *graph.Graph

	// Indexer exposes the search index, mainly for Sync in tests and
	// admin tooling.
	Indexer() *index.Indexer

	// Close cleanly shuts down the engine.
	Close() error
}

// ConsultRequest is one consultation question.
type ConsultRequest struct {
	Question string            `json:"question"`
	Context  string            `json:"context,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
	Category category.Category `json:"category,omitempty"` // overrides the classifier
}

// Citation is one knowledge entry backing an answer.
type Citation struct {
	EntryID int64   `json:"entry_id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
}

// ConsultResult is a completed consultation.
type ConsultResult struct {
	ConsultationID       int64             `json:"consultation_id"`
	Answer               string            `json:"answer"`
	Category             category.Category `json:"category"`
	ClassifierCategory   category.Category `json:"classifier_category"`
	ClassifierConfidence float64           `json:"classifier_confidence"`
	Confidence           float64           `json:"confidence"`
	Sources              []Citation        `json:"sources"`
	Model                string            `json:"model"`
}

// BatchConsultRequest is a batch of questions.
type BatchConsultRequest struct {
	BatchID   string   `json:"batch_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Questions []string `json:"questions"`
}

// BatchItem is the outcome of one question in a batch.
type BatchItem struct {
	Index          int               `json:"index"`
	Question       string            `json:"question"`
	ConsultationID int64             `json:"consultation_id,omitempty"`
	Status         string            `json:"status"`
	Answer         string            `json:"answer,omitempty"`
	Category       category.Category `json:"category,omitempty"`
	Confidence     float64           `json:"confidence,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// BatchConsultResult is the aggregate outcome of a batch.
type BatchConsultResult struct {
	BatchID   string      `json:"batch_id"`
	Items     []BatchItem `json:"items"`
	Completed int         `json:"completed"`
	Failed    int         `json:"failed"`
}

// AnalyzeRequest asks for a risk triage of a legal text.
type AnalyzeRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// AnalyzeResult is a document risk triage.
type AnalyzeResult struct {
	Category        category.Category `json:"category"`
	RiskLevel       string            `json:"risk_level"` // low, medium, high
	RiskFactors     []string          `json:"risk_factors,omitempty"`
	Recommendations []string          `json:"recommendations"`
	Analysis        string            `json:"analysis"`
	Related         []Citation        `json:"related"`
}

// SearchRequest is a knowledge search call.
type SearchRequest struct {
	Query    string            `json:"query"`
	Category category.Category `json:"category,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// SearchHit is one search result hydrated with its entry summary.
type SearchHit struct {
	EntryID  int64             `json:"entry_id"`
	Title    string            `json:"title"`
	Category category.Category `json:"category"`
	Tags     []string          `json:"tags"`
	Source   string            `json:"source,omitempty"`
	Score    float64           `json:"score"`
	Lexical  float64           `json:"lexical_score"`
	Semantic float64           `json:"semantic_score"`
}

type engine struct {
	cfg        Config
	store      *store.Store
	indexer    *index.Indexer
	searcher   *search.Engine
	classifier *classify.Classifier
	composer   *compose.Composer
	relations  *graph.Graph
}

// New creates an engine from configuration. With the default config it
// runs fully local: hashing embedder and extractive composition.
func New(cfg Config) (Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 256
	}

	embedder, err := llm.NewEmbedder(cfg.Embedding, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	var chat llm.Provider
	if cfg.Chat.Provider != "" {
		chat, err = llm.NewProvider(cfg.Chat)
		if err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}

	return NewWithProviders(cfg, chat, embedder)
}

// NewWithProviders creates an engine with explicit model backends.
// Exposed so tests and embedders can inject stubs.
func NewWithProviders(cfg Config, chat llm.Provider, embedder llm.Embedder) (Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 256
	}
	if cfg.ConsultTimeout <= 0 {
		cfg.ConsultTimeout = 30 * time.Second
	}
	if cfg.MaxCitations <= 0 {
		cfg.MaxCitations = 5
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 20
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ix := index.New(s, embedder, cfg.IndexQueueSize)
	s.SetNotifier(ix.Notify)
	if err := ix.Rebuild(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("building index: %w", err)
	}
	ix.Start()

	return &engine{
		cfg:     cfg,
		store:   s,
		indexer: ix,
		searcher: search.New(ix, embedder, search.Config{
			WeightLexical:  cfg.WeightLexical,
			WeightSemantic: cfg.WeightSemantic,
		}),
		classifier: classify.New(cfg.MinClassifyConfidence),
		composer: compose.New(chat, compose.Config{
			Model: cfg.Chat.Model,
		}),
		relations: graph.New(s),
	}, nil
}

func (e *engine) Store() *store.Store     { return e.store }
func (e *engine) Graph() *graph.Graph     { return e.relations }
func (e *engine) Indexer() *index.Indexer { return e.indexer }

func (e *engine) Close() error {
	e.indexer.Close()
	return e.store.Close()
}

// Consult implements the consultation state machine. The record is
// persisted up front so even invalid or timed-out requests leave a
// failed row in the log.
func (e *engine) Consult(ctx context.Context, req ConsultRequest) (*ConsultResult, error) {
	question := strings.TrimSpace(req.Question)

	id, err := e.store.InsertConsultation(ctx, store.Consultation{
		UserID:   req.UserID,
		Question: question,
		Context:  req.Context,
		Category: req.Category,
	})
	if err != nil {
		return nil, fmt.Errorf("recording consultation: %w", err)
	}

	if err := validateConsult(question, req); err != nil {
		return nil, e.failConsult(ctx, id, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConsultTimeout)
	defer cancel()

	started := time.Now()
	res, err := e.consult(ctx, id, question, req)
	if err != nil {
		return nil, e.failConsult(ctx, id, err)
	}
	slog.Info("consultation completed",
		"id", id,
		"category", res.Category,
		"sources", len(res.Sources),
		"confidence", res.Confidence,
		"elapsed", time.Since(started),
	)
	return res, nil
}

func (e *engine) consult(ctx context.Context, id int64, question string, req ConsultRequest) (*ConsultResult, error) {
	cls, err := e.classifier.Classify(question)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	resolved := cls.Category
	if req.Category != "" {
		resolved = req.Category
	}

	// Retrieval softly prefers the resolved category so strong matches
	// from other domains still surface.
	opts := search.Options{Limit: e.cfg.MaxCitations}
	if category.Valid(resolved) {
		opts.BoostCategory = resolved
		opts.BoostWeight = e.cfg.CategoryBoost
	}
	var hits []search.Result
	if err := e.withRetry(ctx, "retrieve", func() error {
		var rerr error
		hits, rerr = e.searcher.Search(ctx, question, opts)
		return rerr
	}); err != nil {
		return nil, fmt.Errorf("retrieving knowledge: %w", err)
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.EntryID
	}
	entries, err := e.store.EntriesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading cited entries: %w", err)
	}

	var out *compose.Output
	if err := e.withRetry(ctx, "compose", func() error {
		var cerr error
		out, cerr = e.composer.Compose(ctx, compose.Input{
			Question: question,
			Context:  req.Context,
			Category: resolved,
			Entries:  entries,
		})
		return cerr
	}); err != nil {
		return nil, err
	}

	confidence := consultConfidence(cls.Confidence, hits)
	citations := make([]Citation, len(entries))
	for i, en := range entries {
		citations[i] = Citation{EntryID: en.ID, Title: en.Title, Score: hits[i].Score}
	}

	// The outcome write must land even when the caller gives up right
	// after composition finished.
	pctx := context.WithoutCancel(ctx)
	if err := e.store.CompleteConsultation(pctx, id, store.ConsultationOutcome{
		Category:             resolved,
		ClassifierCategory:   cls.Category,
		ClassifierConfidence: cls.Confidence,
		Answer:               out.Answer,
		Confidence:           confidence,
		Sources:              ids,
	}); err != nil {
		return nil, fmt.Errorf("persisting consultation: %w", err)
	}

	return &ConsultResult{
		ConsultationID:       id,
		Answer:               out.Answer,
		Category:             resolved,
		ClassifierCategory:   cls.Category,
		ClassifierConfidence: cls.Confidence,
		Confidence:           confidence,
		Sources:              citations,
		Model:                out.Model,
	}, nil
}

// BatchConsult fans the questions out over a bounded worker pool. The
// batch itself only fails on invalid shape; item failures are isolated
// into their slots.
func (e *engine) BatchConsult(ctx context.Context, req BatchConsultRequest) (*BatchConsultResult, error) {
	if len(req.Questions) == 0 {
		return nil, fmt.Errorf("%w: batch has no questions", ErrValidation)
	}
	if len(req.Questions) > e.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch exceeds %d questions", ErrValidation, e.cfg.MaxBatchSize)
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	items := make([]BatchItem, len(req.Questions))
	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, q := range req.Questions {
		g.Go(func() error {
			item := BatchItem{Index: i, Question: q}
			res, err := e.Consult(ctx, ConsultRequest{Question: q, UserID: req.UserID})
			if err != nil {
				item.Status = store.StatusFailed
				item.Error = err.Error()
			} else {
				item.ConsultationID = res.ConsultationID
				item.Status = store.StatusCompleted
				item.Answer = res.Answer
				item.Category = res.Category
				item.Confidence = res.Confidence
			}
			items[i] = item
			return nil
		})
	}
	g.Wait()

	out := &BatchConsultResult{BatchID: batchID, Items: items}
	for _, it := range items {
		if it.Status == store.StatusCompleted {
			out.Completed++
		} else {
			out.Failed++
		}
	}
	slog.Info("batch consultation finished",
		"batch", batchID, "completed", out.Completed, "failed", out.Failed)
	return out, nil
}

// Analyze triages a legal text: classify it, surface the closest
// knowledge entries and flag risk-bearing language.
func (e *engine) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if utf8.RuneCountInString(text) > MaxAnalyzeLen {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrValidation, MaxAnalyzeLen)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConsultTimeout)
	defer cancel()

	cls, err := e.classifier.Classify(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	opts := search.Options{Limit: e.cfg.MaxCitations}
	if category.Valid(cls.Category) {
		opts.BoostCategory = cls.Category
		opts.BoostWeight = e.cfg.CategoryBoost
	}
	hits, err := e.searcher.Search(ctx, truncateRunes(text, search.MaxQueryLen), opts)
	if err != nil {
		return nil, fmt.Errorf("retrieving related knowledge: %w", err)
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.EntryID
	}
	entries, err := e.store.EntriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out, err := e.composer.Compose(ctx, compose.Input{
		Question: "请分析以下法律文本的要点与风险：" + truncateRunes(text, 200),
		Category: cls.Category,
		Entries:  entries,
	})
	if err != nil {
		return nil, err
	}

	level, factors := assessRisk(text)
	related := make([]Citation, len(entries))
	for i, en := range entries {
		related[i] = Citation{EntryID: en.ID, Title: en.Title, Score: hits[i].Score}
	}
	return &AnalyzeResult{
		Category:        cls.Category,
		RiskLevel:       level,
		RiskFactors:     factors,
		Recommendations: recommendations(level, factors),
		Analysis:        out.Answer,
		Related:         related,
	}, nil
}

func (e *engine) Consultations(ctx context.Context, userID string, skip, limit int) ([]store.Consultation, error) {
	return e.store.ListConsultations(ctx, userID, skip, limit)
}

func (e *engine) SearchKnowledge(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	results, err := e.searcher.Search(ctx, req.Query, search.Options{
		Limit:    req.Limit,
		Category: req.Category,
		Tags:     req.Tags,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.EntryID
	}
	entries, err := e.store.EntriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(entries))
	for i, en := range entries {
		hits[i] = SearchHit{
			EntryID:  en.ID,
			Title:    en.Title,
			Category: en.Category,
			Tags:     en.Tags,
			Source:   en.Source,
			Score:    results[i].Score,
			Lexical:  results[i].Lexical,
			Semantic: results[i].Semantic,
		}
	}
	return hits, nil
}

// --- helpers ---

func validateConsult(question string, req ConsultRequest) error {
	if question == "" {
		return fmt.Errorf("%w: question is required", ErrValidation)
	}
	if utf8.RuneCountInString(question) > MaxQuestionLen {
		return fmt.Errorf("%w: question exceeds %d characters", ErrValidation, MaxQuestionLen)
	}
	if utf8.RuneCountInString(req.Context) > MaxContextLen {
		return fmt.Errorf("%w: context exceeds %d characters", ErrValidation, MaxContextLen)
	}
	if req.Category != "" && !category.ValidOrUncategorized(req.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, req.Category)
	}
	return nil
}

// failConsult records the terminal failure and maps deadline errors to
// the timeout sentinel. The log write must not be lost to the very
// cancellation it reports.
func (e *engine) failConsult(ctx context.Context, id int64, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	pctx := context.WithoutCancel(ctx)
	if ferr := e.store.FailConsultation(pctx, id, err.Error()); ferr != nil {
		slog.Error("persisting consultation failure", "id", id, "error", ferr)
	}
	return err
}

// withRetry re-attempts transient stage failures with exponential
// backoff. Validation errors and context expiry are final.
func (e *engine) withRetry(ctx context.Context, stage string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= e.cfg.ConsultRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * 200 * time.Millisecond
			slog.Warn("retrying consultation stage",
				"stage", stage, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrValidation) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// consultConfidence blends classifier certainty with the relevance of
// the citations, clamped to [0, 1]. No citations means low confidence
// but never a failure.
func consultConfidence(classifierConfidence float64, hits []search.Result) float64 {
	var mean float64
	if len(hits) > 0 {
		for _, h := range hits {
			mean += clamp01(h.Score)
		}
		mean /= float64(len(hits))
	}
	return clamp01(0.5*classifierConfidence + 0.5*mean)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Risk term lists for document triage. High terms individually escalate;
// medium terms escalate in aggregate.
var (
	highRiskTerms = []string{
		"刑事", "犯罪", "逮捕", "拘留", "强制执行", "查封", "吊销", "欺诈",
	}
	mediumRiskTerms = []string{
		"违约", "诉讼", "仲裁", "处罚", "赔偿", "解除合同", "拖欠", "侵权",
	}
)

func assessRisk(text string) (string, []string) {
	var factors []string
	high := false
	for _, term := range highRiskTerms {
		if strings.Contains(text, term) {
			factors = append(factors, term)
			high = true
		}
	}
	mediumHits := 0
	for _, term := range mediumRiskTerms {
		if strings.Contains(text, term) {
			factors = append(factors, term)
			mediumHits++
		}
	}
	switch {
	case high || mediumHits >= 3:
		return "high", factors
	case mediumHits > 0:
		return "medium", factors
	default:
		return "low", factors
	}
}

func recommendations(level string, factors []string) []string {
	recs := []string{"建议就具体情况咨询执业律师，获取正式法律意见。"}
	switch level {
	case "high":
		recs = append(recs,
			"文本涉及高风险法律事项，建议立即进行专项法律审查。",
			"妥善保存相关合同、往来函件和交易凭证等证据材料。")
	case "medium":
		recs = append(recs, "建议对涉及风险的条款进行逐项核查并评估应对方案。")
	default:
		recs = append(recs, "未发现明显风险点，建议在签署或正式使用前做常规合规审查。")
	}
	if len(factors) > 0 {
		recs = append(recs, "重点关注以下风险点："+strings.Join(factors, "、")+"。")
	}
	return recs
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
