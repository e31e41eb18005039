//go:build cgo

package lawkb

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/store"
)

const testDim = 64

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "lawkb.db")
	cfg.EmbeddingDim = testDim
	return cfg
}

func newTestEngine(t *testing.T, chat llm.Provider) Engine {
	t.Helper()
	cfg := testConfig(t)
	eng, err := NewWithProviders(cfg, chat, llm.NewLocalEmbedder(testDim))
	if err != nil {
		t.Fatalf("NewWithProviders: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func seedEntries(t *testing.T, eng Engine) {
	t.Helper()
	ctx := context.Background()
	entries := []store.Entry{
		{
			Title:    "劳动合同解除的经济补偿",
			Content:  "用人单位解除劳动合同，应当按照劳动者在本单位工作的年限，每满一年支付一个月工资的经济补偿。劳动合同、劳动合同、经济补偿是劳动争议的核心问题。",
			Category: category.LaborLaw,
			Tags:     []string{"劳动合同", "经济补偿"},
			Source:   "劳动合同法第四十七条",
		},
		{
			Title:    "买卖合同的标的物风险",
			Content:  "标的物毁损、灭失的风险，在标的物交付之前由出卖人承担，交付之后由买受人承担。",
			Category: category.CivilLaw,
			Tags:     []string{"买卖合同", "风险负担"},
			Source:   "民法典第六百零四条",
		},
		{
			Title:    "盗窃罪的立案标准",
			Content:  "盗窃公私财物价值一千元至三千元以上的，应当认定为刑法规定的数额较大，构成盗窃罪。",
			Category: category.CriminalLaw,
			Tags:     []string{"盗窃罪"},
			Source:   "刑法第二百六十四条",
		},
	}
	for _, e := range entries {
		if _, err := eng.Store().CreateEntry(ctx, e); err != nil {
			t.Fatalf("CreateEntry(%q): %v", e.Title, err)
		}
	}
	if err := eng.Indexer().Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestConsultEmptyStore(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := eng.Consult(ctx, ConsultRequest{Question: "劳动合同解除有什么补偿？"})
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if res.Answer == "" {
		t.Error("expected a non-empty answer even with no knowledge")
	}
	if len(res.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(res.Sources))
	}
	if res.Confidence > 0.5 {
		t.Errorf("confidence = %v, want <= 0.5 without citations", res.Confidence)
	}

	rec, err := eng.Store().GetConsultation(ctx, res.ConsultationID)
	if err != nil {
		t.Fatalf("GetConsultation: %v", err)
	}
	if rec.Status != store.StatusCompleted {
		t.Errorf("status = %q, want %q", rec.Status, store.StatusCompleted)
	}
}

func TestConsultCitesSources(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedEntries(t, eng)
	ctx := context.Background()

	res, err := eng.Consult(ctx, ConsultRequest{
		Question: "用人单位解除劳动合同需要支付经济补偿吗？",
		UserID:   "u1",
	})
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if res.Category != category.LaborLaw {
		t.Errorf("category = %q, want %q", res.Category, category.LaborLaw)
	}
	if len(res.Sources) == 0 {
		t.Fatal("expected at least one source")
	}
	if res.Sources[0].Title != "劳动合同解除的经济补偿" {
		t.Errorf("top source = %q, want the labor entry", res.Sources[0].Title)
	}
	if !strings.Contains(res.Answer, "劳动合同解除的经济补偿") {
		t.Errorf("answer does not cite the top source:\n%s", res.Answer)
	}
	if res.Model != "extractive" {
		t.Errorf("model = %q, want extractive", res.Model)
	}

	rec, err := eng.Store().GetConsultation(ctx, res.ConsultationID)
	if err != nil {
		t.Fatalf("GetConsultation: %v", err)
	}
	if rec.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if len(rec.Sources) != len(res.Sources) {
		t.Errorf("persisted %d sources, result has %d", len(rec.Sources), len(res.Sources))
	}
	if rec.UserID != "u1" {
		t.Errorf("user_id = %q, want u1", rec.UserID)
	}
}

func TestConsultInvalidInputLeavesFailedRecord(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := eng.Consult(ctx, ConsultRequest{Question: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	recs, err := eng.Consultations(ctx, "", 0, 10)
	if err != nil {
		t.Fatalf("Consultations: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", recs[0].Status)
	}
	if recs[0].Error == "" {
		t.Error("expected a failure reason on the record")
	}
}

func TestConsultUnknownCategory(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.Consult(context.Background(), ConsultRequest{
		Question: "合同问题",
		Category: "tax_law",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestConsultCategoryOverride(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedEntries(t, eng)

	res, err := eng.Consult(context.Background(), ConsultRequest{
		Question: "用人单位解除劳动合同需要支付经济补偿吗？",
		Category: category.CriminalLaw,
	})
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if res.Category != category.CriminalLaw {
		t.Errorf("category = %q, want the override", res.Category)
	}
	if res.ClassifierCategory != category.LaborLaw {
		t.Errorf("classifier category = %q, want %q", res.ClassifierCategory, category.LaborLaw)
	}
}

func TestBatchConsult(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedEntries(t, eng)
	ctx := context.Background()

	res, err := eng.BatchConsult(ctx, BatchConsultRequest{
		UserID: "u1",
		Questions: []string{
			"劳动合同解除的经济补偿标准是什么？",
			"   ",
			"盗窃多少金额构成犯罪？",
		},
	})
	if err != nil {
		t.Fatalf("BatchConsult: %v", err)
	}
	if res.BatchID == "" {
		t.Error("expected a generated batch id")
	}
	if res.Completed != 2 || res.Failed != 1 {
		t.Fatalf("completed/failed = %d/%d, want 2/1", res.Completed, res.Failed)
	}
	if res.Items[1].Status != store.StatusFailed {
		t.Errorf("item 1 status = %q, want failed", res.Items[1].Status)
	}
	if res.Items[1].Error == "" {
		t.Error("failed item should carry its error")
	}
	for _, i := range []int{0, 2} {
		if res.Items[i].Status != store.StatusCompleted {
			t.Errorf("item %d status = %q, want completed", i, res.Items[i].Status)
		}
		if res.Items[i].Answer == "" {
			t.Errorf("item %d has no answer", i)
		}
	}
	if res.Items[0].Index != 0 || res.Items[2].Index != 2 {
		t.Error("items not in request order")
	}
}

func TestBatchConsultValidation(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := eng.BatchConsult(ctx, BatchConsultRequest{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty batch err = %v, want ErrValidation", err)
	}

	qs := make([]string, 21)
	for i := range qs {
		qs[i] = "问题"
	}
	if _, err := eng.BatchConsult(ctx, BatchConsultRequest{Questions: qs}); !errors.Is(err, ErrValidation) {
		t.Errorf("oversize batch err = %v, want ErrValidation", err)
	}
}

// slowProvider blocks until its delay elapses or the context expires.
type slowProvider struct {
	delay time.Duration
}

func (p *slowProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	select {
	case <-time.After(p.delay):
		return &llm.ChatResponse{Content: "好的。", Model: "slow"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestConsultTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConsultTimeout = 100 * time.Millisecond
	cfg.ConsultRetries = 0
	eng, err := NewWithProviders(cfg, &slowProvider{delay: 5 * time.Second}, llm.NewLocalEmbedder(testDim))
	if err != nil {
		t.Fatalf("NewWithProviders: %v", err)
	}
	defer eng.Close()
	ctx := context.Background()

	_, err = eng.Consult(ctx, ConsultRequest{Question: "合同纠纷如何处理？"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	recs, err := eng.Consultations(ctx, "", 0, 1)
	if err != nil {
		t.Fatalf("Consultations: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != store.StatusFailed {
		t.Fatalf("expected one failed record, got %+v", recs)
	}
}

// markedSlowProvider stalls only on questions carrying the marker, so
// one slow item can be observed next to fast siblings.
type markedSlowProvider struct {
	marker string
	delay  time.Duration
}

func (p *markedSlowProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, p.marker) {
			select {
			case <-time.After(p.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			break
		}
	}
	return &llm.ChatResponse{Content: "好的。", Model: "stub"}, nil
}

func TestBatchTimeoutIsolation(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConsultTimeout = 200 * time.Millisecond
	cfg.ConsultRetries = 0
	chat := &markedSlowProvider{marker: "超慢标记", delay: 5 * time.Second}
	eng, err := NewWithProviders(cfg, chat, llm.NewLocalEmbedder(testDim))
	if err != nil {
		t.Fatalf("NewWithProviders: %v", err)
	}
	defer eng.Close()

	res, err := eng.BatchConsult(context.Background(), BatchConsultRequest{
		Questions: []string{"合同问题", "超慢标记问题", "劳动问题"},
	})
	if err != nil {
		t.Fatalf("BatchConsult: %v", err)
	}
	if res.Completed != 2 || res.Failed != 1 {
		t.Fatalf("completed/failed = %d/%d, want 2/1", res.Completed, res.Failed)
	}
	if res.Items[1].Status != store.StatusFailed {
		t.Errorf("slow item status = %q, want failed", res.Items[1].Status)
	}
	if !strings.Contains(res.Items[1].Error, "deadline") {
		t.Errorf("slow item error = %q, want a deadline error", res.Items[1].Error)
	}
}

func TestAnalyze(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedEntries(t, eng)
	ctx := context.Background()

	res, err := eng.Analyze(ctx, AnalyzeRequest{
		Text: "乙方连续拖欠货款，甲方有权解除合同并追究违约责任，必要时提起诉讼并申请强制执行。",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.RiskLevel != "high" {
		t.Errorf("risk = %q, want high", res.RiskLevel)
	}
	if len(res.RiskFactors) == 0 {
		t.Error("expected risk factors")
	}
	if res.Analysis == "" {
		t.Error("expected a non-empty analysis")
	}
	if len(res.Recommendations) == 0 {
		t.Error("expected recommendations")
	}

	if _, err := eng.Analyze(ctx, AnalyzeRequest{Text: "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty text err = %v, want ErrValidation", err)
	}
}

func TestAnalyzeLowRisk(t *testing.T) {
	eng := newTestEngine(t, nil)

	res, err := eng.Analyze(context.Background(), AnalyzeRequest{
		Text: "双方本着平等自愿的原则签订本合作协议，共同推进项目实施。",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.RiskLevel != "low" {
		t.Errorf("risk = %q, want low", res.RiskLevel)
	}
}

func TestSearchKnowledge(t *testing.T) {
	eng := newTestEngine(t, nil)
	seedEntries(t, eng)
	ctx := context.Background()

	hits, err := eng.SearchKnowledge(ctx, SearchRequest{Query: "劳动合同 经济补偿"})
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Title != "劳动合同解除的经济补偿" {
		t.Errorf("top hit = %q", hits[0].Title)
	}
	if hits[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", hits[0].Score)
	}

	hits, err = eng.SearchKnowledge(ctx, SearchRequest{
		Query:    "合同",
		Category: category.CivilLaw,
	})
	if err != nil {
		t.Fatalf("SearchKnowledge with filter: %v", err)
	}
	for _, h := range hits {
		if h.Category != category.CivilLaw {
			t.Errorf("hit %q escaped the category filter", h.Title)
		}
	}

	if _, err := eng.SearchKnowledge(ctx, SearchRequest{Query: ""}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty query err = %v, want ErrValidation", err)
	}
}

func TestConsultationsPaging(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.Consult(ctx, ConsultRequest{Question: "合同问题", UserID: "u1"}); err != nil {
			t.Fatalf("Consult %d: %v", i, err)
		}
	}
	if _, err := eng.Consult(ctx, ConsultRequest{Question: "合同问题", UserID: "u2"}); err != nil {
		t.Fatalf("Consult: %v", err)
	}

	recs, err := eng.Consultations(ctx, "u1", 0, 2)
	if err != nil {
		t.Fatalf("Consultations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.UserID != "u1" {
			t.Errorf("record for %q leaked into u1 page", r.UserID)
		}
	}
}
