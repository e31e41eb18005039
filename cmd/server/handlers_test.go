//go:build cgo

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/junyiz/lawkb"
	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/store"
)

func newTestServer(t *testing.T) (*httptest.Server, lawkb.Engine) {
	t.Helper()
	cfg := lawkb.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "lawkb.db")
	cfg.EmbeddingDim = 64
	eng, err := lawkb.NewWithProviders(cfg, nil, llm.NewLocalEmbedder(64))
	if err != nil {
		t.Fatalf("NewWithProviders: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	mux := http.NewServeMux()
	newHandler(eng).register(mux)
	srv := httptest.NewServer(recoveryMiddleware(mux))
	t.Cleanup(srv.Close)
	return srv, eng
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, fields
}

func createEntry(t *testing.T, srv *httptest.Server, e store.Entry) int64 {
	t.Helper()
	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/knowledge", e)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create entry status = %d, body = %v", resp.StatusCode, fields)
	}
	var id int64
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		t.Fatalf("no id in response: %v", err)
	}
	return id
}

func TestEntryCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createEntry(t, srv, store.Entry{
		Title:    "合同成立要件",
		Content:  "当事人意思表示一致时合同成立。",
		Category: category.CivilLaw,
		Tags:     []string{"合同"},
	})

	resp, fields := doJSON(t, http.MethodGet, fmt.Sprintf("%s/knowledge/%d", srv.URL, id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var title string
	json.Unmarshal(fields["title"], &title)
	if title != "合同成立要件" {
		t.Errorf("title = %q", title)
	}

	// Stale version is rejected.
	resp, _ = doJSON(t, http.MethodPut, fmt.Sprintf("%s/knowledge/%d", srv.URL, id), map[string]any{
		"expected_version": 99,
		"title":            "新标题",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("stale update status = %d, want 409", resp.StatusCode)
	}

	resp, fields = doJSON(t, http.MethodPut, fmt.Sprintf("%s/knowledge/%d", srv.URL, id), map[string]any{
		"expected_version": 1,
		"title":            "新标题",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body = %v", resp.StatusCode, fields)
	}
	var version int64
	json.Unmarshal(fields["version"], &version)
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/knowledge/%d", srv.URL, id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/knowledge", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list status = %d", resp.StatusCode)
	}
}

func TestEntryNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/knowledge/12345", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/knowledge/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestValidationStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/knowledge", store.Entry{
		Title:    "",
		Content:  "内容",
		Category: category.CivilLaw,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty title status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/knowledge", store.Entry{
		Title:    "标题",
		Content:  "内容",
		Category: "tax_law",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad category status = %d, want 400", resp.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)

	createEntry(t, srv, store.Entry{
		Title:    "劳动合同解除的经济补偿",
		Content:  "用人单位解除劳动合同，应当向劳动者支付经济补偿。",
		Category: category.LaborLaw,
	})
	if err := eng.Indexer().Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/knowledge/search", lawkb.SearchRequest{
		Query: "劳动合同 经济补偿",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	var hits []lawkb.SearchHit
	if err := json.Unmarshal(fields["results"], &hits); err != nil {
		t.Fatalf("decoding results: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "劳动合同解除的经济补偿" {
		t.Errorf("hits = %+v", hits)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/knowledge/search", lawkb.SearchRequest{Query: ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", resp.StatusCode)
	}
}

func TestRelationEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	a := createEntry(t, srv, store.Entry{
		Title: "民法典合同编", Content: "合同编规定合同的订立、效力与履行。", Category: category.CivilLaw,
	})
	b := createEntry(t, srv, store.Entry{
		Title: "合同纠纷案例", Content: "一起典型的合同纠纷案例分析。", Category: category.CivilLaw,
	})

	resp, _ := doJSON(t, http.MethodPost, fmt.Sprintf("%s/knowledge/%d/relations", srv.URL, b), store.Relation{
		TargetID: a, Type: store.RelationCitation, Confidence: 0.9,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add relation status = %d", resp.StatusCode)
	}

	// Duplicate edge conflicts.
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/knowledge/%d/relations", srv.URL, b), store.Relation{
		TargetID: a, Type: store.RelationCitation, Confidence: 0.5,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate relation status = %d, want 409", resp.StatusCode)
	}

	resp, fields := doJSON(t, http.MethodGet, fmt.Sprintf("%s/knowledge/%d/relations", srv.URL, b), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relations status = %d", resp.StatusCode)
	}
	var neighbors []store.Neighbor
	if err := json.Unmarshal(fields["neighbors"], &neighbors); err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].EntryID != a {
		t.Errorf("neighbors = %+v", neighbors)
	}

	resp, fields = doJSON(t, http.MethodGet, fmt.Sprintf("%s/knowledge/%d/relations?direction=in", srv.URL, a), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("incoming relations status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(fields["neighbors"], &neighbors); err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].EntryID != b {
		t.Errorf("incoming neighbors = %+v", neighbors)
	}

	// direction=both merges the two hops into one confidence-ordered list.
	c := createEntry(t, srv, store.Entry{
		Title: "合同司法解释", Content: "最高人民法院关于合同编的司法解释。", Category: category.CivilLaw,
	})
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/knowledge/%d/relations", srv.URL, c), store.Relation{
		TargetID: b, Type: store.RelationHierarchical, Confidence: 0.95,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add relation status = %d", resp.StatusCode)
	}
	resp, fields = doJSON(t, http.MethodGet, fmt.Sprintf("%s/knowledge/%d/relations?direction=both", srv.URL, b), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("both relations status = %d", resp.StatusCode)
	}
	if err := json.Unmarshal(fields["neighbors"], &neighbors); err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("both neighbors = %+v", neighbors)
	}
	if neighbors[0].EntryID != c || neighbors[1].EntryID != a {
		t.Errorf("both neighbors not ordered by confidence: %+v", neighbors)
	}

	resp, fields = doJSON(t, http.MethodGet, fmt.Sprintf("%s/knowledge/%d/graph?depth=3", srv.URL, b), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("graph status = %d", resp.StatusCode)
	}
	var nodes []json.RawMessage
	if err := json.Unmarshal(fields["nodes"], &nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 {
		t.Errorf("closure size = %d, want 1", len(nodes))
	}

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/knowledge/%d/graph?depth=9", srv.URL, b), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversize depth status = %d, want 400", resp.StatusCode)
	}
}

func TestConsultEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)

	createEntry(t, srv, store.Entry{
		Title:    "劳动合同解除的经济补偿",
		Content:  "用人单位解除劳动合同，应当向劳动者支付经济补偿。",
		Category: category.LaborLaw,
	})
	if err := eng.Indexer().Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/legal-ai/consult", lawkb.ConsultRequest{
		Question: "解除劳动合同有经济补偿吗？",
		UserID:   "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("consult status = %d, body = %v", resp.StatusCode, fields)
	}
	var answer string
	json.Unmarshal(fields["answer"], &answer)
	if answer == "" {
		t.Error("empty answer")
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/legal-ai/consult", lawkb.ConsultRequest{Question: " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty question status = %d, want 400", resp.StatusCode)
	}

	resp, fields = doJSON(t, http.MethodGet, srv.URL+"/legal-ai/consultations?user_id=u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("consultations status = %d", resp.StatusCode)
	}
	var recs []store.Consultation
	if err := json.Unmarshal(fields["consultations"], &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != store.StatusCompleted {
		t.Errorf("records = %+v", recs)
	}
}

func TestBatchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/legal-ai/batch-consult", lawkb.BatchConsultRequest{
		Questions: []string{"合同纠纷怎么处理？", " "},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status = %d", resp.StatusCode)
	}
	var completed, failed int
	json.Unmarshal(fields["completed"], &completed)
	json.Unmarshal(fields["failed"], &failed)
	if completed != 1 || failed != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", completed, failed)
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, fields := doJSON(t, http.MethodGet, srv.URL+"/legal-ai/categories", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var cats []category.Info
	if err := json.Unmarshal(fields["categories"], &cats); err != nil {
		t.Fatal(err)
	}
	if len(cats) != 8 {
		t.Errorf("got %d categories, want 8", len(cats))
	}
}

func TestImportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "note.txt")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("劳动合同解除的补偿规则\n用人单位解除劳动合同，应当向劳动者支付经济补偿。"))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/knowledge/import", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", resp.StatusCode)
	}
	var out struct {
		Created int `json:"created"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Created != 1 {
		t.Errorf("created = %d, want 1", out.Created)
	}
}

func TestAuthMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /knowledge", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
	})
	authed := httptest.NewServer(authMiddleware("secret", mux))
	defer authed.Close()

	resp, err := http.Get(authed.URL + "/knowledge")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, authed.URL+"/knowledge", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(authed.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	srv := httptest.NewServer(logMiddleware(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID header")
	}

	// An inbound id is echoed back unchanged.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, fields := doJSON(t, http.MethodGet, srv.URL+"/legal-ai/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var status string
	json.Unmarshal(fields["status"], &status)
	if status != "ok" {
		t.Errorf("status field = %q", status)
	}
	if !strings.Contains(string(fields["max_graph_depth"]), "5") {
		t.Errorf("max_graph_depth = %s", fields["max_graph_depth"])
	}
}
