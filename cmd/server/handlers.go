package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/junyiz/lawkb"
	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/classify"
	"github.com/junyiz/lawkb/graph"
	"github.com/junyiz/lawkb/importer"
	"github.com/junyiz/lawkb/store"
)

type handler struct {
	engine   lawkb.Engine
	importer *importer.Importer
}

func newHandler(e lawkb.Engine) *handler {
	return &handler{
		engine:   e,
		importer: importer.New(e.Store(), classify.New(0)),
	}
}

func (h *handler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /knowledge", h.handleCreateEntry)
	mux.HandleFunc("GET /knowledge", h.handleListEntries)
	mux.HandleFunc("GET /knowledge/stats", h.handleStats)
	mux.HandleFunc("GET /knowledge/categories", h.handleCategories)
	mux.HandleFunc("POST /knowledge/search", h.handleSearch)
	mux.HandleFunc("POST /knowledge/import", h.handleImport)
	mux.HandleFunc("GET /knowledge/{id}", h.handleGetEntry)
	mux.HandleFunc("PUT /knowledge/{id}", h.handleUpdateEntry)
	mux.HandleFunc("DELETE /knowledge/{id}", h.handleDeleteEntry)
	mux.HandleFunc("GET /knowledge/{id}/related", h.handleRelated)
	mux.HandleFunc("POST /knowledge/{id}/relations", h.handleAddRelation)
	mux.HandleFunc("GET /knowledge/{id}/relations", h.handleRelations)
	mux.HandleFunc("GET /knowledge/{id}/graph", h.handleGraph)

	mux.HandleFunc("POST /legal-ai/consult", h.handleConsult)
	mux.HandleFunc("POST /legal-ai/batch-consult", h.handleBatchConsult)
	mux.HandleFunc("POST /legal-ai/analyze", h.handleAnalyze)
	mux.HandleFunc("GET /legal-ai/consultations", h.handleListConsultations)
	mux.HandleFunc("GET /legal-ai/consultations/{id}", h.handleGetConsultation)
	mux.HandleFunc("GET /legal-ai/categories", h.handleCategories)
	mux.HandleFunc("GET /legal-ai/status", h.handleStatus)
}

// POST /knowledge
func (h *handler) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req store.Entry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entry, err := h.engine.Store().CreateEntry(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GET /knowledge?category=&skip=&limit=
func (h *handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	cat := category.Category(r.URL.Query().Get("category"))
	if cat != "" && !category.Valid(cat) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", cat))
		return
	}
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 0)

	entries, err := h.engine.Store().ListEntries(r.Context(), cat, skip, limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /knowledge/{id}
func (h *handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.engine.Store().GetEntry(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// PUT /knowledge/{id}
// The body carries the expected version for optimistic concurrency.
func (h *handler) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		ExpectedVersion int64 `json:"expected_version"`
		store.EntryPatch
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entry, err := h.engine.Store().UpdateEntry(r.Context(), id, req.ExpectedVersion, req.EntryPatch)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DELETE /knowledge/{id}
func (h *handler) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Store().DeactivateEntry(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// POST /knowledge/search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req lawkb.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	hits, err := h.engine.SearchKnowledge(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// GET /knowledge/{id}/related?limit=
// Semantic nearest neighbors, distinct from the typed relation edges.
func (h *handler) handleRelated(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	hits, err := h.engine.Store().RelatedByVector(r.Context(), id, queryInt(r, "limit", 10))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"related": hits})
}

// POST /knowledge/{id}/relations
// The path id is the relation source.
func (h *handler) handleAddRelation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req store.Relation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.SourceID = id
	rel, err := h.engine.Graph().AddRelation(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// GET /knowledge/{id}/relations?type=&direction=out|in|both
func (h *handler) handleRelations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	typ := r.URL.Query().Get("type")

	var neighbors []store.Neighbor
	var err error
	switch dir := r.URL.Query().Get("direction"); dir {
	case "", "out":
		neighbors, err = h.engine.Graph().Neighbors(r.Context(), id, typ, true)
	case "in":
		neighbors, err = h.engine.Graph().Neighbors(r.Context(), id, typ, false)
	case "both":
		neighbors, err = h.engine.Graph().Neighbors(r.Context(), id, typ, true)
		if err == nil {
			var in []store.Neighbor
			in, err = h.engine.Graph().Neighbors(r.Context(), id, typ, false)
			neighbors = append(neighbors, in...)
			// Restore the per-direction order over the merged set.
			sort.Slice(neighbors, func(i, j int) bool {
				if neighbors[i].Confidence != neighbors[j].Confidence {
					return neighbors[i].Confidence > neighbors[j].Confidence
				}
				return neighbors[i].EntryID < neighbors[j].EntryID
			})
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown direction %q", dir))
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"neighbors": neighbors})
}

// GET /knowledge/{id}/graph?depth=
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	depth := queryInt(r, "depth", 2)
	nodes, err := h.engine.Graph().TransitiveClosure(r.Context(), id, depth)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start": id,
		"depth": depth,
		"nodes": nodes,
	})
}

// GET /knowledge/stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Store().KnowledgeStats(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /knowledge/import
// Multipart file upload; the format is taken from the file name.
func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload with 'file'")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(header.Filename)
	tmpPath := filepath.Join(os.TempDir(), safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()
	defer os.Remove(tmpPath)

	res, err := h.importer.ImportFile(r.Context(), tmpPath)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filename": safeName,
		"created":  len(res.Created),
		"skipped":  res.Skipped,
		"entries":  res.Created,
	})
}

// POST /legal-ai/consult
func (h *handler) handleConsult(w http.ResponseWriter, r *http.Request) {
	var req lawkb.ConsultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.engine.Consult(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /legal-ai/consult/batch
func (h *handler) handleBatchConsult(w http.ResponseWriter, r *http.Request) {
	var req lawkb.BatchConsultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.engine.BatchConsult(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /legal-ai/analyze
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req lawkb.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := h.engine.Analyze(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /legal-ai/consultations?user_id=&skip=&limit=
func (h *handler) handleListConsultations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Consultations(r.Context(),
		r.URL.Query().Get("user_id"),
		queryInt(r, "skip", 0),
		queryInt(r, "limit", 0),
	)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consultations": recs})
}

// GET /legal-ai/consultations/{id}
func (h *handler) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.Store().GetConsultation(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /legal-ai/categories
func (h *handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": category.All()})
}

// GET /legal-ai/status
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Store().KnowledgeStats(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"indexed":         h.engine.Indexer().Size(),
		"entries":         stats.TotalEntries,
		"relations":       stats.Relations,
		"consultations":   stats.Consultations,
		"max_graph_depth": graph.MaxDepth,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// writeErr maps domain errors onto HTTP status codes. Unexpected errors
// are logged and hidden behind a generic 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lawkb.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lawkb.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lawkb.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lawkb.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
