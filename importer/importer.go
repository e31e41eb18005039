// Package importer turns legal documents into knowledge entries. Each
// supported format has an extractor producing entry drafts; the
// importer classifies, tags and persists them.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/classify"
	"github.com/junyiz/lawkb/store"
)

// Draft is one entry candidate extracted from a document. Fields the
// extractor leaves empty are filled in during import.
type Draft struct {
	Title    string
	Content  string
	Category category.Category
	Tags     []string
	Source   string
}

// Extractor pulls entry drafts out of one document format.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Draft, error)
	SupportedFormats() []string
}

// Registry maps file extensions to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a registry with the built-in extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, e := range []Extractor{
		&TextExtractor{},
		&CSVExtractor{},
		&PDFExtractor{},
		&DOCXExtractor{},
		&HTMLExtractor{},
		&XLSXExtractor{},
	} {
		for _, f := range e.SupportedFormats() {
			r.extractors[f] = e
		}
	}
	return r
}

// Register overrides or adds the extractor for a format.
func (r *Registry) Register(format string, e Extractor) {
	r.extractors[strings.ToLower(format)] = e
}

// Get returns the extractor for a format.
func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for format %q", store.ErrValidation, format)
	}
	return e, nil
}

// Formats lists the supported file extensions.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.extractors))
	for f := range r.extractors {
		out = append(out, f)
	}
	return out
}

// Importer extracts documents into the knowledge store.
type Importer struct {
	registry   *Registry
	store      *store.Store
	classifier *classify.Classifier
}

// New creates an importer writing to s. The classifier fills in the
// category of drafts whose extractor could not determine one.
func New(s *store.Store, c *classify.Classifier) *Importer {
	return &Importer{registry: NewRegistry(), store: s, classifier: c}
}

// Registry exposes the format registry for custom extractors.
func (im *Importer) Registry() *Registry { return im.registry }

// Result summarizes one import run.
type Result struct {
	Created []store.Entry `json:"created"`
	Skipped int           `json:"skipped"`
}

// ImportFile extracts path and persists every usable draft. Drafts with
// no content are skipped, not failed.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	extractor, err := im.registry.Get(ext)
	if err != nil {
		return nil, err
	}

	drafts, err := extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
	}
	return im.importDrafts(ctx, path, drafts)
}

func (im *Importer) importDrafts(ctx context.Context, path string, drafts []Draft) (*Result, error) {
	res := &Result{}
	for _, d := range drafts {
		d.Title = strings.TrimSpace(d.Title)
		d.Content = strings.TrimSpace(d.Content)
		if d.Content == "" {
			res.Skipped++
			continue
		}
		if d.Title == "" {
			d.Title = draftTitle(d.Content, path)
		}
		d.Title = truncateRunes(d.Title, store.MaxTitleLen)
		d.Content = truncateRunes(d.Content, store.MaxContentLen)
		if d.Source == "" {
			d.Source = filepath.Base(path)
		}
		if !category.Valid(d.Category) {
			d.Category = im.resolveCategory(d.Title + "\n" + d.Content)
		}
		if d.Category == "" {
			res.Skipped++
			slog.Warn("skipping draft with no resolvable category",
				"file", filepath.Base(path), "title", d.Title)
			continue
		}
		d.Tags = mergeTags(d.Tags, autoTags(d.Content))

		entry, err := im.store.CreateEntry(ctx, store.Entry{
			Title:    d.Title,
			Content:  d.Content,
			Category: d.Category,
			Tags:     d.Tags,
			Source:   d.Source,
		})
		if err != nil {
			return nil, fmt.Errorf("creating entry %q: %w", d.Title, err)
		}
		res.Created = append(res.Created, *entry)
	}
	slog.Info("import finished",
		"file", filepath.Base(path), "created", len(res.Created), "skipped", res.Skipped)
	return res, nil
}

// resolveCategory classifies the draft text. Entries require a taxonomy
// category, so an unclassifiable draft resolves to empty.
func (im *Importer) resolveCategory(text string) category.Category {
	res, err := im.classifier.Classify(truncateRunes(text, 2000))
	if err != nil || !category.Valid(res.Category) {
		return ""
	}
	return res.Category
}

// categoryFromCell accepts either the taxonomy identifier or the
// Chinese display name.
func categoryFromCell(s string) category.Category {
	s = strings.TrimSpace(s)
	if c := category.Category(strings.ToLower(s)); category.Valid(c) {
		return c
	}
	for _, info := range category.All() {
		if info.Name == s {
			return info.ID
		}
	}
	return ""
}

// draftTitle uses the first line of the content, falling back to the
// file name.
func draftTitle(content, path string) string {
	line, _, _ := strings.Cut(content, "\n")
	line = strings.TrimSpace(line)
	if line != "" {
		return truncateRunes(line, 80)
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// autoTags collects the classifier vocabulary terms the content
// mentions, bounded so hand-written tags keep room.
func autoTags(content string) []string {
	var tags []string
	for _, info := range category.All() {
		for _, term := range classify.Terms(info.ID) {
			if len(tags) >= 5 {
				return tags
			}
			if strings.Contains(content, term) {
				tags = append(tags, term)
			}
		}
	}
	return tags
}

func mergeTags(explicit, auto []string) []string {
	seen := make(map[string]bool, len(explicit))
	out := make([]string, 0, len(explicit)+len(auto))
	for _, t := range explicit {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range auto {
		if len(out) >= store.MaxTags {
			break
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
