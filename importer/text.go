package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// TextExtractor handles plain text and markdown files. The whole file
// becomes one draft.
type TextExtractor struct{}

func (e *TextExtractor) SupportedFormats() []string { return []string{"txt", "md"} }

func (e *TextExtractor) Extract(ctx context.Context, path string) ([]Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}

	var title string
	if line, rest, ok := strings.Cut(content, "\n"); ok {
		// A markdown heading or a short first line doubles as the title.
		trimmed := strings.TrimSpace(strings.TrimLeft(line, "# "))
		if trimmed != "" && len([]rune(trimmed)) <= 80 {
			title = trimmed
			content = strings.TrimSpace(rest)
		}
	}
	if content == "" {
		return nil, nil
	}
	return []Draft{{Title: title, Content: content}}, nil
}

// CSVExtractor handles column-structured knowledge files. The header
// row names the fields; each following row becomes one draft.
type CSVExtractor struct{}

func (e *CSVExtractor) SupportedFormats() []string { return []string{"csv"} }

func (e *CSVExtractor) Extract(ctx context.Context, path string) ([]Draft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}
	return draftsFromTable(records[0], records[1:]), nil
}

// draftsFromTable maps header-named columns onto draft fields. Shared
// with the XLSX extractor.
func draftsFromTable(header []string, rows [][]string) []Draft {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	titleCol, hasTitle := tableColumn(cols, "title", "标题")
	contentCol, hasContent := tableColumn(cols, "content", "内容", "正文")
	if !hasTitle || !hasContent {
		return nil
	}
	categoryCol, _ := tableColumn(cols, "category", "分类", "类别")
	tagsCol, hasTags := tableColumn(cols, "tags", "标签")
	sourceCol, hasSource := tableColumn(cols, "source", "来源", "出处")

	var drafts []Draft
	for _, row := range rows {
		d := Draft{
			Title:   cell(row, titleCol),
			Content: cell(row, contentCol),
		}
		if d.Content == "" {
			continue
		}
		if c := cell(row, categoryCol); c != "" {
			d.Category = categoryFromCell(c)
		}
		if hasTags {
			for _, t := range strings.FieldsFunc(cell(row, tagsCol), func(r rune) bool {
				return r == ',' || r == ';' || r == '，' || r == '；'
			}) {
				if t = strings.TrimSpace(t); t != "" {
					d.Tags = append(d.Tags, t)
				}
			}
		}
		if hasSource {
			d.Source = cell(row, sourceCol)
		}
		drafts = append(drafts, d)
	}
	return drafts
}

func tableColumn(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return -1, false
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
