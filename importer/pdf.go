package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor extracts the text of a PDF. Chapter headings split the
// document into one draft per chapter; documents without recognizable
// headings become a single draft.
type PDFExtractor struct{}

func (e *PDFExtractor) SupportedFormats() []string { return []string{"pdf"} }

func (e *PDFExtractor) Extract(ctx context.Context, path string) ([]Draft, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to extract are skipped
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return nil, nil
	}
	return splitByHeadings(content), nil
}

// splitByHeadings breaks text at statute-style chapter lines. The text
// before the first heading, if any, stays with the first draft's title
// left to the importer.
func splitByHeadings(text string) []Draft {
	lines := strings.Split(text, "\n")
	var drafts []Draft
	var current strings.Builder
	var heading string

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			drafts = append(drafts, Draft{Title: heading, Content: content})
		}
		current.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isChapterHeading(trimmed) {
			flush()
			heading = trimmed
			continue
		}
		current.WriteString(trimmed)
		current.WriteString("\n")
	}
	flush()

	if len(drafts) == 0 {
		return nil
	}
	return drafts
}

// isChapterHeading matches short lines like 第一章 总则 or 第二编 物权.
func isChapterHeading(line string) bool {
	runes := []rune(line)
	if len(runes) < 3 || len(runes) > 30 || runes[0] != '第' {
		return false
	}
	limit := min(len(runes), 6)
	for i := 1; i < limit; i++ {
		if runes[i] == '章' || runes[i] == '编' {
			return true
		}
	}
	return false
}
