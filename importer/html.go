package importer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLExtractor pulls the readable text out of an HTML page. Script,
// style and navigation chrome are dropped; the page title or first h1
// becomes the draft title.
type HTMLExtractor struct{}

func (e *HTMLExtractor) SupportedFormats() []string { return []string{"html", "htm"} }

func (e *HTMLExtractor) Extract(ctx context.Context, path string) ([]Draft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening HTML: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find("script, style, nav, header, footer, aside").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	root.Find("h1, h2, h3, h4, p, li, td, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Skip container nodes whose text only repeats their children.
		if s.Children().Filter("p, li, blockquote").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	})

	content := strings.TrimSpace(b.String())
	if content == "" {
		// Pages without block markup still carry text.
		content = strings.TrimSpace(root.Text())
	}
	if content == "" {
		return nil, nil
	}
	return []Draft{{Title: title, Content: content}}, nil
}
