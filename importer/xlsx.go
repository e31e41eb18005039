package importer

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXExtractor reads spreadsheet knowledge files. Every sheet is
// expected to carry a header row naming the draft fields; rows of
// sheets without a usable header are ignored.
type XLSXExtractor struct{}

func (e *XLSXExtractor) SupportedFormats() []string { return []string{"xlsx"} }

func (e *XLSXExtractor) Extract(ctx context.Context, path string) ([]Draft, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var drafts []Draft
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) < 2 {
			continue
		}
		drafts = append(drafts, draftsFromTable(rows[0], rows[1:])...)
	}
	return drafts, nil
}
