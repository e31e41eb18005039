// Package eval measures the consultation pipeline against labeled
// question sets: classification accuracy, retrieval hit rate and answer
// fact coverage.
package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/junyiz/lawkb/category"
)

// Dataset is a collection of labeled evaluation questions.
type Dataset struct {
	Name  string     `json:"name"`
	Tests []TestCase `json:"tests"`
}

// TestCase is one labeled question. ExpectedFacts use pipe-separated
// alternatives ("经济补偿|补偿金") so phrasing variants still score.
type TestCase struct {
	Question         string            `json:"question"`
	ExpectedCategory category.Category `json:"expected_category"`
	ExpectedFacts    []string          `json:"expected_facts,omitempty"`
	ExpectedSources  []string          `json:"expected_sources,omitempty"` // title substrings
}

// LoadDataset reads a dataset from a JSON file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if len(d.Tests) == 0 {
		return nil, fmt.Errorf("dataset %s has no tests", path)
	}
	return &d, nil
}

// SeedDataset returns questions answerable from the starter knowledge
// entries, for smoke evaluation of a freshly seeded engine.
func SeedDataset() Dataset {
	return Dataset{
		Name: "seed-knowledge",
		Tests: []TestCase{
			{
				Question:         "用人单位解除劳动合同需要支付经济补偿吗？",
				ExpectedCategory: category.LaborLaw,
				ExpectedFacts:    []string{"经济补偿|补偿"},
				ExpectedSources:  []string{"劳动争议"},
			},
			{
				Question:         "合同没有书面形式还成立吗？",
				ExpectedCategory: category.CivilLaw,
				ExpectedFacts:    []string{"合同"},
				ExpectedSources:  []string{"合同"},
			},
			{
				Question:         "犯罪未遂如何处罚？",
				ExpectedCategory: category.CriminalLaw,
				ExpectedFacts:    []string{"刑|处罚"},
			},
			{
				Question:         "对行政处罚不服怎么提起行政诉讼？",
				ExpectedCategory: category.AdministrativeLaw,
				ExpectedFacts:    []string{"行政"},
				ExpectedSources:  []string{"行政诉讼"},
			},
			{
				Question:         "劳动仲裁的申请时效是多久？",
				ExpectedCategory: category.LaborLaw,
				ExpectedFacts:    []string{"劳动"},
			},
			{
				Question:         "今天晚饭吃什么好？",
				ExpectedCategory: category.Uncategorized,
			},
		},
	}
}
