package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/junyiz/lawkb"
)

// Evaluator runs labeled question sets against a lawkb engine.
type Evaluator struct {
	engine lawkb.Engine
}

// New creates an evaluator.
func New(engine lawkb.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// TestResult is the scored outcome of one test case.
type TestResult struct {
	Question         string  `json:"question"`
	Category         string  `json:"category"`
	ExpectedCategory string  `json:"expected_category"`
	CategoryCorrect  bool    `json:"category_correct"`
	FactCoverage     float64 `json:"fact_coverage"`
	SourceHit        bool    `json:"source_hit"`
	SourceRank       int     `json:"source_rank,omitempty"` // 1-based, 0 = miss
	Confidence       float64 `json:"confidence"`
	Error            string  `json:"error,omitempty"`
}

// Report aggregates one evaluation run.
type Report struct {
	Dataset           string        `json:"dataset"`
	TotalTests        int           `json:"total_tests"`
	Failures          int           `json:"failures"`
	ClassificationAcc float64       `json:"classification_accuracy"`
	FactCoverage      float64       `json:"fact_coverage"`
	RetrievalHitRate  float64       `json:"retrieval_hit_rate"`
	RetrievalMRR      float64       `json:"retrieval_mrr"`
	MeanConfidence    float64       `json:"mean_confidence"`
	Results           []TestResult  `json:"results,omitempty"`
	RunTime           time.Duration `json:"run_time"`
}

// Run evaluates every test case in order. Consultation errors count as
// failures but do not abort the run.
func (e *Evaluator) Run(ctx context.Context, d Dataset) (*Report, error) {
	if len(d.Tests) == 0 {
		return nil, fmt.Errorf("dataset %q has no tests", d.Name)
	}

	start := time.Now()
	report := &Report{Dataset: d.Name, TotalTests: len(d.Tests)}

	var (
		catCorrect  int
		factSum     float64
		factCases   int
		sourceHits  int
		sourceCases int
		mrrSum      float64
		confSum     float64
		scored      int
	)

	for i, tc := range d.Tests {
		res, err := e.engine.Consult(ctx, lawkb.ConsultRequest{
			Question: tc.Question,
			UserID:   "eval",
		})
		tr := TestResult{
			Question:         tc.Question,
			ExpectedCategory: string(tc.ExpectedCategory),
		}
		if err != nil {
			tr.Error = err.Error()
			report.Failures++
			report.Results = append(report.Results, tr)
			slog.Warn("eval consultation failed", "index", i, "error", err)
			continue
		}
		scored++
		confSum += res.Confidence

		tr.Category = string(res.Category)
		tr.Confidence = res.Confidence
		tr.CategoryCorrect = res.Category == tc.ExpectedCategory
		if tr.CategoryCorrect {
			catCorrect++
		}

		if len(tc.ExpectedFacts) > 0 {
			tr.FactCoverage = factCoverage(res.Answer, tc.ExpectedFacts)
			factSum += tr.FactCoverage
			factCases++
		}

		if len(tc.ExpectedSources) > 0 {
			sourceCases++
			tr.SourceRank = sourceRank(res, tc.ExpectedSources)
			if tr.SourceRank > 0 {
				tr.SourceHit = true
				sourceHits++
				mrrSum += 1 / float64(tr.SourceRank)
			}
		}
		report.Results = append(report.Results, tr)
	}

	if scored > 0 {
		report.ClassificationAcc = float64(catCorrect) / float64(scored)
		report.MeanConfidence = confSum / float64(scored)
	}
	if factCases > 0 {
		report.FactCoverage = factSum / float64(factCases)
	}
	if sourceCases > 0 {
		report.RetrievalHitRate = float64(sourceHits) / float64(sourceCases)
		report.RetrievalMRR = mrrSum / float64(sourceCases)
	}
	report.RunTime = time.Since(start)

	slog.Info("evaluation finished",
		"dataset", d.Name,
		"tests", report.TotalTests,
		"classification_accuracy", report.ClassificationAcc,
		"retrieval_hit_rate", report.RetrievalHitRate,
		"elapsed", report.RunTime,
	)
	return report, nil
}

// factCoverage scores how many expected facts the answer mentions. Each
// fact is a set of pipe-separated alternatives; any one counts.
func factCoverage(answer string, facts []string) float64 {
	if answer == "" {
		return 0
	}
	covered := 0
	for _, fact := range facts {
		for _, alt := range strings.Split(fact, "|") {
			if alt != "" && strings.Contains(answer, alt) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(facts))
}

// sourceRank returns the 1-based rank of the first citation whose title
// contains any expected substring, or 0 on a miss.
func sourceRank(res *lawkb.ConsultResult, expected []string) int {
	for i, src := range res.Sources {
		for _, want := range expected {
			if strings.Contains(src.Title, want) {
				return i + 1
			}
		}
	}
	return 0
}
