// Package classify assigns legal questions to a domain category with a
// deterministic bag-of-terms profile per category. Questions no profile
// matches, or that match too weakly, fall back to uncategorized.
package classify

import (
	"errors"
	"sort"
	"strings"

	"github.com/junyiz/lawkb/category"
)

// ErrEmptyQuestion marks classification of blank input.
var ErrEmptyQuestion = errors.New("lawkb: empty question")

// DefaultMinConfidence is the threshold below which the classifier
// falls back to uncategorized.
const DefaultMinConfidence = 0.2

// profiles maps each category to the terms that signal it. A term
// matches as a substring, which handles Chinese text without
// segmentation; Latin terms are matched lowercased.
var profiles = map[category.Category][]string{
	category.CivilLaw: {
		"合同", "侵权", "婚姻", "离婚", "继承", "物权", "债权", "债务",
		"违约", "赔偿", "房产", "租赁", "买卖", "抚养", "遗嘱",
	},
	category.CriminalLaw: {
		"犯罪", "刑罚", "刑法", "刑事", "罪名", "判刑", "盗窃", "诈骗",
		"故意伤害", "自首", "缓刑", "取保候审",
	},
	category.AdministrativeLaw: {
		"行政", "处罚", "许可", "行政复议", "行政诉讼", "政府", "执法",
		"强制措施", "征收", "拆迁",
	},
	category.CommercialLaw: {
		"公司", "股权", "股东", "证券", "破产", "清算", "并购", "董事",
		"注册资本", "营业执照",
	},
	category.LaborLaw: {
		"劳动", "工伤", "社保", "社会保险", "辞退", "解雇", "加班",
		"工资", "劳动仲裁", "试用期", "经济补偿",
	},
	category.IntellectualProperty: {
		"专利", "商标", "著作权", "版权", "商业秘密", "知识产权", "侵权作品",
		"抄袭", "盗版",
	},
	category.InternationalLaw: {
		"国际贸易", "涉外", "跨境", "进出口", "国际仲裁", "外商", "关税",
		"国际条约",
	},
	category.EnvironmentalLaw: {
		"环境污染", "环保", "排污", "生态", "环境影响评价", "噪音", "废水",
		"废气",
	},
}

// Result is a classification outcome. Scores carries the per-category
// raw hit counts for observability.
type Result struct {
	Category   category.Category             `json:"category"`
	Confidence float64                       `json:"confidence"`
	Scores     map[category.Category]float64 `json:"scores,omitempty"`
}

// Classifier scores questions against the category profiles.
type Classifier struct {
	minConfidence float64
}

// New creates a classifier. minConfidence <= 0 selects the default
// threshold.
func New(minConfidence float64) *Classifier {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Classifier{minConfidence: minConfidence}
}

// Classify determines the category of a question. Identical input
// always yields the identical result.
func (c *Classifier) Classify(question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	lower := strings.ToLower(question)

	scores := make(map[category.Category]float64, len(profiles))
	var total float64
	for cat, terms := range profiles {
		var hits float64
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				hits++
			}
		}
		if hits > 0 {
			scores[cat] = hits
			total += hits
		}
	}

	if total == 0 {
		return &Result{Category: category.Uncategorized, Confidence: 0}, nil
	}

	// Deterministic winner: highest score, canonical taxonomy order
	// breaking ties.
	var (
		best     category.Category
		bestHits float64
	)
	for _, info := range category.All() {
		if h := scores[info.ID]; h > bestHits {
			best, bestHits = info.ID, h
		}
	}

	// Confidence combines how dominant the winning category is with how
	// strongly it matched at all, so a single stray keyword in an
	// otherwise unrelated question stays below the threshold.
	share := bestHits / total
	strength := bestHits / (bestHits + 1)
	confidence := share * strength

	if confidence < c.minConfidence {
		return &Result{Category: category.Uncategorized, Confidence: confidence, Scores: scores}, nil
	}
	return &Result{Category: best, Confidence: confidence, Scores: scores}, nil
}

// Terms returns the profile terms of a category, sorted. Exposed for
// the tag extraction used by the importer.
func Terms(cat category.Category) []string {
	terms := append([]string(nil), profiles[cat]...)
	sort.Strings(terms)
	return terms
}
