package classify

import (
	"errors"
	"testing"

	"github.com/junyiz/lawkb/category"
)

func TestClassify(t *testing.T) {
	c := New(0)

	cases := []struct {
		name     string
		question string
		want     category.Category
	}{
		{"labor", "公司没有签劳动合同就辞退我，可以申请劳动仲裁吗？", category.LaborLaw},
		{"civil", "房屋买卖合同一方违约，如何主张赔偿？", category.CivilLaw},
		{"criminal", "盗窃多少金额会被判刑？", category.CriminalLaw},
		{"commercial", "公司破产清算时股东需要承担什么责任？", category.CommercialLaw},
		{"ip", "我的商标被别人抢注了怎么办？", category.IntellectualProperty},
		{"admin", "对行政处罚决定不服如何申请行政复议？", category.AdministrativeLaw},
		{"unrelated", "今天天气怎么样？", category.Uncategorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Classify(tc.question)
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if got.Category != tc.want {
				t.Fatalf("Classify(%q) = %s (%.2f), want %s",
					tc.question, got.Category, got.Confidence, tc.want)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Fatalf("confidence out of range: %f", got.Confidence)
			}
		})
	}
}

func TestClassifyEmpty(t *testing.T) {
	c := New(0)
	if _, err := c.Classify("   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(0)
	q := "劳动合同到期不续签有经济补偿吗？"

	first, err := c.Classify(q)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		got, err := c.Classify(q)
		if err != nil {
			t.Fatal(err)
		}
		if got.Category != first.Category || got.Confidence != first.Confidence {
			t.Fatalf("classification changed between runs: %+v vs %+v", first, got)
		}
	}
}

func TestClassifyThreshold(t *testing.T) {
	// An absurdly high threshold forces everything to uncategorized.
	c := New(0.99)
	got, err := c.Classify("劳动合同纠纷")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != category.Uncategorized {
		t.Fatalf("expected uncategorized below threshold, got %s", got.Category)
	}
	if got.Confidence <= 0 {
		t.Fatal("expected the raw confidence to be preserved")
	}
}

func TestClassifyUncategorizedZeroConfidence(t *testing.T) {
	c := New(0)
	got, err := c.Classify("hello world")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != category.Uncategorized || got.Confidence != 0 {
		t.Fatalf("expected uncategorized with zero confidence, got %+v", got)
	}
}
