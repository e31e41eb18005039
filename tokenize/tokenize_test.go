package tokenize

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"latin words", "Labor Contract 2024", []string{"labor", "contract", "2024"}},
		{"cjk bigrams", "劳动合同", []string{"劳动", "动合", "合同"}},
		{"single cjk char", "法", []string{"法"}},
		{"mixed", "第39条 la bor法律", []string{"第", "39", "条", "la", "bor", "法律"}},
		{"punctuation splits runs", "合同，纠纷", []string{"合同", "纠纷"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTermFreqs(t *testing.T) {
	tf := TermFreqs("合同合同")
	// 合同合同 -> bigrams 合同, 同合, 合同
	if tf["合同"] != 2 {
		t.Fatalf("expected 合同 twice, got %v", tf)
	}
	if tf["同合"] != 1 {
		t.Fatalf("expected 同合 once, got %v", tf)
	}
}
