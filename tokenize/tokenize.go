// Package tokenize turns mixed Chinese/Latin legal text into index
// terms. SQLite's unicode61 tokenizer cannot segment CJK text, so the
// lexical index is built on character bigrams instead: every pair of
// adjacent Han characters becomes a term, which is the standard trick
// for substring-free CJK retrieval.
package tokenize

import (
	"strings"
	"unicode"
)

// Tokenize returns the terms of text, duplicates preserved so callers
// can count term frequencies. Latin/digit runs become lowercased word
// terms, CJK runs become character bigrams (or a single character for
// one-character runs).
func Tokenize(text string) []string {
	var (
		terms []string
		word  []rune
		cjk   []rune
	)

	flushWord := func() {
		if len(word) > 0 {
			terms = append(terms, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 1:
			terms = append(terms, string(cjk))
		case len(cjk) > 1:
			for i := 0; i+1 < len(cjk); i++ {
				terms = append(terms, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return terms
}

// TermFreqs folds the token stream into term counts.
func TermFreqs(text string) map[string]int {
	tf := make(map[string]int)
	for _, t := range Tokenize(text) {
		tf[t]++
	}
	return tf
}
