package compose

import (
	"strings"

	"github.com/junyiz/lawkb/tokenize"
)

// snippetMaxLen is the approximate maximum rune length for a snippet.
const snippetMaxLen = 200

// relevantSnippet returns the 1-2 sentences of content that overlap the
// question the most, measured on shared index terms. Returns "" when no
// sentence shares a term with the question.
func relevantSnippet(content, question string) string {
	questionTerms := termSet(question)
	if len(questionTerms) == 0 || content == "" {
		return ""
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return ""
	}

	scores := make([]int, len(sentences))
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		overlap := 0
		for term := range termSet(s) {
			if questionTerms[term] {
				overlap++
			}
		}
		scores[i] = overlap
		if overlap > bestScore {
			bestScore, bestIdx = overlap, i
		}
	}
	if bestScore == 0 {
		return ""
	}

	result := sentences[bestIdx]

	// Append the stronger adjacent sentence when it still fits.
	adjIdx, adjScore := -1, 0
	for _, delta := range []int{1, -1} {
		if j := bestIdx + delta; j >= 0 && j < len(sentences) && scores[j] > adjScore {
			adjScore, adjIdx = scores[j], j
		}
	}
	if adjIdx >= 0 && adjScore > 0 {
		combined := result + sentences[adjIdx]
		if adjIdx < bestIdx {
			combined = sentences[adjIdx] + result
		}
		if len([]rune(combined)) <= snippetMaxLen {
			result = combined
		}
	}

	return truncateRunes(result, snippetMaxLen)
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize.Tokenize(text) {
		set[t] = true
	}
	return set
}

// splitSentences cuts text at Chinese and Latin sentence punctuation.
func splitSentences(text string) []string {
	var (
		sentences []string
		cur       strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}
	for _, r := range text {
		cur.WriteRune(r)
		switch r {
		case '。', '！', '？', '；', '.', '!', '?', ';', '\n':
			flush()
		}
	}
	flush()
	return sentences
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "……"
}
