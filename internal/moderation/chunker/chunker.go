// Package chunker splits oversized content into chunks that fit the AI
// provider's context window. Token counts are estimated rather than exact;
// the budget carries enough slack that the estimate only needs to be
// roughly right.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// EstimateTokens approximates the token count of s as one token per four
// bytes, rounded up. Deterministic for identical input.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// Chunker splits text by sentence boundaries into chunks at or under a
// token budget.
type Chunker struct {
	budget int
}

// New creates a Chunker with the given per-chunk token budget.
func New(budget int) *Chunker {
	if budget < 1 {
		budget = 1
	}
	return &Chunker{budget: budget}
}

// Budget returns the per-chunk token budget.
func (c *Chunker) Budget() int {
	return c.budget
}

// Split breaks text into chunks that each fit the token budget. Content
// already within budget comes back as a single chunk equal to the input.
// Otherwise the text is cut at sentence boundaries, packing sentences
// greedily; a single sentence over budget is hard-split at the byte
// positions corresponding to the budget. Output is deterministic and
// identical inputs always produce identical chunks.
func (c *Chunker) Split(text string) []string {
	if EstimateTokens(text) <= c.budget {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, sentence := range splitSentences(text) {
		if EstimateTokens(sentence) > c.budget {
			flush()
			chunks = append(chunks, c.hardSplit(sentence)...)
			continue
		}
		if current.Len() > 0 && EstimateTokens(current.String())+1+EstimateTokens(sentence) > c.budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()
	return chunks
}

// hardSplit cuts a single oversized sentence into budget-sized byte slices.
// Cuts back off to the nearest rune start so no chunk carries a torn
// multi-byte character.
func (c *Chunker) hardSplit(s string) []string {
	maxBytes := c.budget * 4
	var parts []string
	for len(s) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			// Invalid UTF-8 with no rune start in range; cut raw.
			cut = maxBytes
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// splitSentences cuts text at terminal punctuation followed by whitespace.
// Trailing whitespace between sentences is dropped; the sentence keeps its
// terminator.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		s := strings.TrimSpace(string(runes[start:]))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
