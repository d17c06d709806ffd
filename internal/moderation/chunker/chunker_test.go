package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%d bytes) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestSplitIdentityUnderBudget(t *testing.T) {
	c := New(100)
	content := "Short text. Nothing to split here."
	chunks := c.Split(content)
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	if chunks[0] != content {
		t.Errorf("identity case must return the original content unchanged")
	}
}

func TestSplitRespectsSentenceBoundaries(t *testing.T) {
	// Each sentence is 10 tokens (40 bytes incl. terminator); budget of 25
	// tokens fits two sentences per chunk.
	sentence := strings.Repeat("word ", 7) + "end."
	text := strings.Join([]string{sentence, sentence, sentence, sentence}, " ")
	c := New(25)

	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if EstimateTokens(chunk) > 25 {
			t.Errorf("chunk %d exceeds budget: %d tokens", i, EstimateTokens(chunk))
		}
		if !strings.HasSuffix(chunk, "end.") {
			t.Errorf("chunk %d does not end at a sentence boundary: %q", i, chunk[len(chunk)-20:])
		}
	}
}

func TestSplitHardSplitsOversizedSentence(t *testing.T) {
	// One sentence with no terminal punctuation until the very end, far
	// over budget.
	text := strings.Repeat("a", 1000) + "."
	c := New(50)

	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected hard split, got %d chunks", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if EstimateTokens(chunk) > 50 {
			t.Errorf("chunk %d exceeds budget: %d tokens", i, EstimateTokens(chunk))
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != text {
		t.Error("hard split must preserve all content bytes")
	}
}

func TestSplitKeepsRunesIntact(t *testing.T) {
	// 3-byte runes: a budget of 50 tokens puts the raw byte cut at 200,
	// which lands inside a rune unless the cut backs off.
	text := strings.Repeat("誰", 300) + "."
	c := New(50)

	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected hard split, got %d chunks", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d contains a torn rune", i)
		}
		if EstimateTokens(chunk) > 50 {
			t.Errorf("chunk %d exceeds budget: %d tokens", i, EstimateTokens(chunk))
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != text {
		t.Error("split must preserve all content bytes")
	}
}

func TestSplitDeterministic(t *testing.T) {
	sentences := make([]string, 200)
	for i := range sentences {
		sentences[i] = strings.Repeat("token ", 10) + "done."
	}
	text := strings.Join(sentences, " ")
	c := New(60)

	first := c.Split(text)
	second := c.Split(text)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitLargeContentProducesEnoughChunks(t *testing.T) {
	// 50k estimated tokens against a 12k budget needs at least 4 chunks.
	sentence := strings.Repeat("filler words in a sentence ", 10) + "end. "
	var b strings.Builder
	for EstimateTokens(b.String()) < 50000 {
		b.WriteString(sentence)
	}
	c := New(12000)

	chunks := c.Split(b.String())
	if len(chunks) < 4 {
		t.Errorf("expected >= 4 chunks for 50k tokens at 12k budget, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if EstimateTokens(chunk) > 12000 {
			t.Errorf("chunk %d exceeds budget: %d tokens", i, EstimateTokens(chunk))
		}
	}
}

func TestSplitNeverReturnsEmpty(t *testing.T) {
	c := New(10)
	for _, text := range []string{"", "   ", "one short sentence."} {
		chunks := c.Split(text)
		if len(chunks) == 0 {
			t.Errorf("Split(%q) returned no chunks", text)
		}
	}
}
