package aicache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

func sampleOutcome(ruleID string) moderation.EvaluationOutcome {
	return moderation.EvaluationOutcome{
		Decision:   moderation.DecisionRejected,
		Confidence: 0.9,
		Reason:     "test verdict",
		Evaluator:  moderation.EvaluatorAI,
		RuleID:     ruleID,
	}
}

func TestKeyIsStableAndDistinct(t *testing.T) {
	a := Key("rule-1", "some content")
	b := Key("rule-1", "some content")
	if a != b {
		t.Error("identical inputs must produce identical keys")
	}
	if len(a) != 32 {
		t.Errorf("expected 128-bit hex key (32 chars), got %d", len(a))
	}

	if Key("rule-2", "some content") == a {
		t.Error("different rule ids must produce different keys")
	}
	if Key("rule-1", "other content") == a {
		t.Error("different content must produce different keys")
	}
	// The separator keeps (rule, content) pairs unambiguous.
	if Key("rule", "1content") == Key("rule1", "content") {
		t.Error("key must not be ambiguous across the rule/content boundary")
	}
}

func TestMemoryGetPut(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(16, time.Minute)

	key := Key("rule-1", "content")
	if _, ok := cache.Get(ctx, key); ok {
		t.Fatal("empty cache returned a hit")
	}

	cache.Put(ctx, key, sampleOutcome("rule-1"))
	out, ok := cache.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if out.Decision != moderation.DecisionRejected || out.RuleID != "rule-1" {
		t.Errorf("cached outcome corrupted: %+v", out)
	}

	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = (%d hits, %d misses), want (1, 1)", hits, misses)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(16, 20*time.Millisecond)

	key := Key("rule-1", "content")
	cache.Put(ctx, key, sampleOutcome("rule-1"))
	if _, ok := cache.Get(ctx, key); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := cache.Get(ctx, key); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestMemoryFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(16, time.Minute)

	for i := 0; i < 4; i++ {
		cache.Put(ctx, Key("rule-1", fmt.Sprintf("content-%d", i)), sampleOutcome("rule-1"))
	}
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache holds %d entries after flush", cache.Len())
	}
	if _, ok := cache.Get(ctx, Key("rule-1", "content-0")); ok {
		t.Error("flushed entry still served")
	}
}

func TestMemoryBoundedSize(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory(8, time.Minute)

	for i := 0; i < 100; i++ {
		key := Key("rule-1", fmt.Sprintf("content-%d", i))
		cache.Put(ctx, key, sampleOutcome("rule-1"))
	}
	if cache.Len() > 8 {
		t.Errorf("cache holds %d entries, bound is 8", cache.Len())
	}

	// The most recent insert must still be present.
	latest := Key("rule-1", "content-99")
	if _, ok := cache.Get(ctx, latest); !ok {
		t.Error("most recent entry was evicted")
	}
}
