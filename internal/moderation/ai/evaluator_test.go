package ai

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/aicache"
	"github.com/Significant-Gravitas/AutoModerate/pkg/config"
)

type fakeProvider struct {
	name       string
	configured bool
	calls      atomic.Int64
	respond    func(call int64) (Verdict, error)
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Analyze(_ context.Context, _, _ string) (Verdict, error) {
	return f.respond(f.calls.Add(1))
}

func alwaysVerdict(v Verdict) func(int64) (Verdict, error) {
	return func(int64) (Verdict, error) { return v, nil }
}

func alwaysError(err error) func(int64) (Verdict, error) {
	return func(int64) (Verdict, error) { return Verdict{}, err }
}

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		ContextWindow:        400000,
		MaxOutputTokens:      128000,
		ReservedPromptTokens: 2000,
		AttemptTimeout:       time.Second,
		MaxAttempts:          3,
		RetryBaseDelay:       time.Millisecond,
		RetryMaxDelay:        5 * time.Millisecond,
		MaxConcurrentCalls:   4,
	}
}

func aiRule(id string) moderation.Rule {
	return moderation.Rule{
		ID:     id,
		Name:   "toxicity check",
		Kind:   moderation.RuleAIPrompt,
		Config: moderation.RuleConfig{Prompt: "reject toxic content"},
		Action: moderation.ActionReject,
	}
}

func newTestEvaluator(primary, fallback Provider) (*Evaluator, *aicache.Memory) {
	cache := aicache.NewMemory(64, time.Minute)
	return NewEvaluator(testAIConfig(), cache, primary, fallback, nil), cache
}

func TestEvaluateRejectionAppliesRuleAction(t *testing.T) {
	primary := &fakeProvider{name: "openai", configured: true, respond: alwaysVerdict(Verdict{
		Decision:   moderation.DecisionRejected,
		Confidence: 0.9,
		Reason:     "toxic",
		Provider:   "openai",
	})}
	e, _ := newTestEvaluator(primary, nil)

	out := e.Evaluate(context.Background(), "some nasty text", aiRule("r1"))
	if out.Decision != moderation.DecisionRejected {
		t.Fatalf("decision = %s, want rejected", out.Decision)
	}
	if out.Confidence != 0.9 || out.Evaluator != moderation.EvaluatorAI || out.RuleID != "r1" {
		t.Errorf("outcome fields wrong: %+v", out)
	}
	if primary.calls.Load() != 1 {
		t.Errorf("expected one provider call, got %d", primary.calls.Load())
	}
}

func TestEvaluateApprovedMeansNoMatch(t *testing.T) {
	primary := &fakeProvider{name: "openai", configured: true, respond: alwaysVerdict(Verdict{
		Decision:   moderation.DecisionApproved,
		Confidence: 0.95,
		Reason:     "clean",
	})}
	e, _ := newTestEvaluator(primary, nil)

	out := e.Evaluate(context.Background(), "perfectly fine", aiRule("r1"))
	if out.Decision != moderation.DecisionNoMatch {
		t.Errorf("passing content must yield no_match, got %s", out.Decision)
	}
}

func TestEvaluateServesSecondCallFromCache(t *testing.T) {
	primary := &fakeProvider{name: "openai", configured: true, respond: alwaysVerdict(Verdict{
		Decision:   moderation.DecisionRejected,
		Confidence: 0.9,
		Reason:     "toxic",
	})}
	e, _ := newTestEvaluator(primary, nil)
	ctx := context.Background()

	first := e.Evaluate(ctx, "repeat offender", aiRule("r1"))
	second := e.Evaluate(ctx, "repeat offender", aiRule("r1"))

	if primary.calls.Load() != 1 {
		t.Fatalf("second evaluation must not call the provider, got %d calls", primary.calls.Load())
	}
	if second.Decision != first.Decision || second.Confidence != first.Confidence {
		t.Errorf("cached outcome differs: %+v vs %+v", second, first)
	}

	// A different rule over the same content is a different cache key.
	e.Evaluate(ctx, "repeat offender", aiRule("r2"))
	if primary.calls.Load() != 2 {
		t.Errorf("different rule must miss the cache, got %d calls", primary.calls.Load())
	}
}

func TestEvaluateFallsBackAfterPrimaryExhaustion(t *testing.T) {
	primary := &fakeProvider{name: "openai", configured: true,
		respond: alwaysError(&ProviderError{Provider: "openai", Retryable: true, Err: context.DeadlineExceeded})}
	fallback := &fakeProvider{name: "openrouter", configured: true, respond: alwaysVerdict(Verdict{
		Decision:   moderation.DecisionRejected,
		Confidence: 0.8,
		Reason:     "policy violation",
		Provider:   "openrouter",
	})}
	e, _ := newTestEvaluator(primary, fallback)

	out := e.Evaluate(context.Background(), "borderline text", aiRule("r1"))
	if out.Decision != moderation.DecisionRejected {
		t.Fatalf("decision = %s, want rejected from fallback", out.Decision)
	}
	if out.Confidence != 0.8 {
		t.Errorf("confidence = %v, want fallback's 0.8", out.Confidence)
	}
	if primary.calls.Load() != 3 {
		t.Errorf("primary should be retried 3 times, got %d", primary.calls.Load())
	}
	if fallback.calls.Load() != 1 {
		t.Errorf("fallback gets exactly one attempt, got %d", fallback.calls.Load())
	}
	if !strings.Contains(out.Reason, "fallback") {
		t.Errorf("reason %q should mark that the fallback answered", out.Reason)
	}
}

func TestEvaluatePermanentErrorSkipsRetries(t *testing.T) {
	primary := &fakeProvider{name: "openai", configured: true,
		respond: alwaysError(&ProviderError{Provider: "openai", Status: 401, Retryable: false, Err: context.Canceled})}
	fallback := &fakeProvider{name: "openrouter", configured: true, respond: alwaysVerdict(Verdict{
		Decision:   moderation.DecisionApproved,
		Confidence: 0.9,
	})}
	e, _ := newTestEvaluator(primary, fallback)

	e.Evaluate(context.Background(), "anything", aiRule("r1"))
	if primary.calls.Load() != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", primary.calls.Load())
	}
	if fallback.calls.Load() != 1 {
		t.Errorf("fallback should still be consulted, got %d calls", fallback.calls.Load())
	}
}

func TestEvaluateBothProvidersExhausted(t *testing.T) {
	boom := &ProviderError{Provider: "openai", Retryable: true, Err: context.DeadlineExceeded}
	primary := &fakeProvider{name: "openai", configured: true, respond: alwaysError(boom)}
	fallback := &fakeProvider{name: "openrouter", configured: true,
		respond: alwaysError(&ProviderError{Provider: "openrouter", Status: 502, Retryable: true, Err: context.DeadlineExceeded})}
	e, _ := newTestEvaluator(primary, fallback)
	ctx := context.Background()

	out := e.Evaluate(ctx, "anything", aiRule("r1"))
	if out.Decision != moderation.DecisionNoMatch {
		t.Fatalf("exhausted evaluation must report no_match, got %s", out.Decision)
	}
	if out.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", out.Confidence)
	}
	if !strings.Contains(out.Reason, "evaluator_unavailable") {
		t.Errorf("reason %q must carry the unavailability marker", out.Reason)
	}

	// Failure outcomes are never cached: a retry once providers recover
	// must go out again.
	e.Evaluate(ctx, "anything", aiRule("r1"))
	if fallback.calls.Load() != 2 {
		t.Errorf("unavailable outcome was cached; fallback calls = %d, want 2", fallback.calls.Load())
	}
}

func TestEvaluateWithoutConfiguredFallback(t *testing.T) {
	primary := &fakeProvider{name: "openai", configured: true,
		respond: alwaysError(&ProviderError{Provider: "openai", Retryable: true, Err: context.DeadlineExceeded})}
	fallback := &fakeProvider{name: "openrouter", configured: false,
		respond: alwaysVerdict(Verdict{Decision: moderation.DecisionRejected})}
	e, _ := newTestEvaluator(primary, fallback)

	out := e.Evaluate(context.Background(), "anything", aiRule("r1"))
	if out.Decision != moderation.DecisionNoMatch {
		t.Fatalf("expected no_match, got %s", out.Decision)
	}
	if fallback.calls.Load() != 0 {
		t.Error("unconfigured fallback must never be called")
	}
}
