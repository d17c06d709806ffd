package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/aicache"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/chunker"
	"github.com/Significant-Gravitas/AutoModerate/pkg/config"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/metrics"
	"github.com/Significant-Gravitas/AutoModerate/pkg/resilience"
)

// unavailableReason marks outcomes produced when every provider attempt
// failed. Such outcomes are never cached.
const unavailableReason = "evaluator_unavailable"

// Evaluator runs ai_prompt rules: result cache first, then chunked provider
// calls with retry on the primary and a single fallback attempt. The
// semaphore caps in-flight provider calls process-wide, shared across all
// submissions.
type Evaluator struct {
	cache    aicache.Cache
	chunker  *chunker.Chunker
	primary  Provider
	fallback Provider

	sem     *semaphore.Weighted
	breaker *resilience.CircuitBreaker

	retryCfg       resilience.RetryConfig
	attemptTimeout time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEvaluator wires an Evaluator from config. The metrics handle may be
// nil in tests.
func NewEvaluator(cfg config.AIConfig, cache aicache.Cache, primary, fallback Provider, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		cache:    cache,
		chunker:  chunker.New(cfg.ChunkBudget()),
		primary:  primary,
		fallback: fallback,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		breaker: resilience.NewCircuitBreaker("ai-primary", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		}),
		retryCfg: resilience.RetryConfig{
			MaxAttempts:    cfg.MaxAttempts,
			InitialDelay:   cfg.RetryBaseDelay,
			MaxDelay:       cfg.RetryMaxDelay,
			Multiplier:     2.0,
			JitterFraction: 0.2,
			RetryIf:        Retryable,
		},
		attemptTimeout: cfg.AttemptTimeout,
		metrics:        m,
		logger:         logger.WithComponent("ai-evaluator"),
	}
}

// Evaluate runs one ai_prompt rule against the content and returns an
// outcome. The outcome's decision is the rule's action on a rejection, a
// flag on a flagged verdict, and no_match when the content passes or when
// both providers are exhausted. Identity fields (content id, timestamps)
// are left for the caller to stamp at persist time.
func (e *Evaluator) Evaluate(ctx context.Context, content string, rule moderation.Rule) moderation.EvaluationOutcome {
	start := time.Now()

	key := aicache.Key(rule.ID, content)
	if out, ok := e.cache.Get(ctx, key); ok {
		if e.metrics != nil {
			e.metrics.ResultCacheHits.Inc()
		}
		out.Duration = time.Since(start)
		e.logger.Debug("verdict served from cache", "rule_id", rule.ID)
		return out
	}
	if e.metrics != nil {
		e.metrics.ResultCacheMisses.Inc()
	}

	chunks := e.chunker.Split(content)
	if e.metrics != nil {
		e.metrics.ChunksPerEvaluation.Observe(float64(len(chunks)))
	}

	verdicts := make([]Verdict, 0, len(chunks))
	for _, chunk := range chunks {
		v, err := e.analyzeChunk(ctx, rule.Config.Prompt, chunk)
		if err != nil {
			e.logger.Warn("all providers exhausted for rule",
				"rule_id", rule.ID,
				"chunks_done", len(verdicts),
				"error", err)
			return moderation.EvaluationOutcome{
				Decision:   moderation.DecisionNoMatch,
				Confidence: 0,
				Reason:     fmt.Sprintf("%s: %v", unavailableReason, err),
				Evaluator:  moderation.EvaluatorAI,
				RuleID:     rule.ID,
				RuleName:   rule.Name,
				Duration:   time.Since(start),
			}
		}
		verdicts = append(verdicts, v)
		// A rejected chunk decides the whole item; skip the rest.
		if v.Decision == moderation.DecisionRejected {
			break
		}
	}

	merged := mergeVerdicts(verdicts)
	out := e.toOutcome(merged, rule)
	out.Duration = time.Since(start)

	e.cache.Put(ctx, key, out)
	return out
}

// toOutcome maps a merged provider verdict onto the rule's outcome. An
// approved verdict means the content passed this rule, which is a no-match
// for decision purposes; a rejection applies the rule's configured action.
func (e *Evaluator) toOutcome(v Verdict, rule moderation.Rule) moderation.EvaluationOutcome {
	out := moderation.EvaluationOutcome{
		Confidence: v.Confidence,
		Reason:     v.Reason,
		Evaluator:  moderation.EvaluatorAI,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
	}
	switch v.Decision {
	case moderation.DecisionRejected:
		out.Decision = rule.Action.Decision()
	case moderation.DecisionFlagged:
		out.Decision = moderation.DecisionFlagged
	default:
		out.Decision = moderation.DecisionNoMatch
	}
	if v.Fallback {
		out.Reason = fmt.Sprintf("%s (via fallback provider %s)", out.Reason, v.Provider)
	}
	return out
}

// analyzeChunk tries the primary with retries behind the circuit breaker,
// then the fallback once. An open circuit fails the primary fast so the
// fallback takes over immediately.
func (e *Evaluator) analyzeChunk(ctx context.Context, prompt, chunk string) (Verdict, error) {
	var verdict Verdict
	primaryErr := resilience.Retry(ctx, "ai-primary", e.retryCfg, func() error {
		return e.breaker.Execute(func() error {
			v, err := e.callProvider(ctx, e.primary, prompt, chunk)
			if err != nil {
				return err
			}
			verdict = v
			return nil
		})
	})
	if primaryErr == nil {
		return verdict, nil
	}

	if e.fallback == nil || !e.fallback.Configured() {
		return Verdict{}, primaryErr
	}

	e.logger.Warn("primary provider exhausted, trying fallback",
		"primary", e.primary.Name(),
		"fallback", e.fallback.Name(),
		"error", primaryErr)
	v, fallbackErr := e.callProvider(ctx, e.fallback, prompt, chunk)
	if fallbackErr != nil {
		return Verdict{}, fmt.Errorf("primary: %v; fallback: %w", primaryErr, fallbackErr)
	}
	v.Fallback = true
	return v, nil
}

// callProvider performs one bounded provider attempt under the process-wide
// concurrency cap.
func (e *Evaluator) callProvider(ctx context.Context, p Provider, prompt, chunk string) (Verdict, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Verdict{}, err
	}
	defer e.sem.Release(1)

	if e.metrics != nil {
		e.metrics.AICallsInFlight.Inc()
		defer e.metrics.AICallsInFlight.Dec()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	start := time.Now()
	v, err := p.Analyze(attemptCtx, prompt, chunk)
	if e.metrics != nil {
		e.metrics.AICallDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		e.metrics.AICallsTotal.WithLabelValues(p.Name(), callOutcome(err)).Inc()
	}
	return v, err
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Retryable(err):
		return "retryable_error"
	default:
		return "permanent_error"
	}
}

// BreakerState exposes the primary circuit state for health reporting.
func (e *Evaluator) BreakerState() resilience.State {
	return e.breaker.GetState()
}
