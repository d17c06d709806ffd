// Package processor drives rule evaluation for one content item: the fast
// pattern tier runs first in priority order with an early exit, and only
// when no pattern rule fires does the AI tier fan out concurrently.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/pattern"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/metrics"
)

// AIEvaluator runs a single ai_prompt rule to completion.
type AIEvaluator interface {
	Evaluate(ctx context.Context, content string, rule moderation.Rule) moderation.EvaluationOutcome
}

// Result is the processing outcome for one content item. Winning is nil
// when no rule fired; Attempted always carries every outcome produced, in
// completion order, for the audit trail.
type Result struct {
	Matched   bool
	Winning   *moderation.EvaluationOutcome
	Attempted []moderation.EvaluationOutcome
}

// Processor evaluates a rule set against content.
type Processor struct {
	patterns *pattern.Evaluator
	ai       AIEvaluator
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Processor. The metrics handle may be nil in tests.
func New(patterns *pattern.Evaluator, ai AIEvaluator, m *metrics.Metrics) *Processor {
	return &Processor{
		patterns: patterns,
		ai:       ai,
		metrics:  m,
		logger:   logger.WithComponent("rule-processor"),
	}
}

// Process runs the two evaluation tiers. The fast tier walks rules in
// priority order and stops at the first match; a fast match suppresses the
// AI tier entirely. The AI tier evaluates all rules concurrently and the
// first definitive outcome wins, with priority then rule id breaking ties
// among outcomes that arrive together. Losing evaluations are left to
// finish in the background so their verdicts still land in the cache.
func (p *Processor) Process(ctx context.Context, item *moderation.ContentItem, rules *moderation.RuleSet) Result {
	if res, ok := p.processFast(item, rules.Fast); ok {
		return res
	}
	return p.processAI(ctx, item, rules.AI)
}

// processFast runs keyword and regex rules synchronously. A fired fast rule
// always has confidence 1.0: pattern matches are exact, not probabilistic.
func (p *Processor) processFast(item *moderation.ContentItem, rules []moderation.Rule) (Result, bool) {
	for _, rule := range rules {
		start := time.Now()
		matched, reason, err := p.patterns.Match(item.Data, rule)
		if err != nil {
			// Misconfigured rules are skipped, never matched.
			p.logger.Warn("skipping misconfigured rule",
				"rule_id", rule.ID,
				"content_id", item.ID,
				"error", err)
			continue
		}
		if !matched {
			continue
		}
		if p.metrics != nil {
			p.metrics.RuleMatchesTotal.WithLabelValues(string(rule.Kind)).Inc()
		}
		out := moderation.EvaluationOutcome{
			Decision:   rule.Action.Decision(),
			Confidence: 1.0,
			Reason:     fmt.Sprintf("rule %q: %s", rule.Name, reason),
			Evaluator:  moderation.EvaluatorRule,
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Duration:   time.Since(start),
		}
		return Result{
			Matched:   true,
			Winning:   &out,
			Attempted: []moderation.EvaluationOutcome{out},
		}, true
	}
	return Result{}, false
}

// processAI fans out all AI rules and collects outcomes until a definitive
// one appears. Outcomes already delivered when the winner is picked compete
// on (priority, rule id); stragglers keep running on a detached context so
// the result cache still gets their verdicts.
func (p *Processor) processAI(ctx context.Context, item *moderation.ContentItem, rules []moderation.Rule) Result {
	if len(rules) == 0 {
		return Result{}
	}

	priorities := make(map[string]int, len(rules))
	for _, r := range rules {
		priorities[r.ID] = r.Priority
	}

	// Buffered to rule count so losing goroutines never block after the
	// processor returns.
	outcomes := make(chan moderation.EvaluationOutcome, len(rules))
	bg := context.WithoutCancel(ctx)
	for _, rule := range rules {
		go func(r moderation.Rule) {
			outcomes <- p.ai.Evaluate(bg, item.Data, r)
		}(rule)
	}

	var res Result
	received := 0
	for received < len(rules) {
		select {
		case out := <-outcomes:
			received++
			res.Attempted = append(res.Attempted, out)
			if !out.Decision.Definitive() {
				continue
			}
			winner := out
			// Drain outcomes that are already available; among the
			// definitive ones the lowest priority (then rule id) wins.
			for drained := true; drained && received < len(rules); {
				select {
				case more := <-outcomes:
					received++
					res.Attempted = append(res.Attempted, more)
					if more.Decision.Definitive() && p.beats(more, winner, priorities) {
						winner = more
					}
				default:
					drained = false
				}
			}
			if p.metrics != nil {
				p.metrics.RuleMatchesTotal.WithLabelValues(string(moderation.RuleAIPrompt)).Inc()
			}
			res.Matched = true
			res.Winning = &winner
			return res
		case <-ctx.Done():
			p.logger.Warn("ai evaluation abandoned",
				"content_id", item.ID,
				"received", received,
				"total", len(rules),
				"error", ctx.Err())
			return res
		}
	}
	return res
}

// beats reports whether outcome a wins over b: lower rule priority first,
// rule id as the final deterministic tie-break.
func (p *Processor) beats(a, b moderation.EvaluationOutcome, priorities map[string]int) bool {
	pa, pb := priorities[a.RuleID], priorities[b.RuleID]
	if pa != pb {
		return pa < pb
	}
	return a.RuleID < b.RuleID
}
