// Package decision derives a content item's final status from the rule
// processor's result. Two policy knobs live here: the manual-review
// confidence threshold and the fail-open default status, both configured
// rather than hard-coded.
package decision

import (
	"fmt"
	"log/slog"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/processor"
	"github.com/Significant-Gravitas/AutoModerate/pkg/config"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
)

const lowConfidenceNote = "low confidence, routed to manual review"

// Engine turns processor results into a terminal status plus the audit
// outcome list.
type Engine struct {
	threshold     float64
	defaultStatus moderation.Status
	logger        *slog.Logger
}

// New creates an Engine from the moderation policy config. An unknown
// default status falls back to approved, the documented fail-open policy.
func New(cfg config.ModerationConfig) *Engine {
	def := moderation.Status(cfg.DefaultStatus)
	log := logger.WithComponent("decision-engine")
	if !moderation.ValidStatus(def) {
		log.Warn("invalid default status in config, using approved", "configured", cfg.DefaultStatus)
		def = moderation.StatusApproved
	}
	return &Engine{
		threshold:     cfg.ManualReviewThreshold,
		defaultStatus: def,
		logger:        log,
	}
}

// Decide maps the processor result onto a terminal status. A match at or
// above the confidence threshold applies the winning decision; a match
// below it is forced to flagged no matter what the rule wanted. No match
// at all, including evaluator-unavailable runs and the zero-rules case,
// yields the default status with a synthetic audit outcome so operators can
// tell "passed the rules" apart from "no rule ever fired".
func (e *Engine) Decide(item *moderation.ContentItem, res processor.Result) (moderation.Status, []moderation.EvaluationOutcome) {
	outcomes := res.Attempted

	if !res.Matched || res.Winning == nil {
		outcomes = append(outcomes, moderation.EvaluationOutcome{
			Decision:   statusDecision(e.defaultStatus),
			Confidence: 1.0,
			Reason:     fmt.Sprintf("no rule produced a definitive verdict, default status %q applied", e.defaultStatus),
			Evaluator:  moderation.EvaluatorManual,
		})
		e.logger.Debug("no rules matched, applying default status",
			"content_id", item.ID,
			"status", e.defaultStatus)
		return e.defaultStatus, outcomes
	}

	winner := res.Winning
	if winner.Confidence < e.threshold {
		for i := range outcomes {
			if outcomes[i].RuleID == winner.RuleID && outcomes[i].Decision == winner.Decision {
				outcomes[i].Decision = moderation.DecisionFlagged
				outcomes[i].Reason = fmt.Sprintf("%s (%s)", outcomes[i].Reason, lowConfidenceNote)
				break
			}
		}
		e.logger.Info("confidence below review threshold, flagging",
			"content_id", item.ID,
			"rule_id", winner.RuleID,
			"confidence", winner.Confidence,
			"threshold", e.threshold)
		return moderation.StatusFlagged, outcomes
	}

	switch winner.Decision {
	case moderation.DecisionApproved:
		return moderation.StatusApproved, outcomes
	case moderation.DecisionRejected:
		return moderation.StatusRejected, outcomes
	default:
		return moderation.StatusFlagged, outcomes
	}
}

// statusDecision maps a terminal status to its decision value for the
// synthetic default outcome.
func statusDecision(s moderation.Status) moderation.Decision {
	switch s {
	case moderation.StatusRejected:
		return moderation.DecisionRejected
	case moderation.StatusFlagged:
		return moderation.DecisionFlagged
	default:
		return moderation.DecisionApproved
	}
}
