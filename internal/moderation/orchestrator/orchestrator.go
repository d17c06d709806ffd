// Package orchestrator is the moderation pipeline's entry point. One call
// to Moderate takes a submission through persistence, rule loading, rule
// processing, the final decision, and the asynchronous notification, and
// always returns a terminal status.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/decision"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/processor"
	"github.com/Significant-Gravitas/AutoModerate/internal/moderation/rulecache"
	"github.com/Significant-Gravitas/AutoModerate/internal/notifier"
	apperrors "github.com/Significant-Gravitas/AutoModerate/pkg/errors"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/metrics"
)

// Notifier receives decision events after the response is finalized.
type Notifier interface {
	Notify(event notifier.Event) bool
}

// Orchestrator drives one submission through the full pipeline.
type Orchestrator struct {
	repo     moderation.Repository
	rules    *rulecache.Cache
	proc     *processor.Processor
	decider  *decision.Engine
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires an Orchestrator. The metrics handle may be nil in tests.
func New(
	repo moderation.Repository,
	rules *rulecache.Cache,
	proc *processor.Processor,
	decider *decision.Engine,
	n Notifier,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		rules:    rules,
		proc:     proc,
		decider:  decider,
		notifier: n,
		metrics:  m,
		logger:   logger.WithComponent("orchestrator"),
	}
}

// Moderate runs a submission to a terminal status. Evaluator failures are
// absorbed into the audit trail; only persistence failures surface to the
// caller. The returned response is final before the notification is even
// queued, so notification throughput never delays the caller.
func (o *Orchestrator) Moderate(ctx context.Context, sub moderation.Submission) (*moderation.Response, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "orchestrator", "project_id", sub.ProjectID)

	now := time.Now().UTC()
	item := &moderation.ContentItem{
		ID:        uuid.NewString(),
		ProjectID: sub.ProjectID,
		Type:      sub.Type,
		Data:      sub.Content,
		Metadata:  sub.Metadata,
		Status:    moderation.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.SaveContentItem(ctx, item); err != nil {
		return nil, apperrors.Newf(apperrors.ErrPersistence, "saving content item: %v", err)
	}

	rules, err := o.rules.ActiveRules(ctx, sub.ProjectID)
	if err != nil {
		// A rule-load failure means no rule can fire; the run falls
		// through to the default status rather than erroring out.
		log.Error("rule load failed, proceeding with empty rule set",
			"content_id", item.ID,
			"error", err)
		rules = &moderation.RuleSet{}
	}

	res := o.proc.Process(ctx, item, rules)
	status, outcomes := o.decider.Decide(item, res)

	decidedAt := time.Now().UTC()
	for i := range outcomes {
		outcomes[i].ID = uuid.NewString()
		outcomes[i].ContentID = item.ID
		outcomes[i].CreatedAt = decidedAt
	}

	if err := o.repo.FinalizeDecision(ctx, item.ID, status, outcomes); err != nil {
		return nil, apperrors.Newf(apperrors.ErrPersistence, "finalizing decision for %s: %v", item.ID, err)
	}
	item.Status = status
	item.UpdatedAt = decidedAt

	elapsed := time.Since(start)
	o.observe(status, res.Matched, elapsed)
	log.Info("moderation complete",
		"content_id", item.ID,
		"status", status,
		"matched", res.Matched,
		"outcomes", len(outcomes),
		"duration", elapsed.String())

	if o.notifier != nil {
		o.notifier.Notify(notifier.Event{
			ContentID:        item.ID,
			ProjectID:        item.ProjectID,
			Status:           string(status),
			Reason:           winningReason(res),
			OutcomeCount:     len(outcomes),
			ProcessingTimeMs: elapsed.Milliseconds(),
			Metadata:         item.Metadata,
			Timestamp:        decidedAt,
		})
	}

	return &moderation.Response{
		ContentID: item.ID,
		Status:    status,
		Outcomes:  outcomes,
	}, nil
}

func (o *Orchestrator) observe(status moderation.Status, matched bool, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.DecisionsTotal.WithLabelValues(string(status)).Inc()
	outcome := "exhausted"
	if matched {
		outcome = "matched"
	}
	o.metrics.PipelineDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func winningReason(res processor.Result) string {
	if res.Winning != nil {
		return res.Winning.Reason
	}
	return ""
}
