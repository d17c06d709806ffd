package moderation

import "context"

// Repository is the persistence contract the pipeline consumes. The store
// is assumed strongly consistent for a single project's rule set within the
// rule cache's TTL window.
type Repository interface {
	// ActiveRules returns all active rules for a project in repository
	// order.
	ActiveRules(ctx context.Context, projectID string) ([]Rule, error)

	// SaveContentItem persists a new content item in pending state.
	SaveContentItem(ctx context.Context, item *ContentItem) error

	// FinalizeDecision writes the final status and the full outcome list in
	// one transaction.
	FinalizeDecision(ctx context.Context, contentID string, status Status, outcomes []EvaluationOutcome) error

	// ContentItem loads an item with its outcomes for the audit read API.
	ContentItem(ctx context.Context, id string) (*ContentItem, []EvaluationOutcome, error)

	// ProjectStats returns status counts for a project.
	ProjectStats(ctx context.Context, projectID string) (ProjectStats, error)
}

// RuleSource is the narrow read interface the rule cache needs.
type RuleSource interface {
	ActiveRules(ctx context.Context, projectID string) ([]Rule, error)
}
