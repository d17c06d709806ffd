package rulecache

import (
	"context"

	"github.com/Significant-Gravitas/AutoModerate/pkg/kafka"
)

// RuleUpdate is the invalidation message the rule management layer
// publishes whenever a project's rules change.
type RuleUpdate struct {
	ProjectID string `json:"project_id"`
	RuleID    string `json:"rule_id,omitempty"`
	Action    string `json:"action,omitempty"`
}

// HandleUpdate returns a Kafka message handler that drops the affected
// project's cached rules, so edits propagate faster than the TTL. An update
// without a project id flushes everything.
func HandleUpdate(cache *Cache) kafka.MessageHandler {
	return func(_ context.Context, _ []byte, value []byte) error {
		update, err := kafka.DecodeJSON[RuleUpdate](value)
		if err != nil {
			return err
		}
		if update.ProjectID == "" {
			cache.InvalidateAll()
			return nil
		}
		cache.Invalidate(update.ProjectID)
		return nil
	}
}
