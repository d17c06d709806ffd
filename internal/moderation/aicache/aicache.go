// Package aicache caches AI evaluation outcomes keyed by (rule, content)
// so identical content re-submitted under an unchanged rule skips the
// provider call entirely. Two backends exist: an in-process LRU with TTL
// and a Redis-backed cache for multi-replica deployments.
package aicache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

// Cache stores evaluation outcomes for reuse. Implementations must be safe
// for concurrent use.
type Cache interface {
	// Get returns the cached outcome for key, if present and unexpired.
	Get(ctx context.Context, key string) (moderation.EvaluationOutcome, bool)

	// Put stores an outcome under key. Failures are swallowed; the cache is
	// an optimization, never a correctness dependency.
	Put(ctx context.Context, key string, out moderation.EvaluationOutcome)

	// Flush drops every cached outcome. Used when moderation rules change
	// in ways invalidation by key cannot express.
	Flush(ctx context.Context) error

	// Stats returns cumulative hit and miss counters.
	Stats() (hits, misses int64)
}

// Key derives the cache key for a rule/content pair: a 128-bit hex digest
// over the rule id and the full content. Any change to either yields a new
// key, so rule edits naturally miss.
func Key(ruleID, content string) string {
	sum := sha256.Sum256([]byte(ruleID + "\x00" + content))
	return hex.EncodeToString(sum[:16])
}
