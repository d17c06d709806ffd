package aicache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

// Memory is an in-process Cache backed by a size-bounded LRU whose entries
// expire after a fixed TTL. Eviction of the least recently used entry keeps
// the cache within maxEntries under sustained load.
type Memory struct {
	lru    *lru.LRU[string, moderation.EvaluationOutcome]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory creates a Memory cache holding at most maxEntries outcomes,
// each valid for ttl.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	return &Memory{
		lru: lru.NewLRU[string, moderation.EvaluationOutcome](maxEntries, nil, ttl),
	}
}

func (m *Memory) Get(_ context.Context, key string) (moderation.EvaluationOutcome, bool) {
	out, ok := m.lru.Get(key)
	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return out, ok
}

func (m *Memory) Put(_ context.Context, key string, out moderation.EvaluationOutcome) {
	m.lru.Add(key, out)
}

func (m *Memory) Flush(_ context.Context) error {
	m.lru.Purge()
	return nil
}

func (m *Memory) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}

// Len returns the current number of cached entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}
