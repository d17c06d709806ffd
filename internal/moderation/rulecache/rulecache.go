// Package rulecache keeps each project's active rule set in memory so the
// hot path never waits on the repository. Entries expire after a TTL;
// concurrent refreshes for the same project are collapsed into a single
// repository fetch.
package rulecache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
	"github.com/Significant-Gravitas/AutoModerate/pkg/metrics"
	"github.com/Significant-Gravitas/AutoModerate/pkg/resilience"
)

// defaultFetchTimeout bounds a single repository fetch so a wedged source
// cannot stall every caller waiting on the shared flight.
const defaultFetchTimeout = 5 * time.Second

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Projects int   `json:"projects"`
}

// Cache is a TTL-bounded per-project rule cache in front of a RuleSource.
type Cache struct {
	source       moderation.RuleSource
	ttl          time.Duration
	fetchTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*moderation.RuleSet

	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Cache over source with the given entry TTL. The metrics
// handle may be nil in tests.
func New(source moderation.RuleSource, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		source:       source,
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		entries:      make(map[string]*moderation.RuleSet),
		metrics:      m,
		logger:       logger.WithComponent("rule-cache"),
	}
}

// ActiveRules returns the project's rule set, refreshing from the source
// when the cached copy is missing or older than the TTL. All concurrent
// callers for the same project share one refresh. A refresh failure falls
// back to the stale copy when one exists, so rule staleness is bounded by
// the TTL plus the source outage, never by a thundering herd.
func (c *Cache) ActiveRules(ctx context.Context, projectID string) (*moderation.RuleSet, error) {
	c.mu.RLock()
	cached := c.entries[projectID]
	c.mu.RUnlock()

	if cached != nil && time.Since(cached.FetchedAt) < c.ttl {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.RuleCacheHits.Inc()
		}
		return cached, nil
	}
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.RuleCacheMisses.Inc()
	}

	v, err, _ := c.group.Do(projectID, func() (interface{}, error) {
		// Another flight may have refreshed while this caller waited for
		// the flight slot.
		c.mu.RLock()
		fresh := c.entries[projectID]
		c.mu.RUnlock()
		if fresh != nil && time.Since(fresh.FetchedAt) < c.ttl {
			return fresh, nil
		}
		return c.refresh(ctx, projectID)
	})
	if err != nil {
		if cached != nil {
			c.logger.Warn("rule refresh failed, serving stale rules",
				"project_id", projectID,
				"age", time.Since(cached.FetchedAt).String(),
				"error", err)
			return cached, nil
		}
		return nil, err
	}
	return v.(*moderation.RuleSet), nil
}

// refresh fetches, orders, and partitions the project's rules, then
// installs the new entry.
func (c *Cache) refresh(ctx context.Context, projectID string) (*moderation.RuleSet, error) {
	var rules []moderation.Rule
	err := resilience.WithTimeout(ctx, c.fetchTimeout, "rule-refresh", func(ctx context.Context) error {
		var err error
		rules, err = c.source.ActiveRules(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Stable sort keeps repository order for equal priorities, which makes
	// winner tie-breaking deterministic downstream.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	set := &moderation.RuleSet{FetchedAt: time.Now()}
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if r.Fast() {
			set.Fast = append(set.Fast, r)
		} else {
			set.AI = append(set.AI, r)
		}
	}

	c.mu.Lock()
	c.entries[projectID] = set
	c.mu.Unlock()

	c.logger.Debug("rules refreshed",
		"project_id", projectID,
		"fast_rules", len(set.Fast),
		"ai_rules", len(set.AI))
	return set, nil
}

// Invalidate drops the cached rule set for one project. The next call
// refetches.
func (c *Cache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
	c.logger.Info("rule cache invalidated", "project_id", projectID)
}

// InvalidateAll drops every cached rule set.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*moderation.RuleSet)
	c.mu.Unlock()
	c.logger.Info("rule cache flushed")
}

// Stats returns cumulative counters and the number of cached projects.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	projects := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Projects: projects,
	}
}
