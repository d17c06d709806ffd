package rulecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

type fakeSource struct {
	calls atomic.Int64
	rules []moderation.Rule
	err   error
	delay time.Duration
}

func (f *fakeSource) ActiveRules(ctx context.Context, _ string) ([]moderation.Rule, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]moderation.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func rule(id string, kind moderation.RuleKind, priority int, active bool) moderation.Rule {
	return moderation.Rule{
		ID:       id,
		Kind:     kind,
		Priority: priority,
		Active:   active,
		Action:   moderation.ActionReject,
	}
}

func TestActiveRulesPartitionsAndSorts(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{
		rule("ai-high", moderation.RuleAIPrompt, 5, true),
		rule("kw-low", moderation.RuleKeyword, 10, true),
		rule("re-first", moderation.RuleRegex, 1, true),
		rule("ai-first", moderation.RuleAIPrompt, 1, true),
		rule("kw-inactive", moderation.RuleKeyword, 0, false),
	}}
	cache := New(src, time.Minute, nil)

	set, err := cache.ActiveRules(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}

	if got := len(set.Fast); got != 2 {
		t.Fatalf("expected 2 fast rules, got %d", got)
	}
	if set.Fast[0].ID != "re-first" || set.Fast[1].ID != "kw-low" {
		t.Errorf("fast rules out of priority order: %s, %s", set.Fast[0].ID, set.Fast[1].ID)
	}
	if got := len(set.AI); got != 2 {
		t.Fatalf("expected 2 ai rules, got %d", got)
	}
	if set.AI[0].ID != "ai-first" || set.AI[1].ID != "ai-high" {
		t.Errorf("ai rules out of priority order: %s, %s", set.AI[0].ID, set.AI[1].ID)
	}
}

func TestActiveRulesCachesWithinTTL(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)}}
	cache := New(src, time.Minute, nil)
	ctx := context.Background()

	for range 5 {
		if _, err := cache.ActiveRules(ctx, "proj-1"); err != nil {
			t.Fatalf("ActiveRules: %v", err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("expected one repository fetch, got %d", got)
	}

	stats := cache.Stats()
	if stats.Hits != 4 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 4 hits / 1 miss", stats)
	}
}

func TestConcurrentLookupsShareOneFetch(t *testing.T) {
	src := &fakeSource{
		rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)},
		delay: 30 * time.Millisecond,
	}
	cache := New(src, time.Minute, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := cache.ActiveRules(context.Background(), "proj-1")
			if err != nil {
				errs <- err
				return
			}
			if len(set.Fast) != 1 {
				errs <- errors.New("incomplete rule set from shared fetch")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent lookup: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Errorf("expected a single shared fetch, got %d", got)
	}
}

func TestSlowSourceFetchIsBounded(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	cache := New(src, time.Minute, nil)
	cache.fetchTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := cache.ActiveRules(context.Background(), "proj-1")
	if err == nil {
		t.Fatal("expected an error from a wedged source")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("fetch not bounded by timeout, took %v", elapsed)
	}
}

func TestActiveRulesPerProjectEntries(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)}}
	cache := New(src, time.Minute, nil)
	ctx := context.Background()

	if _, err := cache.ActiveRules(ctx, "proj-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.ActiveRules(ctx, "proj-b"); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("expected one fetch per project, got %d", got)
	}
	if cache.Stats().Projects != 2 {
		t.Errorf("expected 2 cached projects, got %d", cache.Stats().Projects)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)}}
	cache := New(src, time.Minute, nil)
	ctx := context.Background()

	if _, err := cache.ActiveRules(ctx, "proj-1"); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate("proj-1")
	if _, err := cache.ActiveRules(ctx, "proj-1"); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Errorf("expected refetch after invalidation, got %d fetches", got)
	}
}

func TestInvalidateAll(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)}}
	cache := New(src, time.Minute, nil)
	ctx := context.Background()

	_, _ = cache.ActiveRules(ctx, "proj-a")
	_, _ = cache.ActiveRules(ctx, "proj-b")
	cache.InvalidateAll()
	if cache.Stats().Projects != 0 {
		t.Errorf("expected empty cache after flush, got %d projects", cache.Stats().Projects)
	}
}

func TestStaleServedWhenRefreshFails(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)}}
	cache := New(src, 10*time.Millisecond, nil)
	ctx := context.Background()

	set, err := cache.ActiveRules(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Fast) != 1 {
		t.Fatalf("expected 1 fast rule, got %d", len(set.Fast))
	}

	src.err = errors.New("repository down")
	time.Sleep(20 * time.Millisecond)

	stale, err := cache.ActiveRules(ctx, "proj-1")
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if len(stale.Fast) != 1 {
		t.Errorf("stale rule set lost rules: %d", len(stale.Fast))
	}
}

func TestFetchErrorWithoutStaleCopy(t *testing.T) {
	src := &fakeSource{err: errors.New("repository down")}
	cache := New(src, time.Minute, nil)

	if _, err := cache.ActiveRules(context.Background(), "proj-1"); err == nil {
		t.Fatal("expected error when no stale copy exists")
	}
}

func TestHandleUpdateInvalidates(t *testing.T) {
	src := &fakeSource{rules: []moderation.Rule{rule("kw", moderation.RuleKeyword, 1, true)}}
	cache := New(src, time.Minute, nil)
	ctx := context.Background()

	_, _ = cache.ActiveRules(ctx, "proj-1")
	handler := HandleUpdate(cache)

	if err := handler(ctx, nil, []byte(`{"project_id":"proj-1","action":"updated"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	_, _ = cache.ActiveRules(ctx, "proj-1")
	if got := src.calls.Load(); got != 2 {
		t.Errorf("expected refetch after update event, got %d fetches", got)
	}

	if err := handler(ctx, nil, []byte(`not json`)); err == nil {
		t.Error("expected error for malformed update message")
	}

	if err := handler(ctx, nil, []byte(`{}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if cache.Stats().Projects != 0 {
		t.Error("update without project id must flush all entries")
	}
}
