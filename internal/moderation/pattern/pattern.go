// Package pattern evaluates the fast rule tier: keyword and regular
// expression rules. Evaluation is pure CPU work with no network calls, so
// it runs synchronously before any AI rule is considered.
package pattern

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	apperrors "github.com/Significant-Gravitas/AutoModerate/pkg/errors"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
)

// Evaluator matches content against keyword and regex rules. Compiled
// regexes are memoized per pattern+flags so hot rules compile once.
type Evaluator struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
	logger   *slog.Logger
}

// New creates a pattern Evaluator with an empty regex cache.
func New() *Evaluator {
	return &Evaluator{
		compiled: make(map[string]*regexp.Regexp),
		logger:   logger.WithComponent("pattern-evaluator"),
	}
}

// Match evaluates one fast rule against the content. It returns whether the
// rule fired and a human-readable reason when it did. A misconfigured rule
// (unsupported kind, invalid regex) returns an error and must be skipped by
// the caller, never treated as a match.
func (e *Evaluator) Match(content string, rule moderation.Rule) (bool, string, error) {
	switch rule.Kind {
	case moderation.RuleKeyword:
		return e.matchKeywords(content, rule)
	case moderation.RuleRegex:
		return e.matchRegex(content, rule)
	default:
		return false, "", apperrors.Newf(apperrors.ErrRuleConfig,
			"rule %s has non-pattern kind %q", rule.ID, rule.Kind)
	}
}

// matchKeywords checks for substring containment of any configured keyword.
// Case-insensitive matching also folds common character substitutions
// (v1agra, c@sh) so trivial obfuscation does not slip past a keyword rule.
// Case-sensitive rules match the exact bytes only.
func (e *Evaluator) matchKeywords(content string, rule moderation.Rule) (bool, string, error) {
	if len(rule.Config.Keywords) == 0 {
		return false, "", apperrors.Newf(apperrors.ErrRuleConfig,
			"keyword rule %s has no keywords", rule.ID)
	}

	if rule.Config.CaseSensitive {
		for _, kw := range rule.Config.Keywords {
			if kw != "" && strings.Contains(content, kw) {
				return true, fmt.Sprintf("matched keyword %q", kw), nil
			}
		}
		return false, "", nil
	}

	lowered := strings.ToLower(content)
	folded := foldConfusables(lowered)
	for _, kw := range rule.Config.Keywords {
		if kw == "" {
			continue
		}
		needle := strings.ToLower(kw)
		if strings.Contains(lowered, needle) || strings.Contains(folded, foldConfusables(needle)) {
			return true, fmt.Sprintf("matched keyword %q", kw), nil
		}
	}
	return false, "", nil
}

// foldConfusables maps common look-alike substitutions back to the letters
// they imitate. Input is already lowercased.
func foldConfusables(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '0':
			return 'o'
		case '1', '!', '|':
			return 'i'
		case '3':
			return 'e'
		case '4', '@':
			return 'a'
		case '5', '$':
			return 's'
		case '7':
			return 't'
		default:
			return r
		}
	}, s)
}

// matchRegex compiles the rule's pattern (with its flags folded in) and
// tests the content against it.
func (e *Evaluator) matchRegex(content string, rule moderation.Rule) (bool, string, error) {
	if rule.Config.Pattern == "" {
		return false, "", apperrors.Newf(apperrors.ErrRuleConfig,
			"regex rule %s has empty pattern", rule.ID)
	}

	re, err := e.compile(rule.Config.Pattern, rule.Config.Flags)
	if err != nil {
		e.logger.Warn("regex rule failed to compile, skipping",
			"rule_id", rule.ID,
			"pattern", rule.Config.Pattern,
			"error", err)
		return false, "", apperrors.Newf(apperrors.ErrRuleConfig,
			"regex rule %s: %v", rule.ID, err)
	}
	if loc := re.FindStringIndex(content); loc != nil {
		return true, fmt.Sprintf("matched pattern %q at offset %d", rule.Config.Pattern, loc[0]), nil
	}
	return false, "", nil
}

// compile returns a memoized compiled regex for pattern+flags.
func (e *Evaluator) compile(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	e.mu.RLock()
	re, ok := e.compiled[key]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}

	expanded, err := applyFlags(pattern, flags)
	if err != nil {
		return nil, err
	}
	re, err = regexp.Compile(expanded)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.compiled[key] = re
	e.mu.Unlock()
	return re, nil
}

// applyFlags translates the stored flag string into an inline flag group.
// Supported flags are i (case-insensitive), m (multi-line) and s (dot
// matches newline). Unknown flags are a configuration error.
func applyFlags(pattern, flags string) (string, error) {
	if flags == "" {
		return pattern, nil
	}
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		default:
			return "", fmt.Errorf("unsupported regex flag %q", string(f))
		}
	}
	return "(?" + inline.String() + ")" + pattern, nil
}
