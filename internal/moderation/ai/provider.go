// Package ai evaluates ai_prompt rules against external language-model
// providers. A primary provider is tried with retries behind a circuit
// breaker; a fallback provider gets one attempt when the primary is
// exhausted. Verdicts are cached per (rule, content) pair.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

// Verdict is one provider response for one content chunk.
type Verdict struct {
	Decision   moderation.Decision `json:"decision"`
	Confidence float64             `json:"confidence"`
	Reason     string              `json:"reason"`
	Provider   string              `json:"provider,omitempty"`
	Fallback   bool                `json:"fallback,omitempty"`
}

// Provider is one external content-analysis endpoint.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Configured reports whether the provider has credentials and can be
	// called.
	Configured() bool

	// Analyze asks the provider to judge content against the rule prompt.
	Analyze(ctx context.Context, prompt, content string) (Verdict, error)
}

// ProviderError wraps a provider failure with its retryability class.
// Timeouts, rate limits, and 5xx responses are transient; other 4xx
// responses are permanent.
type ProviderError struct {
	Provider  string
	Status    int
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable classifies an error for retry purposes. Provider errors carry
// their own class; naked timeouts and temporary network faults are
// transient. Anything unclassified is treated as permanent so the fallback
// takes over quickly.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
