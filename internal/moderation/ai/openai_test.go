package ai

import (
	"net/http"
	"testing"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		decision   moderation.Decision
		confidence float64
	}{
		{
			"plain json",
			`{"decision": "rejected", "confidence": 0.92, "reason": "spam"}`,
			moderation.DecisionRejected, 0.92,
		},
		{
			"json wrapped in prose",
			"Here is my verdict:\n```json\n{\"decision\": \"flagged\", \"confidence\": 0.5, \"reason\": \"unsure\"}\n```",
			moderation.DecisionFlagged, 0.5,
		},
		{
			"uppercase decision normalized",
			`{"decision": "APPROVED", "confidence": 0.8, "reason": "fine"}`,
			moderation.DecisionApproved, 0.8,
		},
		{
			"malformed json degrades to approve",
			`not json at all`,
			moderation.DecisionApproved, 0.3,
		},
		{
			"unknown decision degrades to approve",
			`{"decision": "maybe", "confidence": 0.9}`,
			moderation.DecisionApproved, 0.3,
		},
		{
			"confidence clamped to [0,1]",
			`{"decision": "rejected", "confidence": 1.7, "reason": "x"}`,
			moderation.DecisionRejected, 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseVerdict(tt.text)
			if got.Decision != tt.decision {
				t.Errorf("decision = %s, want %s", got.Decision, tt.decision)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.confidence)
			}
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	retryable := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable}
	for _, code := range retryable {
		if !retryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	permanent := []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity}
	for _, code := range permanent {
		if retryableStatus(code) {
			t.Errorf("status %d should be permanent", code)
		}
	}
}

func TestRetryableErrorClassification(t *testing.T) {
	if !Retryable(&ProviderError{Provider: "x", Status: 503, Retryable: true}) {
		t.Error("retryable provider error misclassified")
	}
	if Retryable(&ProviderError{Provider: "x", Status: 401, Retryable: false}) {
		t.Error("permanent provider error misclassified")
	}
}
