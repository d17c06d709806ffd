package errors

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"content not found", Newf(ErrContentNotFound, "content item %s", "c-1"), http.StatusNotFound},
		{"invalid input", New(ErrInvalidInput, "content is required"), http.StatusBadRequest},
		{"rule config", New(ErrRuleConfig, "unparseable regex"), http.StatusBadRequest},
		{"persistence", Newf(ErrPersistence, "db down"), http.StatusInternalServerError},
		{"provider not configured", New(ErrProviderNotConfigured, "no api key"), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorWrapsSentinel(t *testing.T) {
	err := Newf(ErrPersistence, "saving item %s: %v", "c-1", errors.New("connection refused"))
	if !errors.Is(err, ErrPersistence) {
		t.Error("wrapped error lost its sentinel")
	}
	msg := err.Error()
	if !strings.Contains(msg, "persistence failure") || !strings.Contains(msg, "connection refused") {
		t.Errorf("error message missing sentinel or detail: %q", msg)
	}
}
