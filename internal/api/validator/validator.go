// Package validator checks inbound moderation requests before they reach
// the pipeline.
package validator

import (
	"fmt"
	"strings"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	apperrors "github.com/Significant-Gravitas/AutoModerate/pkg/errors"
)

const (
	// MaxContentBytes bounds a single submission's payload.
	MaxContentBytes = 1 << 20

	// MaxMetadataEntries bounds the free-form metadata map.
	MaxMetadataEntries = 64

	maxMetadataKeyLen   = 128
	maxMetadataValueLen = 1024
)

// ValidateSubmission checks a submission and normalizes its content type.
// All violations are reported together so a client can fix them in one
// round trip.
func ValidateSubmission(sub *moderation.Submission) error {
	var problems []string

	if strings.TrimSpace(sub.ProjectID) == "" {
		problems = append(problems, "project id is required")
	}

	if sub.Type == "" {
		sub.Type = moderation.ContentTypeText
	}
	if sub.Type != moderation.ContentTypeText {
		problems = append(problems, fmt.Sprintf("unsupported content type %q", sub.Type))
	}

	if sub.Content == "" {
		problems = append(problems, "content is required")
	} else if len(sub.Content) > MaxContentBytes {
		problems = append(problems, fmt.Sprintf("content exceeds %d bytes", MaxContentBytes))
	}

	if len(sub.Metadata) > MaxMetadataEntries {
		problems = append(problems, fmt.Sprintf("metadata exceeds %d entries", MaxMetadataEntries))
	}
	for k, v := range sub.Metadata {
		if len(k) > maxMetadataKeyLen {
			problems = append(problems, fmt.Sprintf("metadata key %q too long", k[:32]+"..."))
		}
		if len(v) > maxMetadataValueLen {
			problems = append(problems, fmt.Sprintf("metadata value for %q too long", k))
		}
	}

	if len(problems) > 0 {
		return apperrors.Newf(apperrors.ErrInvalidInput, "%s", strings.Join(problems, "; "))
	}
	return nil
}
