package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Significant-Gravitas/AutoModerate/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate/pkg/config"
	apperrors "github.com/Significant-Gravitas/AutoModerate/pkg/errors"
	"github.com/Significant-Gravitas/AutoModerate/pkg/logger"
)

const systemPrompt = `You are a content moderator. Analyze whether the content violates the given rule. Be conservative: when in doubt, approve.

Respond ONLY with JSON:
{"decision": "approved|rejected|flagged", "reason": "brief explanation", "confidence": 0.85}`

// Verdicts are short JSON objects; cap the completion well under the
// model's limit.
const maxVerdictTokens = 512

// OpenAIProvider speaks the OpenAI-compatible chat completions API. Both
// the primary endpoint and OpenRouter use this shape.
type OpenAIProvider struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
// The HTTP client carries no timeout of its own; callers bound each attempt
// through the context.
func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.WithComponent("ai-provider").With("provider", cfg.Name),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.cfg.Name
}

func (p *OpenAIProvider) Configured() bool {
	return p.cfg.APIKey != "" && p.cfg.BaseURL != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze sends one chunk to the provider and parses the structured
// verdict out of the completion.
func (p *OpenAIProvider) Analyze(ctx context.Context, prompt, content string) (Verdict, error) {
	if !p.Configured() {
		return Verdict{}, &ProviderError{
			Provider:  p.cfg.Name,
			Retryable: false,
			Err:       apperrors.ErrProviderNotConfigured,
		}
	}

	reqBody := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Rule: %s\n\nContent to moderate:\n%s", prompt, content)},
		},
		MaxTokens:   maxVerdictTokens,
		Temperature: 0,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: false, Err: err}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, &ProviderError{
			Provider:  p.cfg.Name,
			Status:    resp.StatusCode,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", truncate(string(body), 200)),
		}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: false, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if cr.Error != nil {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: false, Err: fmt.Errorf("%s", cr.Error.Message)}
	}
	if len(cr.Choices) == 0 {
		return Verdict{}, &ProviderError{Provider: p.cfg.Name, Retryable: true, Err: fmt.Errorf("empty choices")}
	}

	verdict := parseVerdict(cr.Choices[0].Message.Content)
	verdict.Provider = p.cfg.Name
	p.logger.Debug("analysis complete",
		"decision", verdict.Decision,
		"confidence", verdict.Confidence,
		"duration", time.Since(start).String())
	return verdict, nil
}

// parseVerdict extracts the JSON verdict from the completion text. A
// response that cannot be parsed or carries an unknown decision degrades to
// a conservative low-confidence approval rather than failing the rule.
func parseVerdict(text string) Verdict {
	raw := extractJSON(text)

	var parsed struct {
		Decision   string  `json:"decision"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Verdict{
			Decision:   moderation.DecisionApproved,
			Confidence: 0.3,
			Reason:     "unparseable analysis response, defaulting to approve",
		}
	}

	switch moderation.Decision(strings.ToLower(parsed.Decision)) {
	case moderation.DecisionApproved, moderation.DecisionRejected, moderation.DecisionFlagged:
	default:
		return Verdict{
			Decision:   moderation.DecisionApproved,
			Confidence: 0.3,
			Reason:     fmt.Sprintf("unknown decision %q, defaulting to approve", parsed.Decision),
		}
	}

	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Verdict{
		Decision:   moderation.Decision(strings.ToLower(parsed.Decision)),
		Confidence: conf,
		Reason:     parsed.Reason,
	}
}

// extractJSON pulls the first top-level JSON object out of completion text
// that may wrap it in prose or markdown fences.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
