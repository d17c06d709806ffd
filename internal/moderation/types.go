// Package moderation defines the domain model shared by the moderation
// pipeline: content items, rules, evaluation outcomes, and the repository
// contract. The pipeline stages live in subpackages.
package moderation

import (
	"time"
)

// Status is the lifecycle state of a content item. A submission starts
// pending and is moved to exactly one terminal status by the decision
// engine.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFlagged  Status = "flagged"
)

// ValidStatus reports whether s is one of the terminal statuses a decision
// may produce.
func ValidStatus(s Status) bool {
	switch s {
	case StatusApproved, StatusRejected, StatusFlagged:
		return true
	}
	return false
}

// ContentType identifies the payload kind of a submission.
type ContentType string

const ContentTypeText ContentType = "text"

// RuleKind is the closed set of rule variants. Evaluation dispatch switches
// exhaustively over it so a new kind breaks every call site at compile time.
type RuleKind string

const (
	RuleKeyword  RuleKind = "keyword"
	RuleRegex    RuleKind = "regex"
	RuleAIPrompt RuleKind = "ai_prompt"
)

// Action is what a matching rule does to the content item.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionFlag    Action = "flag"
)

// Status maps an Action to the content status it produces on match.
func (a Action) Status() Status {
	switch a {
	case ActionApprove:
		return StatusApproved
	case ActionReject:
		return StatusRejected
	default:
		return StatusFlagged
	}
}

// Decision maps an Action to the outcome decision it produces on match.
func (a Action) Decision() Decision {
	switch a {
	case ActionApprove:
		return DecisionApproved
	case ActionReject:
		return DecisionRejected
	default:
		return DecisionFlagged
	}
}

// Decision is the verdict a single evaluation produced. DecisionNoMatch
// means the rule did not fire (including evaluator-unavailable cases).
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionFlagged  Decision = "flagged"
	DecisionNoMatch  Decision = "no_match"
)

// Definitive reports whether d represents a fired rule.
func (d Decision) Definitive() bool {
	return d == DecisionApproved || d == DecisionRejected || d == DecisionFlagged
}

// EvaluatorKind identifies what produced an evaluation outcome.
type EvaluatorKind string

const (
	EvaluatorRule   EvaluatorKind = "rule"
	EvaluatorAI     EvaluatorKind = "ai"
	EvaluatorManual EvaluatorKind = "manual"
)

// ContentItem is one submitted piece of content. The payload is immutable
// after creation; Status is written exactly once by the decision engine.
type ContentItem struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Type      ContentType       `json:"content_type"`
	Data      string            `json:"content_data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RuleConfig holds the kind-specific configuration of a rule. Only the
// fields matching the rule's kind are meaningful.
type RuleConfig struct {
	Keywords      []string `json:"keywords,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	Pattern       string   `json:"pattern,omitempty"`
	Flags         string   `json:"flags,omitempty"`
	Prompt        string   `json:"prompt,omitempty"`
}

// Rule is one moderation rule. Rules are created and edited by the
// management layer; the pipeline reads them through the rule cache.
type Rule struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Kind      RuleKind   `json:"rule_type"`
	Config    RuleConfig `json:"config"`
	Action    Action     `json:"action"`
	Priority  int        `json:"priority"`
	Active    bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
}

// Fast reports whether the rule evaluates synchronously without a network
// call.
func (r Rule) Fast() bool {
	return r.Kind == RuleKeyword || r.Kind == RuleRegex
}

// RuleSet is a tenant's active rules partitioned by evaluation tier, each
// tier sorted by priority ascending (ties keep repository order).
type RuleSet struct {
	Fast      []Rule
	AI        []Rule
	FetchedAt time.Time
}

// Len returns the total number of rules across both tiers.
func (s *RuleSet) Len() int {
	return len(s.Fast) + len(s.AI)
}

// EvaluationOutcome records the result of evaluating one rule (or the
// synthetic default outcome) against a content item. Persisted one-to-many
// under the item as the audit trail.
type EvaluationOutcome struct {
	ID         string        `json:"id"`
	ContentID  string        `json:"content_id"`
	Decision   Decision      `json:"decision"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	Evaluator  EvaluatorKind `json:"evaluator"`
	RuleID     string        `json:"rule_id,omitempty"`
	RuleName   string        `json:"rule_name,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Submission is the inbound moderation request. Tenant identity and
// authentication are resolved upstream.
type Submission struct {
	ProjectID string
	Type      ContentType
	Content   string
	Metadata  map[string]string
}

// Response is what a completed moderation run returns to the caller.
type Response struct {
	ContentID string              `json:"content_id"`
	Status    Status              `json:"status"`
	Outcomes  []EvaluationOutcome `json:"outcomes"`
}

// ProjectStats summarises a project's moderation history.
type ProjectStats struct {
	Total        int64   `json:"total"`
	Approved     int64   `json:"approved"`
	Rejected     int64   `json:"rejected"`
	Flagged      int64   `json:"flagged"`
	Pending      int64   `json:"pending"`
	ApprovalRate float64 `json:"approval_rate"`
}
