package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Action is the graded trading action produced by one analysis session.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether a is one of the three known actions.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// ToolDescriptor describes one invocable tool exposed by the tool provider.
// InputSchema is the tool's JSON Schema for its arguments, kept raw so it can be
// compiled for validation and forwarded to the reasoning endpoint unchanged.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolInvocationRecord is the log entry for one tool call made during a reasoning
// session. Records are owned by the session and attached to its Recommendation.
type ToolInvocationRecord struct {
	ID      string        `json:"id"`
	Tool    string        `json:"tool"`
	Input   string        `json:"input"`
	Output  string        `json:"output,omitempty"`
	Latency time.Duration `json:"latency"`
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
}

// Recommendation is the structured output of one analysis session.
//
// Invariant: Action BUY or SELL implies Confidence is in [0, 1]. HOLD may carry a low
// or zero confidence; a zero-confidence HOLD is the engine's conservative fallback.
type Recommendation struct {
	Action          Action                 `json:"action"`
	Confidence      float64                `json:"confidence"`
	Reasoning       string                 `json:"reasoning"`
	TraceID         string                 `json:"trace_id"`
	ToolInvocations []ToolInvocationRecord `json:"tool_invocations,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// Validate checks the recommendation invariants.
func (r *Recommendation) Validate() error {
	if !r.Action.Valid() {
		return errors.New("action must be one of BUY, SELL, HOLD")
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	return nil
}

// SkipReason explains why the decision gate declined to authorize execution.
type SkipReason string

const (
	SkipLowConfidence   SkipReason = "LowConfidence"
	SkipHoldRecommended SkipReason = "HoldRecommended"
)

// ExecutionDecision is the gate's verdict for one recommendation. It is derived,
// never persisted, and authorizes at most a bounded intent; order submission is the
// execution collaborator's job.
type ExecutionDecision struct {
	Execute bool       `json:"execute"`
	Side    string     `json:"side,omitempty"`   // "Yes" for BUY, "No" for SELL
	Amount  float64    `json:"amount,omitempty"` // Bounded trade size in USD
	Reason  SkipReason `json:"reason,omitempty"` // Set only when Execute is false
}
