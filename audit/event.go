package audit

import "time"

// SchemaVersion is stamped on every persisted event so readers can detect
// older record layouts after an upgrade.
const SchemaVersion = "1.0.0"

type Actor string

const (
	ActorAgent  Actor = "agent"
	ActorUser   Actor = "user"
	ActorSystem Actor = "system"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeDenied    Outcome = "denied"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
	OutcomeApproved  Outcome = "approved"
	OutcomeInfo      Outcome = "info"
)

// Event is a single audit record. Events are immutable once recorded: the
// package exposes no update or delete operation, and the sink is append-only.
type Event struct {
	Seq           uint64    `json:"seq"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`

	Actor   Actor   `json:"actor"`
	Action  string  `json:"action"`
	Target  string  `json:"target,omitempty"`
	Outcome Outcome `json:"outcome"`

	// ApprovalID links the event to the approval request that gated the
	// action. Empty for informational events that were never gated.
	ApprovalID string `json:"approval_id,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Since   time.Time
	Until   time.Time
	Action  string
	Outcome Outcome
	Limit   int
}

func (f Filter) matches(e Event) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	return true
}
