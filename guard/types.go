package guard

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

type ActionKind string

const (
	ActionFileEdit  ActionKind = "file_edit"
	ActionShellExec ActionKind = "shell_exec"
	ActionCodeExec  ActionKind = "code_exec"
	ActionInstall   ActionKind = "install"
	ActionGitPush   ActionKind = "git_push"
	ActionGitClone  ActionKind = "git_clone"
	ActionAPICall   ActionKind = "api_call"
	ActionRestore   ActionKind = "restore"
	ActionOther     ActionKind = "other"
)

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// rank orders tiers for the global-approval ceiling comparison.
func (r RiskTier) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 3 // unknown tiers are treated as high
	}
}

type State string

const (
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateDenied    State = "denied"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s != StatePending && s != ""
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Request is one proposed sensitive action awaiting (or past) a decision.
// State transitions happen only inside the Engine.
type Request struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Kind      ActionKind `json:"kind"`
	Summary   string     `json:"summary"`
	Target    string     `json:"target"`
	Tier      RiskTier   `json:"tier"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	State State `json:"state"`

	// Actor and Comment describe who resolved the request and why. Actor is
	// "system" for expiry and cancellation.
	Actor   string `json:"actor,omitempty"`
	Comment string `json:"comment,omitempty"`

	// AutoApproved marks requests resolved by global-approval mode rather
	// than an explicit human decision.
	AutoApproved bool `json:"auto_approved,omitempty"`
}

func newRequestID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "apr_" + hex.EncodeToString(b)
}
