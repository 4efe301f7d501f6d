// Package dispatch is the contract layer every tool invocation goes
// through: session unlock check, approval gate, secret resolution, tool
// execution, outcome logging. Tools never see the vault and the
// conversational layer never sees a tool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omni-agent/omnicore/audit"
	"github.com/omni-agent/omnicore/guard"
	"github.com/omni-agent/omnicore/tools"
	"github.com/omni-agent/omnicore/vault"
)

// Config tunes coordinator behavior.
type Config struct {
	// BusyRetryInterval is the pause between queued retries when another
	// approval request is already pending. Zero means 200ms.
	BusyRetryInterval time.Duration

	// BusyRetryLimit bounds queued retries so a wedged session cannot spin
	// forever. Zero means 150.
	BusyRetryLimit int
}

func (c *Config) applyDefaults() {
	if c.BusyRetryInterval <= 0 {
		c.BusyRetryInterval = 200 * time.Millisecond
	}
	if c.BusyRetryLimit <= 0 {
		c.BusyRetryLimit = 150
	}
}

// Invocation describes one requested tool call.
type Invocation struct {
	Tool    string
	Target  string
	Summary string

	// Kind and Tier override the tool's declared values when set. The
	// override can only raise the tier, never lower it.
	Kind guard.ActionKind
	Tier guard.RiskTier

	// SecretNames are resolved from the vault after approval and handed to
	// the tool for this single call.
	SecretNames []string
}

// Result is what the caller gets back. Output is the tool's raw result;
// nothing in Result carries secret material.
type Result struct {
	InvocationID string
	ApprovalID   string
	State        guard.State
	Output       string
}

// Coordinator wires one session's approval engine, vault and audit logger
// together and enforces the two invariants of the dispatch contract: no
// tool side effect without an immediately preceding APPROVED state, and no
// invocation outcome left unlogged.
type Coordinator struct {
	sessionID string
	cfg       Config

	engine   *guard.Engine
	vault    *vault.Vault
	auditor  *audit.Logger
	registry *tools.Registry
	log      *slog.Logger
}

func NewCoordinator(sessionID string, cfg Config, engine *guard.Engine, v *vault.Vault, auditor *audit.Logger, registry *tools.Registry, log *slog.Logger) *Coordinator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		sessionID: sessionID,
		cfg:       cfg,
		engine:    engine,
		vault:     v,
		auditor:   auditor,
		registry:  registry,
		log:       log,
	}
}

// Invoke runs the full gated dispatch flow for one tool call.
func (c *Coordinator) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	res := Result{InvocationID: "inv_" + uuid.NewString()}

	tool, ok := c.registry.Get(inv.Tool)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnknownTool, inv.Tool)
	}

	kind := inv.Kind
	if kind == "" {
		kind = tool.Kind()
	}
	tier := effectiveTier(tool.RiskTier(), inv.Tier)
	summary := inv.Summary
	if strings.TrimSpace(summary) == "" {
		summary = fmt.Sprintf("%s: %s", tool.Name(), inv.Target)
	}

	// Gate zero: nothing proceeds while the session is locked, regardless
	// of any approval state.
	if !c.vault.Unlocked() {
		c.logOutcome(ctx, string(kind), inv.Target, "", audit.OutcomeDenied, "session locked")
		return res, ErrSessionLocked
	}

	id, err := c.submitQueued(ctx, kind, inv.Target, summary, tier)
	if err != nil {
		return res, err
	}
	res.ApprovalID = id

	state, err := c.engine.Await(ctx, id)
	res.State = state
	if err != nil {
		c.logOutcome(ctx, string(kind), inv.Target, id, audit.OutcomeCancelled, "invocation aborted while awaiting approval")
		return res, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	switch state {
	case guard.StateApproved:
		// fall through to execution
	case guard.StateDenied:
		c.logOutcome(ctx, string(kind), inv.Target, id, audit.OutcomeDenied, "invocation not executed")
		return res, ErrDenied
	case guard.StateExpired:
		c.logOutcome(ctx, string(kind), inv.Target, id, audit.OutcomeTimedOut, "invocation not executed")
		return res, ErrExpired
	case guard.StateCancelled:
		c.logOutcome(ctx, string(kind), inv.Target, id, audit.OutcomeCancelled, "invocation not executed")
		return res, ErrCancelled
	default:
		return res, fmt.Errorf("unexpected approval state: %s", state)
	}

	secrets, err := c.resolveSecrets(ctx, id, inv.SecretNames)
	if err != nil {
		c.logOutcome(ctx, string(kind), inv.Target, id, audit.OutcomeFailure, "secret resolution failed")
		return res, err
	}

	output, execErr := executeTool(ctx, tool, inv.Target, secrets)
	clearSecrets(secrets)

	if execErr != nil {
		if logErr := c.logOutcomeErr(ctx, string(kind), inv.Target, id, audit.OutcomeFailure, execErr.Error()); logErr != nil {
			return res, logErr
		}
		return res, fmt.Errorf("%w: %v", ErrToolExecutionFailed, execErr)
	}
	if logErr := c.logOutcomeErr(ctx, string(kind), inv.Target, id, audit.OutcomeSuccess, "invocation completed"); logErr != nil {
		return res, logErr
	}
	res.Output = output
	return res, nil
}

// executeTool isolates the collaborator call so a panicking tool is
// captured and classified as a failure instead of tearing down the session.
func executeTool(ctx context.Context, tool tools.Tool, target string, secrets map[string]string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, target, secrets)
}

// submitQueued translates the engine's Busy condition into a bounded
// queued retry instead of a user-visible error.
func (c *Coordinator) submitQueued(ctx context.Context, kind guard.ActionKind, target, summary string, tier guard.RiskTier) (string, error) {
	for attempt := 0; ; attempt++ {
		id, err := c.engine.Submit(ctx, kind, target, summary, tier)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, guard.ErrBusy) {
			return "", err
		}
		if attempt >= c.cfg.BusyRetryLimit {
			return "", fmt.Errorf("approval queue wedged: %w", guard.ErrBusy)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-time.After(c.cfg.BusyRetryInterval):
		}
	}
}

// resolveSecrets fetches each requested secret for single use. Fetches are
// audited by name only; the value never reaches the log or the error path.
// Each fetch must be on the record before the value is handed out: if the
// audit trail is unavailable the resolution fails and the action is denied.
func (c *Coordinator) resolveSecrets(ctx context.Context, approvalID string, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	secrets := make(map[string]string, len(names))
	for _, name := range names {
		value, err := c.vault.Get(name)
		if err != nil {
			c.logOutcome(ctx, "vault_get", name, approvalID, audit.OutcomeFailure, "")
			clearSecrets(secrets)
			if errors.Is(err, vault.ErrVaultLocked) {
				return nil, ErrSessionLocked
			}
			return nil, err
		}
		if err := c.logOutcomeErr(ctx, "vault_get", name, approvalID, audit.OutcomeSuccess, ""); err != nil {
			clearSecrets(secrets)
			return nil, err
		}
		secrets[name] = value
	}
	return secrets, nil
}

// logOutcome records an invocation outcome, logging loudly if the audit
// trail itself fails. Paths that must fail closed use logOutcomeErr.
func (c *Coordinator) logOutcome(ctx context.Context, action, target, approvalID string, outcome audit.Outcome, detail string) {
	if err := c.logOutcomeErr(ctx, action, target, approvalID, outcome, detail); err != nil {
		c.log.Error("audit_record_failed", "action", action, "error", err.Error())
	}
}

func (c *Coordinator) logOutcomeErr(ctx context.Context, action, target, approvalID string, outcome audit.Outcome, detail string) error {
	_, err := c.auditor.Record(ctx, audit.Event{
		Actor:      audit.ActorAgent,
		Action:     action,
		Target:     target,
		Outcome:    outcome,
		ApprovalID: approvalID,
		SessionID:  c.sessionID,
		Detail:     detail,
	})
	return err
}

func effectiveTier(declared, override guard.RiskTier) guard.RiskTier {
	if override == "" {
		return declared
	}
	if tierRank(override) > tierRank(declared) {
		return override
	}
	return declared
}

func tierRank(t guard.RiskTier) int {
	switch t {
	case guard.RiskLow:
		return 1
	case guard.RiskMedium:
		return 2
	default:
		return 3
	}
}

func clearSecrets(secrets map[string]string) {
	for k := range secrets {
		delete(secrets, k)
	}
}
