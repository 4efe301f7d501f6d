package dispatch

import (
	"context"
	"fmt"

	"github.com/omni-agent/omnicore/audit"
	"github.com/omni-agent/omnicore/guard"
)

// Vault mutations are themselves gated actions: each one goes through the
// approval engine and leaves the same audit trail as a tool invocation.
// Reads (Get) are not gated here; they happen inside Invoke after the
// invocation itself was approved.

// PutSecret stores a secret after approval. The value travels straight
// from the caller to the vault; the approval summary and audit trail carry
// only the name.
func (c *Coordinator) PutSecret(ctx context.Context, name, value string) error {
	err := c.gatedVaultOp(ctx, guard.ActionOther, guard.RiskMedium, "vault_put", name,
		fmt.Sprintf("store secret %q", name),
		func() error { return c.vault.Put(name, value) })
	if err != nil {
		return err
	}
	// Known secret names become literal masking rules so a leaked
	// name=value pair can never survive into the log.
	c.auditor.Masker().RegisterSecretName(name)
	return nil
}

// DeleteSecret removes a secret after approval. Erasing history is the
// destructive variant and is always high risk.
func (c *Coordinator) DeleteSecret(ctx context.Context, name string, eraseHistory bool) error {
	tier := guard.RiskMedium
	summary := fmt.Sprintf("delete secret %q (history kept)", name)
	if eraseHistory {
		tier = guard.RiskHigh
		summary = fmt.Sprintf("erase secret %q and its history", name)
	}
	return c.gatedVaultOp(ctx, guard.ActionOther, tier, "vault_delete", name, summary,
		func() error { return c.vault.Delete(name, eraseHistory) })
}

// RestoreSecret brings an archived revision back after approval.
func (c *Coordinator) RestoreSecret(ctx context.Context, name string, version int) error {
	return c.gatedVaultOp(ctx, guard.ActionRestore, guard.RiskMedium, "vault_restore", name,
		fmt.Sprintf("restore secret %q to archived version %d", name, version),
		func() error { return c.vault.Restore(name, version) })
}

// RotatePIN re-encrypts the vault under a new PIN after approval. Always
// high risk: it invalidates the old credential.
func (c *Coordinator) RotatePIN(ctx context.Context, newPIN string) error {
	return c.gatedVaultOp(ctx, guard.ActionOther, guard.RiskHigh, "vault_rotate_key", "vault",
		"rotate vault encryption key",
		func() error { return c.vault.RotateKey(newPIN) })
}

func (c *Coordinator) gatedVaultOp(ctx context.Context, kind guard.ActionKind, tier guard.RiskTier, action, target, summary string, op func() error) error {
	if !c.vault.Unlocked() {
		c.logOutcome(ctx, action, target, "", audit.OutcomeDenied, "session locked")
		return ErrSessionLocked
	}

	id, err := c.submitQueued(ctx, kind, target, summary, tier)
	if err != nil {
		return err
	}
	state, err := c.engine.Await(ctx, id)
	if err != nil {
		c.logOutcome(ctx, action, target, id, audit.OutcomeCancelled, "aborted while awaiting approval")
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	switch state {
	case guard.StateApproved:
	case guard.StateDenied:
		c.logOutcome(ctx, action, target, id, audit.OutcomeDenied, "not executed")
		return ErrDenied
	case guard.StateExpired:
		c.logOutcome(ctx, action, target, id, audit.OutcomeTimedOut, "not executed")
		return ErrExpired
	case guard.StateCancelled:
		c.logOutcome(ctx, action, target, id, audit.OutcomeCancelled, "not executed")
		return ErrCancelled
	default:
		return fmt.Errorf("unexpected approval state: %s", state)
	}

	if err := op(); err != nil {
		if logErr := c.logOutcomeErr(ctx, action, target, id, audit.OutcomeFailure, err.Error()); logErr != nil {
			return logErr
		}
		return err
	}
	return c.logOutcomeErr(ctx, action, target, id, audit.OutcomeSuccess, "")
}
