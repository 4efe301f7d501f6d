package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/omni-agent/omnicore/audit"
	"github.com/omni-agent/omnicore/internal/strutil"
)

const summaryMaxBytes = 256

// Config carries the approval policy for one session.
type Config struct {
	// Timeout is how long a request stays PENDING before the sweeper
	// expires it. Zero means 5 minutes.
	Timeout time.Duration

	// SweepInterval is the expiry sweeper's tick. Zero means 5 seconds.
	SweepInterval time.Duration

	// GlobalApproval auto-approves new requests whose tier is at or below
	// GlobalApprovalCeiling. High-risk requests are never auto-approved,
	// whatever the ceiling says.
	GlobalApproval        bool
	GlobalApprovalCeiling RiskTier
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.GlobalApprovalCeiling == "" {
		c.GlobalApprovalCeiling = RiskLow
	}
}

type pendingRequest struct {
	req  Request
	done chan struct{} // closed on any terminal transition
}

// Engine owns every ApprovalRequest state transition for one session. At
// most one request is PENDING at a time; a second Submit returns ErrBusy.
//
// Every transition writes exactly one audit event before the transition
// returns, so the log and the state machine cannot diverge. If the audit
// write fails, the transition does not happen.
type Engine struct {
	sessionID string
	cfg       Config
	auditor   *audit.Logger
	archive   ArchiveStore
	log       *slog.Logger

	mu       sync.Mutex
	pending  *pendingRequest
	resolved map[string]Request

	now func() time.Time
}

func NewEngine(sessionID string, cfg Config, auditor *audit.Logger, archive ArchiveStore, log *slog.Logger) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		sessionID: sessionID,
		cfg:       cfg,
		auditor:   auditor,
		archive:   archive,
		log:       log,
		resolved:  make(map[string]Request),
		now:       time.Now,
	}
}

// SetGlobalApproval toggles global-approval mode at runtime. The ceiling is
// clamped below high: high-risk actions always need an explicit decision.
func (e *Engine) SetGlobalApproval(on bool, ceiling RiskTier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.GlobalApproval = on
	if ceiling != "" {
		e.cfg.GlobalApprovalCeiling = ceiling
	}
	if e.cfg.GlobalApprovalCeiling.rank() >= RiskHigh.rank() {
		e.cfg.GlobalApprovalCeiling = RiskMedium
	}
}

// Submit creates a new PENDING request. Concurrent requests for the same
// target are not deduplicated; every call gets its own id so the audit
// trail stays complete. Under global-approval mode, requests at or below
// the ceiling transition straight to APPROVED with the same audit trail a
// human answer would have produced.
func (e *Engine) Submit(ctx context.Context, kind ActionKind, target, summary string, tier RiskTier) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		return "", ErrBusy
	}

	now := e.now().UTC()
	req := Request{
		ID:        newRequestID(),
		SessionID: e.sessionID,
		Kind:      kind,
		Summary:   strutil.Excerpt(summary, summaryMaxBytes),
		Target:    target,
		Tier:      tier,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.Timeout),
		State:     StatePending,
	}

	if err := e.emitLocked(ctx, req, audit.ActorAgent, audit.OutcomePending, "approval requested"); err != nil {
		return "", err
	}
	e.pending = &pendingRequest{req: req, done: make(chan struct{})}

	if e.cfg.GlobalApproval && tier.rank() < RiskHigh.rank() && tier.rank() <= e.cfg.GlobalApprovalCeiling.rank() {
		if err := e.transitionLocked(ctx, StateApproved, audit.ActorSystem, "auto-approved (global approval mode)", true); err != nil {
			return "", err
		}
	}

	return req.ID, nil
}

// Resolve applies a user decision to the pending request. Terminal requests
// fail with ErrAlreadyResolved; unknown ids with ErrUnknownRequest.
func (e *Engine) Resolve(ctx context.Context, id string, decision Decision, actor, comment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id = strings.TrimSpace(id)
	if e.pending == nil || e.pending.req.ID != id {
		if _, ok := e.resolved[id]; ok {
			return ErrAlreadyResolved
		}
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	var next State
	switch decision {
	case DecisionApprove:
		next = StateApproved
	case DecisionDeny:
		next = StateDenied
	default:
		return fmt.Errorf("invalid decision: %q", decision)
	}
	if strings.TrimSpace(actor) == "" {
		actor = string(audit.ActorUser)
	}

	p := e.pending
	prevActor, prevComment := p.req.Actor, p.req.Comment
	p.req.Actor = actor
	p.req.Comment = comment
	if err := e.transitionLocked(ctx, next, audit.Actor(actor), comment, false); err != nil {
		p.req.Actor, p.req.Comment = prevActor, prevComment
		return err
	}
	return nil
}

// Cancel transitions the pending request to CANCELLED. Await calls it when
// the waiting context is cancelled (user aborted the turn).
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil || e.pending.req.ID != id {
		return nil // already terminal; nothing to cancel
	}
	return e.transitionLocked(ctx, StateCancelled, audit.ActorSystem, "wait cancelled by caller", false)
}

// Status returns the current state of a request, pending or archived.
func (e *Engine) Status(id string) (Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil && e.pending.req.ID == id {
		return e.pending.req, nil
	}
	if req, ok := e.resolved[id]; ok {
		return req, nil
	}
	return Request{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
}

// Pending returns the current pending request, if any, for UI display.
func (e *Engine) Pending() (Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Request{}, false
	}
	return e.pending.req, true
}

// Await parks the caller until the request reaches a terminal state, the
// context is cancelled, or the sweeper expires it. Context cancellation
// transitions the request to CANCELLED before returning.
func (e *Engine) Await(ctx context.Context, id string) (State, error) {
	e.mu.Lock()
	var done chan struct{}
	if e.pending != nil && e.pending.req.ID == id {
		done = e.pending.done
	} else if req, ok := e.resolved[id]; ok {
		e.mu.Unlock()
		return req.State, nil
	} else {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	e.mu.Unlock()

	select {
	case <-done:
		req, err := e.Status(id)
		if err != nil {
			return "", err
		}
		return req.State, nil
	case <-ctx.Done():
		if err := e.Cancel(context.WithoutCancel(ctx), id); err != nil {
			return "", err
		}
		return StateCancelled, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// ExpireStale transitions the pending request to EXPIRED once its deadline
// has passed. Only the sweeper path may perform this transition.
func (e *Engine) ExpireStale(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil || e.now().Before(e.pending.req.ExpiresAt) {
		return nil
	}
	return e.transitionLocked(ctx, StateExpired, audit.ActorSystem, "approval timed out", false)
}

// RunSweeper drives ExpireStale on a fixed interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) {
	t := time.NewTicker(e.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.ExpireStale(ctx); err != nil {
				e.log.Error("approval_sweep_failed", "session", e.sessionID, "error", err.Error())
			}
		}
	}
}

// transitionLocked moves the pending request into a terminal state. The
// audit event is written first; if it cannot be persisted the state does
// not change (fail-closed).
func (e *Engine) transitionLocked(ctx context.Context, next State, actor audit.Actor, detail string, auto bool) error {
	p := e.pending
	if p == nil {
		return ErrAlreadyResolved
	}

	outcome := outcomeForState(next)
	req := p.req
	req.State = next
	now := e.now().UTC()
	req.ResolvedAt = &now
	req.AutoApproved = auto

	if err := e.emitLocked(ctx, req, actor, outcome, detail); err != nil {
		// Roll back the local copy; the pending request is untouched.
		return err
	}

	p.req = req
	e.resolved[req.ID] = req
	e.pending = nil
	close(p.done)

	if e.archive != nil {
		if err := e.archive.Save(ctx, req); err != nil {
			e.log.Error("approval_archive_failed", "request", req.ID, "error", err.Error())
		}
	}
	return nil
}

func (e *Engine) emitLocked(ctx context.Context, req Request, actor audit.Actor, outcome audit.Outcome, detail string) error {
	_, err := e.auditor.Record(ctx, audit.Event{
		Actor:      actor,
		Action:     string(req.Kind),
		Target:     req.Target,
		Outcome:    outcome,
		ApprovalID: req.ID,
		SessionID:  req.SessionID,
		Detail:     detail,
	})
	return err
}

func outcomeForState(s State) audit.Outcome {
	switch s {
	case StateApproved:
		return audit.OutcomeApproved
	case StateDenied:
		return audit.OutcomeDenied
	case StateExpired:
		return audit.OutcomeTimedOut
	case StateCancelled:
		return audit.OutcomeCancelled
	default:
		return audit.OutcomePending
	}
}
