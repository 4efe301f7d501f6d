package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/omni-agent/omnicore/guard"
	"github.com/omni-agent/omnicore/internal/clifmt"
)

// promptApprovals watches for a pending request and asks the operator to
// approve or deny it on the terminal. It returns a stop function; gated
// commands start it right before the call that will need approval.
func promptApprovals(ctx context.Context, c *core) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		seen := make(map[string]bool)
		reader := bufio.NewReader(os.Stdin)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			req, ok := c.engine.Pending()
			if !ok || seen[req.ID] {
				continue
			}
			seen[req.ID] = true
			promptOne(ctx, c, reader, req)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func promptOne(ctx context.Context, c *core, reader *bufio.Reader, req guard.Request) {
	fmt.Fprintln(os.Stderr, clifmt.Headerf("approval required"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", clifmt.Key("action:"), req.Kind)
	fmt.Fprintf(os.Stderr, "  %s %s\n", clifmt.Key("target:"), req.Target)
	fmt.Fprintf(os.Stderr, "  %s %s\n", clifmt.Key("risk:"), clifmt.Risk(string(req.Tier)))
	if req.Summary != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", clifmt.Dim(req.Summary))
	}
	fmt.Fprint(os.Stderr, "approve? [y/N] ")

	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	decision := guard.DecisionDeny
	if strings.EqualFold(strings.TrimSpace(line), "y") {
		decision = guard.DecisionApprove
	}
	if err := c.engine.Resolve(ctx, req.ID, decision, "operator", ""); err != nil {
		fmt.Fprintln(os.Stderr, clifmt.Warn("resolve failed: "+err.Error()))
	}
}
