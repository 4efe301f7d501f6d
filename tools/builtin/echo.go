// Package builtin holds the small in-tree collaborators used for wiring
// and smoke tests. Real tools (file editor, shell runner, git client, ...)
// live outside this module and register through the same interface.
package builtin

import (
	"context"
	"fmt"

	"github.com/omni-agent/omnicore/guard"
)

// EchoTool returns its target unchanged. It exists so the dispatch path
// can be exercised end to end without granting any real capability.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string             { return "echo" }
func (t *EchoTool) Kind() guard.ActionKind   { return guard.ActionOther }
func (t *EchoTool) RiskTier() guard.RiskTier { return guard.RiskLow }

func (t *EchoTool) Execute(_ context.Context, target string, _ map[string]string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("missing target")
	}
	return target, nil
}
