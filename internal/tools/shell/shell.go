// Package shell implements a command execution tool guarded by the command
// sanitizer policy.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/tool"
	"github.com/agenticmail/toolgate/internal/tools/proc"
)

const maxOutputBytes = 50_000

var inputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {"type": "string", "description": "Shell command line to run"},
		"workingDir": {"type": "string", "description": "Working directory; defaults to the workspace root"}
	},
	"required": ["command"]
}`)

// Tool runs a command line through the shell inside the workspace.
type Tool struct {
	root      string
	sanitizer *guard.CommandSanitizer
	sandbox   *guard.PathSandbox
	policy    policy.CommandSanitizerPolicy
}

// New creates the shell tool rooted at root. The sanitizer policy is
// applied directly before spawning; the pipeline additionally validates
// command-shaped parameters before execution.
func New(root string, pol policy.CommandSanitizerPolicy) *Tool {
	return &Tool{
		root:      root,
		sanitizer: guard.NewCommandSanitizer(),
		sandbox:   guard.NewPathSandbox(),
		policy:    pol,
	}
}

func (t *Tool) Name() string        { return "shell" }
func (t *Tool) Description() string { return "Run a shell command in the workspace" }

func (t *Tool) InputSchema() json.RawMessage { return inputSchema }

func (t *Tool) SideEffects() []tool.SideEffect {
	return []tool.SideEffect{tool.SideEffectShell}
}

// Execute runs the command. The subprocess lives in its own process group
// and is killed with its children when the context is cancelled.
func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	command, _ := params["command"].(string)
	if command == "" {
		return tool.TextResult("command is required"), nil
	}

	if err := t.sanitizer.Validate(command, t.policy); err != nil {
		return tool.TextResult(fmt.Sprintf("blocked: %v", err)), nil
	}

	workDir := t.root
	if wd, ok := params["workingDir"].(string); ok && wd != "" {
		if !filepath.IsAbs(wd) {
			wd = filepath.Join(t.root, wd)
		}
		wsPolicy := policy.PathSandboxPolicy{Enabled: true, AllowedDirs: []string{t.root}}
		if err := t.sandbox.Validate(wd, wsPolicy); err != nil {
			return tool.TextResult(fmt.Sprintf("blocked: %v", err)), nil
		}
		workDir = wd
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	proc.SetGroupKill(cmd)

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n ")
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... [truncated, output too long]"
	}

	if err != nil {
		if ctx.Err() != nil {
			// Surface the cancellation so the pipeline records a timeout.
			return nil, ctx.Err()
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		result := tool.TextResult(output)
		result.Details = map[string]interface{}{"exitCode": exitCode}
		return result, nil
	}

	if output == "" {
		output = "(no output)"
	}
	result := tool.TextResult(output)
	result.Details = map[string]interface{}{"exitCode": 0}
	return result, nil
}

// Compile-time interface verification.
var _ tool.Tool = (*Tool)(nil)
