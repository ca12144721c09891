package task

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// allowedShellCommands whitelists the external commands a ShellBody
// may invoke; anything else is rejected before exec.Command runs.
var allowedShellCommands = map[string]bool{
	"echo":   true,
	"cat":    true,
	"grep":   true,
	"awk":    true,
	"sed":    true,
	"jq":     true,
	"curl":   true,
	"wget":   true,
	"python": true,
}

// ShellResult carries the captured output of a ShellBody invocation.
type ShellResult struct {
	Stdout string
	Stderr string
}

// ShellBody runs a whitelisted external command and reports FAILURE if
// the command is not on the whitelist, fails to start, or exits
// non-zero. The command is killed if ctx is cancelled mid-run.
func ShellBody(script string, onResult func(ShellResult)) Body {
	return func(ctx context.Context) (Result, error) {
		parts := strings.Fields(script)
		if len(parts) == 0 {
			return ResultFailure, fmt.Errorf("task: empty shell command")
		}
		if !allowedShellCommands[parts[0]] {
			return ResultFailure, fmt.Errorf("task: command not allowed: %s", parts[0])
		}

		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return ResultFailure, fmt.Errorf("task: command failed: %w: %s", err, stderr.String())
		}
		if onResult != nil {
			onResult(ShellResult{Stdout: stdout.String(), Stderr: stderr.String()})
		}
		return ResultSuccess, nil
	}
}
