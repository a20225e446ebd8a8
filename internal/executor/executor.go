// Package executor runs validated script content in a local shell with a
// bounded execution time.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/shebangremote/shebang-remote/internal/models"
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 60 * time.Second

// Run executes the script via the shell and captures stdout, stderr and the
// exit code. A timeout is not an error: it yields a synthesized result with
// stderr "TimeoutExpired" and returncode 1, delivered like any other output.
func Run(ctx context.Context, script string, timeout time.Duration) models.CommandOutput {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return models.CommandOutput{Stdout: "", Stderr: "TimeoutExpired", ReturnCode: 1}
	}

	out := models.CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.ReturnCode = exitErr.ExitCode()
		} else {
			out.ReturnCode = -1
			if out.Stderr == "" {
				out.Stderr = err.Error()
			}
		}
	}
	return out
}
