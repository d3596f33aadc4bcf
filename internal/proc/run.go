// Package proc runs external binaries (soffice, tesseract) under a hard
// deadline and maps their outcome onto the failure types.
package proc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/local/textpipeline/internal/failure"
	"github.com/local/textpipeline/internal/logger"
)

// Result is the captured output of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
	Took   time.Duration
}

// Run executes name with args. When timeout elapses the process is killed
// and a *failure.TimeoutError naming op is returned; a non-zero exit yields
// *failure.ProcessError. Cancellation of ctx itself is returned as ctx.Err().
func Run(ctx context.Context, op string, timeout time.Duration, name string, args ...string) (Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	logger.From(ctx).Debug().Str("cmd", name+" "+strings.Join(args, " ")).Msg("running subprocess")
	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Took: time.Since(start)}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, &failure.TimeoutError{Op: op, After: timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &failure.ProcessError{Cmd: name, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return res, failure.Wrap(err, "start %s", name)
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
