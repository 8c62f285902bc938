// dcdcomplete/helpers_client.go
// Locates and invokes the dcd-client executable.
package dcdcomplete

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Tool Runner
// =============================================================================

// ToolRunner runs one dcd-client invocation to completion.
type ToolRunner interface {
	// Run starts binary with args, writes stdin, and returns everything written to stdout and stderr.
	Run(ctx context.Context, binary string, args []string, stdin []byte) (stdout, stderr []byte, err error)
}

// processRunner spawns a fresh process per call.
type processRunner struct{}

// killGrace bounds how long Wait blocks on output pipes after the process is killed.
const killGrace = 500 * time.Millisecond

func (processRunner) Run(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// =============================================================================
// Binary Resolution
// =============================================================================

// resolveBinary returns the executable to run for cfg: binary_path when set,
// otherwise the first of binary_names found on PATH.
func resolveBinary(cfg Config) (string, error) {
	if cfg.BinaryPath != "" {
		path, err := exec.LookPath(cfg.BinaryPath)
		if err != nil {
			return "", fmt.Errorf("%w: binary_path %q: %w", ErrBinaryNotFound, cfg.BinaryPath, err)
		}
		return path, nil
	}
	for _, name := range cfg.BinaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: searched PATH for %s", ErrBinaryNotFound, strings.Join(cfg.BinaryNames, ", "))
}

// =============================================================================
// Invocation
// =============================================================================

// completionArgs builds the argument list for a completion request at offset.
func completionArgs(extra []string, offset int) []string {
	args := append([]string(nil), extra...)
	return append(args, "-c", strconv.Itoa(offset))
}

// navigationArgs builds the argument list for a symbol location request at offset.
func navigationArgs(extra []string, offset int) []string {
	args := append([]string(nil), extra...)
	return append(args, "-l", "-c", strconv.Itoa(offset))
}

// docArgs builds the argument list for a documentation request at offset.
func docArgs(extra []string, offset int) []string {
	args := append([]string(nil), extra...)
	return append(args, "-d", "-c", strconv.Itoa(offset))
}

// invoke runs dcd-client once under the configured deadline and classifies the outcome.
// Cancellation of ctx kills the process and returns the context error.
func (c *Completer) invoke(ctx context.Context, operation, filePath string, args []string, stdin []byte, logger *stdslog.Logger) (stdout []byte, err error) {
	c.configMu.RLock()
	binary := c.binary
	timeout := c.config.ToolTimeout
	c.configMu.RUnlock()
	if timeout <= 0 {
		timeout = defaultToolTimeoutSecs * time.Second
	}

	ctx, span := startToolSpan(ctx, operation, filePath)
	defer func() { endToolSpan(span, err) }()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	invLogger := logger.With("binary", binary, "args", args, "stdin_bytes", len(stdin))
	invLogger.Debug("Invoking dcd-client")

	start := time.Now()
	out, errOut, runErr := c.runner.Run(runCtx, binary, args, stdin)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case ctx.Err() != nil:
		outcome = "cancelled"
		err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		err = fmt.Errorf("%w after %s", ErrToolTimeout, timeout)
	case len(errOut) > 0:
		outcome = "reported"
		err = fmt.Errorf("%w: %s", ErrToolReported, strings.TrimSpace(string(errOut)))
	case runErr != nil:
		outcome = "failed"
		err = fmt.Errorf("%w: %w", ErrToolFailed, runErr)
	}
	recordToolMetrics(ctx, operation, elapsed, outcome)

	if err != nil {
		invLogger.Debug("dcd-client invocation unsuccessful", "outcome", outcome, "duration", elapsed, "error", err)
		return nil, err
	}
	invLogger.Debug("dcd-client invocation finished", "duration", elapsed, "stdout_bytes", len(out))
	return out, nil
}
