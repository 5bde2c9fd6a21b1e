package pty

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	if e.Code < 0 {
		return "command was killed"
	}
	return fmt.Sprintf("command exited with status %d", e.Code)
}

// Runner runs shell command lines to completion under a PTY.
type Runner struct {
	// Shell runs the command line with -c; empty means /bin/sh.
	Shell string
	// MaxLines caps the returned output.
	MaxLines int
	// Timeout kills commands that run longer; zero means no limit.
	Timeout time.Duration
	// OnOutput, if set, receives output as it is produced.
	OnOutput func(chunk string)
	Logger   *slog.Logger
}

// Run executes command and returns its output with the trailing newline
// trimmed. A non-zero exit returns the output together with an *ExitError.
// Cancelling ctx kills the command.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	s := NewSession(SessionConfig{MaxLines: r.MaxLines, OnOutput: r.OnOutput})
	if err := s.Start(shell, "-c", command); err != nil {
		return "", err
	}
	logger.Debug("command started", "command", command)

	var ctxErr error
	select {
	case <-s.Done():
	case <-ctx.Done():
		ctxErr = ctx.Err()
		if err := s.Stop(); err != nil {
			logger.Warn("stop command", "command", command, "error", err)
		}
		<-s.Done()
	}

	out := strings.TrimSuffix(s.Output(), "\n")
	if s.Truncated() {
		logger.Debug("command output truncated", "command", command, "max_lines", s.buffer.Capacity())
	}
	if ctxErr != nil {
		return out, ctxErr
	}
	if err := s.Error(); err != nil {
		return out, fmt.Errorf("read command output: %w", err)
	}
	if code := s.ExitCode(); code != 0 {
		return out, &ExitError{Code: code}
	}
	logger.Debug("command finished", "command", command, "elapsed", time.Since(s.StartedAt))
	return out, nil
}
