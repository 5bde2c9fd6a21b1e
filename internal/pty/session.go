package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
)

// Session runs one command attached to the slave side of a PTY and reads
// its output from the master side.
type Session struct {
	Command   string
	Args      []string
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	buffer *RingBuffer

	// done is closed once the command exited and its output was drained.
	done       chan struct{}
	outputDone chan struct{}

	mu       sync.Mutex
	running  bool
	err      error
	exitCode int

	onOutput func(chunk string)
	cfgDir   string
	cfgEnv   []string
	cols     uint16
	rows     uint16
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// MaxLines caps the output kept in memory; older lines are dropped.
	MaxLines int
	// OnOutput receives output chunks as they arrive, before line splitting.
	OnOutput func(chunk string)
	Dir      string
	Env      []string
	// Cols and Rows set the terminal size; zero means 80x24.
	Cols, Rows uint16
}

// NewSession allocates a session. Start runs the command.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		buffer:     NewRingBuffer(cfg.MaxLines),
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
		onOutput:   cfg.OnOutput,
		cfgDir:     cfg.Dir,
		cfgEnv:     cfg.Env,
		cols:       cfg.Cols,
		rows:       cfg.Rows,
	}
}

// Start runs command with args in a new PTY.
func (s *Session) Start(command string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.cmd != nil {
		return fmt.Errorf("session already started")
	}

	s.Command = command
	s.Args = args
	s.StartedAt = time.Now()

	s.cmd = exec.Command(command, args...)
	s.cmd.Dir = s.cfgDir
	if len(s.cfgEnv) > 0 {
		s.cmd.Env = append(os.Environ(), s.cfgEnv...)
	}

	size := &pty.Winsize{Cols: 80, Rows: 24}
	if s.cols > 0 && s.rows > 0 {
		size = &pty.Winsize{Cols: s.cols, Rows: s.rows}
	}
	ptmx, err := pty.StartWithSize(s.cmd, size)
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	s.ptmx = ptmx
	s.running = true

	go s.captureOutput()
	go s.waitForExit()
	return nil
}

// captureOutput forwards raw chunks to onOutput and keeps complete lines in
// the ring buffer.
func (s *Session) captureOutput() {
	defer close(s.outputDone)

	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return
	}

	buf := make([]byte, 4096)
	var pendingLine strings.Builder
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := normalizeNewlines(sanitizeUTF8(string(buf[:n])))
			if s.onOutput != nil {
				s.onOutput(chunk)
			}
			s.extractAndBufferLines(chunk, &pendingLine)
		}
		if err != nil {
			if pendingLine.Len() > 0 {
				s.buffer.Write(pendingLine.String())
			}
			// Linux reports EIO on the master once the slave side is gone.
			if err != io.EOF && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// extractAndBufferLines writes the complete lines of chunk to the buffer
// and leaves a trailing partial line in pendingLine.
func (s *Session) extractAndBufferLines(chunk string, pendingLine *strings.Builder) {
	if pendingLine.Len() > 0 {
		chunk = pendingLine.String() + chunk
		pendingLine.Reset()
	}
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx == -1 {
			pendingLine.WriteString(chunk)
			return
		}
		s.buffer.Write(chunk[:idx+1])
		chunk = chunk[idx+1:]
	}
}

func (s *Session) waitForExit() {
	waitErr := s.cmd.Wait()

	<-s.outputDone

	s.mu.Lock()
	s.running = false
	s.exitCode = exitCode(s.cmd, waitErr)
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	s.mu.Unlock()

	close(s.done)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
	}
	if waitErr != nil {
		// Killed by a signal.
		return -1
	}
	return 0
}

// sanitizeUTF8 replaces invalid UTF-8 with U+FFFD so the output can travel
// in JSON messages.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// normalizeNewlines undoes the terminal's CRLF translation.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Write sends input to the command.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return 0, fmt.Errorf("session not started")
	}
	return ptmx.Write(p)
}

// Output returns the output kept in the ring buffer.
func (s *Session) Output() string { return s.buffer.String() }

// Lines returns the captured output lines.
func (s *Session) Lines() []string { return s.buffer.Lines() }

// Truncated reports whether output lines were dropped.
func (s *Session) Truncated() bool { return s.buffer.Dropped() > 0 }

// Done is closed when the command has exited and its output was read.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ExitCode returns the command's exit status once Done is closed; -1 means
// it was killed by a signal.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Error returns the error that ended output capture, if any.
func (s *Session) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop kills the command. It is a no-op once the command exited.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := killGroup(s.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill command: %w", err)
	}
	return nil
}
