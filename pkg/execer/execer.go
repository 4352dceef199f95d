// Package execer runs the external binaries sftpbox delegates to
// (shadow-utils, sshd, hook scripts) behind small interfaces that tests can
// replace.
package execer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
)

// Commander runs a command to completion and returns its combined output.
type Commander interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error)
}

// Streamer runs a command with its output wired to the given writers.
type Streamer interface {
	Stream(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error
}

// Execer replaces the current process image.
type Execer interface {
	Exec(argv0 string, argv []string, env []string) error
}

// ExecCommandFunc is the function signature for creating exec.Cmd.
// This allows injection of mock implementations for testing.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// CommandError represents a failed command with its output
type CommandError struct {
	Cmd      string
	Output   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command %q failed (exit %d): %v", e.Cmd, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("command %q failed (exit %d): %v: %s",
		e.Cmd, e.ExitCode, e.Err, strings.TrimSpace(e.Output))
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCodeOf returns the exit code carried by err, or -1 when err is not a
// command failure.
func ExitCodeOf(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// OSCommander runs commands on the local host.
type OSCommander struct {
	execCommand ExecCommandFunc
	env         []string
}

type OSCommanderOption func(*OSCommander)

// WithExecCommand overrides how exec.Cmd values are created.
func WithExecCommand(fn ExecCommandFunc) OSCommanderOption {
	return func(c *OSCommander) { c.execCommand = fn }
}

// WithEnv appends environment variables to every command.
func WithEnv(env ...string) OSCommanderOption {
	return func(c *OSCommander) { c.env = append(c.env, env...) }
}

func NewOSCommander(opts ...OSCommanderOption) *OSCommander {
	c := &OSCommander{execCommand: exec.CommandContext}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OSCommander) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := c.execCommand(ctx, name, args...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	return cmd
}

func (c *OSCommander) Run(
	ctx context.Context,
	stdin io.Reader,
	name string,
	args ...string,
) (string, error) {
	l := logger.FromContext(ctx)
	l.Debugf("Running %s %s", name, strings.Join(args, " "))

	var out bytes.Buffer
	cmd := c.command(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), newCommandError(name, args, out.String(), err)
	}
	return out.String(), nil
}

func (c *OSCommander) Stream(
	ctx context.Context,
	stdout, stderr io.Writer,
	name string,
	args ...string,
) error {
	cmd := c.command(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return newCommandError(name, args, "", err)
	}
	return nil
}

func newCommandError(name string, args []string, output string, err error) *CommandError {
	exitCode := 1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &CommandError{
		Cmd:      strings.TrimSpace(name + " " + strings.Join(args, " ")),
		Output:   output,
		ExitCode: exitCode,
		Err:      err,
	}
}

// SyscallExecer hands the process over with execve(2).
type SyscallExecer struct{}

func (SyscallExecer) Exec(argv0 string, argv []string, env []string) error {
	path, err := exec.LookPath(argv0)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", argv0, err)
	}
	return syscall.Exec(path, argv, env)
}
