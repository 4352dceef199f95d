package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	CLIEngineOption func(*CLIEngine)

	// CLIEngine implements Engine for both docker and podman; the two CLIs
	// accept the same arguments for everything the harness does.
	CLIEngine struct {
		engineType  EngineType
		binaryPath  string
		execCommand ExecCommandFunc
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) CLIEngineOption {
	return func(e *CLIEngine) {
		e.execCommand = fn
	}
}

func NewCLIEngine(t EngineType, binaryPath string, opts ...CLIEngineOption) *CLIEngine {
	e := &CLIEngine{
		engineType:  t,
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func NewDockerEngine(opts ...CLIEngineOption) *CLIEngine {
	return newEngine(EngineTypeDocker, opts...)
}

func NewPodmanEngine(opts ...CLIEngineOption) *CLIEngine {
	return newEngine(EngineTypePodman, opts...)
}

func (e *CLIEngine) Name() string {
	return string(e.engineType)
}

func (e *CLIEngine) BinaryPath() string {
	return e.binaryPath
}

func (e *CLIEngine) versionFormat() string {
	if e.engineType == EngineTypePodman {
		return "{{.Version}}"
	}
	return "{{.Server.Version}}"
}

func (e *CLIEngine) Available() bool {
	if e.binaryPath == "" {
		return false
	}
	return e.CreateCommand(context.Background(), "version", "--format", e.versionFormat()).Run() == nil
}

func (e *CLIEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", e.versionFormat())
	if err != nil {
		return "", fmt.Errorf("failed to get %s version: %w", e.Name(), err)
	}
	return strings.TrimSpace(out), nil
}

// --- Argument Builders ---

func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "-e", k+"="+env[k])
	}
	return args
}

// BuildArgs returns: build [-f file] [-t tag] [--no-cache] [--build-arg k=v] <context>
func (e *CLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if opts.Dockerfile != "" {
		dockerfile := opts.Dockerfile
		if !filepath.IsAbs(dockerfile) && opts.ContextDir != "" {
			dockerfile = filepath.Join(opts.ContextDir, dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}
	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return append(args, contextDir)
}

// RunArgs returns: run [options] <image> [command...]
func (e *CLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}
	if opts.Detach {
		args = append(args, "-d")
	}
	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Privileged {
		args = append(args, "--privileged")
	}
	args = append(args, sortedEnv(opts.Env)...)
	for _, v := range opts.Volumes {
		args = append(args, "-v", v)
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", p)
	}
	args = append(args, opts.Image)
	return append(args, opts.Command...)
}

// ExecArgs returns: exec [-i] [-u user] [-e k=v] <container> <command...>
func (e *CLIEngine) ExecArgs(containerID string, command []string, opts ExecOptions) []string {
	args := []string{"exec"}
	if opts.Stdin != nil {
		args = append(args, "-i")
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	args = append(args, sortedEnv(opts.Env)...)
	args = append(args, containerID)
	return append(args, command...)
}

func (e *CLIEngine) RemoveArgs(containerID string, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	// Anonymous volumes would otherwise pile up across harness runs
	args = append(args, "-v")
	return append(args, containerID)
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the given arguments.
func (e *CLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	logger.FromContext(ctx).Debugf("%s %s", e.Name(), strings.Join(args, " "))
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandWithOutput runs the command and returns stdout. Stderr is
// folded into the error.
func (e *CLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return out.String(), e.commandError(args, errOut.String(), err)
	}
	return out.String(), nil
}

func (e *CLIEngine) RunCommandCombined(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), e.commandError(args, out.String(), err)
	}
	return out.String(), nil
}

func (e *CLIEngine) commandError(args []string, stderr string, err error) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("command %s %v failed: %w", e.Name(), args, err)
	}
	return fmt.Errorf("command %s %v failed: %w: %s", e.Name(), args, err, stderr)
}

func exitCodeResult(result *RunResult, err error) *RunResult {
	if err == nil {
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = 1
		result.Error = err
	}
	return result
}

// --- Engine Methods ---

func (e *CLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s build of %s failed: %w", e.Name(), opts.Tag, err)
	}
	return nil
}

// Run runs a container. A non-zero exit code of an attached run is reported
// in RunResult.ExitCode, not as an error.
func (e *CLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	args := e.RunArgs(opts)

	if opts.Detach {
		out, err := e.RunCommandWithOutput(ctx, args...)
		if err != nil {
			return nil, err
		}
		return &RunResult{ContainerID: strings.TrimSpace(out)}, nil
	}

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	return exitCodeResult(&RunResult{ContainerID: opts.Name}, cmd.Run()), nil
}

func (e *CLIEngine) Exec(
	ctx context.Context,
	containerID string,
	command []string,
	opts ExecOptions,
) (*RunResult, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(containerID, command, opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	return exitCodeResult(&RunResult{ContainerID: containerID}, cmd.Run()), nil
}

func (e *CLIEngine) Logs(ctx context.Context, containerID string) (string, error) {
	return e.RunCommandCombined(ctx, "logs", containerID)
}

func (e *CLIEngine) Port(ctx context.Context, containerID string, containerPort string) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "port", containerID, containerPort)
	if err != nil {
		return "", err
	}
	return ParsePortOutput(out)
}

// ParsePortOutput picks the first binding from `port` output, preferring
// IPv4. Wildcard addresses are reported as 127.0.0.1.
func ParsePortOutput(out string) (string, error) {
	var candidates []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Podman prints "22/tcp -> 0.0.0.0:1234" when no port is given
		if idx := strings.LastIndex(line, "->"); idx >= 0 {
			line = strings.TrimSpace(line[idx+2:])
		}
		candidates = append(candidates, line)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no published port in %q", strings.TrimSpace(out))
	}

	var fallback string
	for _, c := range candidates {
		host, port, err := net.SplitHostPort(c)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if ip != nil && ip.IsUnspecified() {
			if ip.To4() == nil {
				host = "::1"
			} else {
				host = "127.0.0.1"
			}
		}
		addr := net.JoinHostPort(host, port)
		if ip == nil || ip.To4() != nil {
			return addr, nil
		}
		if fallback == "" {
			fallback = addr
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("could not parse published port from %q", strings.TrimSpace(out))
}

func (e *CLIEngine) Inspect(ctx context.Context, containerID string) (*State, error) {
	out, err := e.RunCommandWithOutput(ctx, "inspect", "--format", "{{json .State}}", containerID)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &state); err != nil {
		return nil, fmt.Errorf("failed to decode state of %s: %w", containerID, err)
	}
	return &state, nil
}

func (e *CLIEngine) Remove(ctx context.Context, containerID string, force bool) error {
	_, err := e.RunCommandWithOutput(ctx, e.RemoveArgs(containerID, force)...)
	return err
}

func (e *CLIEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	_, err := e.RunCommandWithOutput(ctx, "image", "inspect", image)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}
