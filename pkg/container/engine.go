// Package container drives the docker or podman CLI for the integration
// harness. Every operation shells out to the engine binary; nothing here
// talks to an engine API directly.
package container

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Engine defines the container operations the harness needs.
type Engine interface {
	Name() string
	Available() bool
	Version(ctx context.Context) (string, error)

	Build(ctx context.Context, opts BuildOptions) error
	// Run starts a container. Detached runs return the container ID;
	// attached runs block and report the exit code.
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
	Exec(ctx context.Context, containerID string, command []string, opts ExecOptions) (*RunResult, error)
	Logs(ctx context.Context, containerID string) (string, error)
	// Port returns the host address published for a container port, e.g.
	// "22/tcp" -> "127.0.0.1:32768".
	Port(ctx context.Context, containerID string, containerPort string) (string, error)
	Inspect(ctx context.Context, containerID string) (*State, error)
	Remove(ctx context.Context, containerID string, force bool) error
	ImageExists(ctx context.Context, image string) (bool, error)
}

type BuildOptions struct {
	ContextDir string
	Dockerfile string
	Tag        string
	BuildArgs  map[string]string
	NoCache    bool
	Stdout     io.Writer
	Stderr     io.Writer
}

type RunOptions struct {
	Image   string
	Name    string
	Command []string
	Env     map[string]string
	// Volumes in "host:container[:ro]" format
	Volumes []string
	// Ports in "[ip:]host:container" format
	Ports      []string
	Privileged bool
	Detach     bool
	Remove     bool
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type ExecOptions struct {
	User   string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type RunResult struct {
	ContainerID string
	ExitCode    int
	Error       error
}

// State is the subset of `inspect .State` the harness looks at.
type State struct {
	Status   string `json:"Status"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
	Error    string `json:"Error"`
}

type EngineType string

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

// ErrEngineNotAvailable is returned when a container engine is not available
type ErrEngineNotAvailable struct {
	Engine string
	Reason string
}

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// LookPathFunc resolves an engine binary. Replaced in tests.
type LookPathFunc func(file string) (string, error)

var lookPath LookPathFunc = exec.LookPath

func newEngine(t EngineType, opts ...CLIEngineOption) *CLIEngine {
	path, _ := lookPath(string(t))
	return NewCLIEngine(t, path, opts...)
}

// NewEngine returns the preferred engine, or the other one when the
// preferred engine is missing.
func NewEngine(preferred EngineType, opts ...CLIEngineOption) (Engine, error) {
	var fallback EngineType
	switch preferred {
	case EngineTypeDocker:
		fallback = EngineTypePodman
	case EngineTypePodman:
		fallback = EngineTypeDocker
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}

	if engine := newEngine(preferred, opts...); engine.Available() {
		return engine, nil
	}
	if engine := newEngine(fallback, opts...); engine.Available() {
		return engine, nil
	}
	return nil, &ErrEngineNotAvailable{
		Engine: string(preferred),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available",
			preferred, fallback),
	}
}

// AutoDetectEngine tries docker first, then podman.
func AutoDetectEngine(opts ...CLIEngineOption) (Engine, error) {
	for _, t := range []EngineType{EngineTypeDocker, EngineTypePodman} {
		if engine := newEngine(t, opts...); engine.Available() {
			return engine, nil
		}
	}
	return nil, &ErrEngineNotAvailable{
		Engine: "any",
		Reason: "no container engine (docker or podman) is available on this system",
	}
}
