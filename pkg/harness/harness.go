// Package harness runs integration scenarios against an sftpbox image
// through a container engine CLI.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/container"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/sshutils"
	"github.com/google/uuid"
)

const (
	ContainerNamePrefix = "sftpbox-test-"
	SSHPort             = "22/tcp"

	DefaultHost         = "127.0.0.1"
	DefaultReadyTimeout = 30 * time.Second
)

// Settings are shared by every scenario of a run.
type Settings struct {
	Image        string
	Host         string
	ReadyTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.ReadyTimeout <= 0 {
		s.ReadyTimeout = DefaultReadyTimeout
	}
	return s
}

// StartOptions describe one container. Args are passed to the image
// entrypoint.
type StartOptions struct {
	Args       []string
	Env        map[string]string
	Volumes    []string
	Privileged bool
}

// Container is a started container with its published SSH address.
type Container struct {
	ID   string
	Name string
	Host string
	Port int
}

// T is handed to each scenario. It tracks the containers it starts so the
// runner can collect logs and remove them afterwards.
type T struct {
	Fixture  *Fixture
	Settings Settings

	engine     container.Engine
	containers []*Container
}

func newT(engine container.Engine, settings Settings, fixture *Fixture) *T {
	return &T{Fixture: fixture, Settings: settings.withDefaults(), engine: engine}
}

func containerName() string {
	return ContainerNamePrefix + uuid.NewString()
}

// Start runs a detached container with port 22 published on the
// configured host address.
func (t *T) Start(ctx context.Context, opts StartOptions) (*Container, error) {
	l := logger.FromContext(ctx)
	name := containerName()

	res, err := t.engine.Run(ctx, container.RunOptions{
		Image:      t.Settings.Image,
		Name:       name,
		Command:    opts.Args,
		Env:        opts.Env,
		Volumes:    opts.Volumes,
		Ports:      []string{t.Settings.Host + "::22"},
		Privileged: opts.Privileged,
		Detach:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", name, err)
	}

	c := &Container{ID: res.ContainerID, Name: name}
	t.containers = append(t.containers, c)
	l.Debugf("Started container %s (%s)", name, shortID(c.ID))

	addr, err := t.engine.Port(ctx, c.ID, SSHPort)
	if err != nil {
		return c, fmt.Errorf("failed to resolve ssh port of %s: %w", name, err)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return c, fmt.Errorf("unexpected port mapping %q: %w", addr, err)
	}
	c.Host = host
	if c.Port, err = strconv.Atoi(port); err != nil {
		return c, fmt.Errorf("unexpected port mapping %q: %w", addr, err)
	}
	return c, nil
}

// RunAttached runs a container to completion and returns its exit code
// and combined output. The engine removes it afterwards.
func (t *T) RunAttached(ctx context.Context, opts StartOptions) (int, string, error) {
	var out bytes.Buffer
	res, err := t.engine.Run(ctx, container.RunOptions{
		Image:      t.Settings.Image,
		Name:       containerName(),
		Command:    opts.Args,
		Env:        opts.Env,
		Volumes:    opts.Volumes,
		Privileged: opts.Privileged,
		Remove:     true,
		Stdout:     &out,
		Stderr:     &out,
	})
	if err != nil {
		return -1, out.String(), err
	}
	return res.ExitCode, out.String(), nil
}

// Exec runs command inside c and returns its stdout. A non-zero exit is
// an error carrying stderr.
func (t *T) Exec(ctx context.Context, c *Container, command ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	res, err := t.engine.Exec(ctx, c.ID, command, container.ExecOptions{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		return stdout.String(), fmt.Errorf("exec %q failed: %w", strings.Join(command, " "), err)
	}
	if res.ExitCode != 0 {
		return stdout.String(), fmt.Errorf("exec %q exited with %d: %s",
			strings.Join(command, " "), res.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Running reports whether the container is still up.
func (t *T) Running(ctx context.Context, c *Container) (bool, error) {
	state, err := t.engine.Inspect(ctx, c.ID)
	if err != nil {
		return false, err
	}
	return state.Running, nil
}

func (t *T) waitOptions() sshutils.WaitOptions {
	return sshutils.WaitOptions{Timeout: t.Settings.ReadyTimeout}
}

// WaitForSSH blocks until sshd in c answers. Provisioning is complete
// once it does.
func (t *T) WaitForSSH(ctx context.Context, c *Container) error {
	return sshutils.WaitForSSHServer(ctx, c.Host, c.Port, t.waitOptions())
}

func (t *T) passwordConfig(c *Container, user, password string) *sshutils.SSHConfig {
	return &sshutils.SSHConfig{Host: c.Host, Port: c.Port, User: user, Password: password}
}

func (t *T) keyConfig(c *Container, user string) *sshutils.SSHConfig {
	return &sshutils.SSHConfig{Host: c.Host, Port: c.Port, User: user, PrivateKeyPath: t.Fixture.PrivateKeyPath}
}

// WaitForPasswordLogin polls until user can open an sftp session.
func (t *T) WaitForPasswordLogin(ctx context.Context, c *Container, user, password string) error {
	return sshutils.WaitForSFTP(ctx, t.passwordConfig(c, user, password), t.waitOptions())
}

// WaitForKeyLogin polls until user can open an sftp session with the
// fixture key.
func (t *T) WaitForKeyLogin(ctx context.Context, c *Container, user string) error {
	return sshutils.WaitForSFTP(ctx, t.keyConfig(c, user), t.waitOptions())
}

// SFTP opens a password session. Callers close it.
func (t *T) SFTP(ctx context.Context, c *Container, user, password string) (*sshutils.SFTPSession, error) {
	return t.passwordConfig(c, user, password).NewSFTPClient(ctx)
}

// SFTPWithKey opens a session authenticated by the fixture key.
func (t *T) SFTPWithKey(ctx context.Context, c *Container, user string) (*sshutils.SFTPSession, error) {
	return t.keyConfig(c, user).NewSFTPClient(ctx)
}

// Logs returns the logs of every container started so far.
func (t *T) Logs(ctx context.Context) string {
	var b strings.Builder
	for _, c := range t.containers {
		logs, err := t.engine.Logs(ctx, c.ID)
		if err != nil {
			logs = fmt.Sprintf("<failed to read logs: %v>", err)
		}
		fmt.Fprintf(&b, "--- %s ---\n%s", c.Name, logs)
		if !strings.HasSuffix(logs, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// teardown removes all containers, then the fixture. With keep set both
// are left in place for inspection.
func (t *T) teardown(ctx context.Context, keep bool) error {
	l := logger.FromContext(ctx)
	if keep {
		for _, c := range t.containers {
			l.Infof("Keeping container %s", c.Name)
		}
		if t.Fixture != nil {
			l.Infof("Keeping fixture %s", t.Fixture.Dir)
		}
		return nil
	}

	var errs []string
	for _, c := range t.containers {
		if err := t.engine.Remove(ctx, c.ID, true); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", c.Name, err))
		}
	}
	if t.Fixture != nil {
		if err := t.Fixture.Cleanup(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("teardown failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
