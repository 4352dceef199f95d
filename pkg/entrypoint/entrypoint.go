// Package entrypoint is the container's PID 1 wrapper. On first start it
// collects user specs from the mounted users.conf, the command line and
// SFTP_USERS, creates the accounts, generates host keys, runs the hook
// scripts in /etc/sftp.d and finally replaces itself with sshd or with the
// passthrough command.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/accounts"
	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/execer"
	"github.com/bacalhau-project/sftpbox/pkg/hostkeys"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/models"
	"github.com/bacalhau-project/sftpbox/pkg/userspec"
	"github.com/spf13/afero"
)

// ErrNoUsers is returned when sshd would start without any account.
var ErrNoUsers = errors.New("no users provided")

// ExitCodeNoUsers is the process exit code for ErrNoUsers.
const ExitCodeNoUsers = 3

const finalConfMode = os.FileMode(0644)

// UserCreator creates one account.
type UserCreator interface {
	CreateUser(ctx context.Context, spec *models.UserSpec) error
}

type Runner struct {
	Settings config.Entrypoint
	Fs       afero.Fs
	Users    UserCreator
	Streamer execer.Streamer
	Execer   execer.Execer
	Environ  func() []string
	Stdout   io.Writer
	Stderr   io.Writer
}

type Option func(*Runner)

func WithFs(fs afero.Fs) Option {
	return func(r *Runner) { r.Fs = fs }
}

func WithUserCreator(u UserCreator) Option {
	return func(r *Runner) { r.Users = u }
}

func WithStreamer(s execer.Streamer) Option {
	return func(r *Runner) { r.Streamer = s }
}

func WithExecer(e execer.Execer) Option {
	return func(r *Runner) { r.Execer = e }
}

func WithEnviron(fn func() []string) Option {
	return func(r *Runner) { r.Environ = fn }
}

func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) { r.Stdout, r.Stderr = stdout, stderr }
}

// NewRunner wires the runner to the real system unless overridden.
func NewRunner(settings config.Entrypoint, opts ...Option) *Runner {
	commander := execer.NewOSCommander()
	r := &Runner{
		Settings: settings,
		Fs:       afero.NewOsFs(),
		Streamer: commander,
		Execer:   execer.SyscallExecer{},
		Environ:  os.Environ,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Users == nil {
		m := accounts.NewManager(commander, r.Fs, settings.Paths.HomeRoot)
		if settings.UsersGroup != "" {
			m.UsersGroup = settings.UsersGroup
		}
		if settings.UsersGID > 0 {
			m.FallbackGID = settings.UsersGID
		}
		r.Users = m
	}
	return r
}

// StartsSSHD reports whether args ask for sshd rather than a passthrough
// command.
func StartsSSHD(args []string) bool {
	return len(args) == 0 || userspec.LooksLikeSpec(args[0])
}

// Run provisions the container and execs the final process. It only
// returns on failure, or after Execer returns in tests.
func (r *Runner) Run(ctx context.Context, args []string) error {
	l := logger.FromContext(ctx)
	startSSHD := StartsSSHD(args)

	if err := r.linkLegacyConfig(ctx); err != nil {
		return err
	}

	firstRun, err := r.isFirstRun()
	if err != nil {
		return err
	}
	if firstRun {
		if err := r.provision(ctx, args, startSSHD); err != nil {
			return err
		}
	} else {
		l.Debugf("%s exists, skipping provisioning", r.Settings.Paths.FinalUsersConf)
	}

	if err := r.runScripts(ctx); err != nil {
		return err
	}

	env := r.Environ()
	if startSSHD {
		l.Info("Executing sshd")
		argv := append([]string{r.Settings.SSHDBinary}, r.Settings.SSHDArgs...)
		return r.Execer.Exec(r.Settings.SSHDBinary, argv, env)
	}

	l.Infof("Executing %s", strings.Join(args, " "))
	return r.Execer.Exec(args[0], args, env)
}

func (r *Runner) isFirstRun() (bool, error) {
	exists, err := afero.Exists(r.Fs, r.Settings.Paths.FinalUsersConf)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", r.Settings.Paths.FinalUsersConf, err)
	}
	return !exists, nil
}

// linkLegacyConfig points users.conf at the legacy location when only the
// legacy file is mounted.
func (r *Runner) linkLegacyConfig(ctx context.Context) error {
	p := r.Settings.Paths
	if p.LegacyUsersConf == "" {
		return nil
	}
	current, err := afero.Exists(r.Fs, p.UsersConf)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p.UsersConf, err)
	}
	legacy, err := afero.Exists(r.Fs, p.LegacyUsersConf)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p.LegacyUsersConf, err)
	}
	if current || !legacy {
		return nil
	}

	logger.FromContext(ctx).Infof("Using legacy config %s", p.LegacyUsersConf)
	if err := r.Fs.MkdirAll(path.Dir(p.UsersConf), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(p.UsersConf), err)
	}
	if linker, ok := r.Fs.(afero.Linker); ok {
		if err := linker.SymlinkIfPossible(p.LegacyUsersConf, p.UsersConf); err == nil {
			return nil
		}
	}

	data, err := afero.ReadFile(r.Fs, p.LegacyUsersConf)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", p.LegacyUsersConf, err)
	}
	return afero.WriteFile(r.Fs, p.UsersConf, data, finalConfMode)
}

// CollectUsers builds the final list of spec lines: mounted config first,
// then arguments (only when starting sshd), then SFTP_USERS.
func (r *Runner) CollectUsers(args []string, startSSHD bool) ([]string, error) {
	var lines []string

	f, err := r.Fs.Open(r.Settings.Paths.UsersConf)
	switch {
	case err == nil:
		stripped, err := userspec.StripConfig(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", r.Settings.Paths.UsersConf, err)
		}
		lines = append(lines, stripped...)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to open %s: %w", r.Settings.Paths.UsersConf, err)
	}

	if startSSHD {
		lines = append(lines, args...)
	}
	lines = append(lines, userspec.SplitEnv(r.Settings.EnvUsers)...)
	return lines, nil
}

func (r *Runner) provision(ctx context.Context, args []string, startSSHD bool) error {
	l := logger.FromContext(ctx)
	final := r.Settings.Paths.FinalUsersConf

	lines, err := r.CollectUsers(args, startSSHD)
	if err != nil {
		return err
	}
	// no final config, so the next start checks for users again
	if len(lines) == 0 && startSSHD {
		l.Error("FATAL: No users provided!")
		return ErrNoUsers
	}

	if err := r.Fs.MkdirAll(path.Dir(final), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(final), err)
	}
	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := afero.WriteFile(r.Fs, final, []byte(content), finalConfMode); err != nil {
		return fmt.Errorf("failed to write %s: %w", final, err)
	}

	for i, line := range lines {
		spec, err := userspec.Parse(line)
		if err != nil {
			return fmt.Errorf("user %d: %w", i+1, err)
		}
		if err := r.Users.CreateUser(ctx, spec); err != nil {
			return fmt.Errorf("failed to create user %s: %w", spec.Name, err)
		}
	}

	_, err = hostkeys.Ensure(ctx, r.Fs, r.Settings.Paths.HostKeysDir, r.hostKeyOptions())
	return err
}

func (r *Runner) hostKeyOptions() hostkeys.Options {
	return hostkeys.OptionsFor(r.Settings.HostKeyTypes, r.Settings.RSABits)
}

// runScripts runs every executable file in the scripts dir in name order.
func (r *Runner) runScripts(ctx context.Context) error {
	l := logger.FromContext(ctx)
	dir := r.Settings.Paths.ScriptsDir
	if dir == "" {
		return nil
	}
	ok, err := afero.DirExists(r.Fs, dir)
	if err != nil || !ok {
		return nil
	}

	entries, err := afero.ReadDir(r.Fs, dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, entry := range entries {
		script := path.Join(dir, entry.Name())
		if entry.IsDir() || entry.Mode().Perm()&0111 == 0 {
			l.Warnf("Could not run %s, because it's missing execute permission (+x).", script)
			continue
		}
		l.Infof("Running %s ...", script)
		if err := r.Streamer.Stream(ctx, r.Stdout, r.Stderr, script); err != nil {
			return fmt.Errorf("script %s failed: %w", script, err)
		}
	}
	return nil
}
