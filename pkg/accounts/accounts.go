// Package accounts turns parsed user specs into OS accounts using the
// shadow-utils binaries, then prepares the home directory for a chrooted
// SFTP session.
package accounts

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/authkeys"
	"github.com/bacalhau-project/sftpbox/pkg/execer"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/models"
	"github.com/spf13/afero"
)

const (
	DefaultHomeRoot  = "/home"
	DefaultUsersGID  = 100
	UsersGroup       = "users"
	HomeDirMode      = os.FileMode(0755)
	LockedPassword   = "*"
	GroupNamePrefix  = "group_"
	sshDirName       = ".ssh"
	defaultDirectory = os.FileMode(0755)
)

// Manager creates accounts on the local system.
type Manager struct {
	Commander execer.Commander
	Fs        afero.Fs
	HomeRoot  string
	// UsersGroup owns the directories listed in a spec. FallbackGID is used
	// when the group cannot be resolved.
	UsersGroup  string
	FallbackGID int
}

func NewManager(commander execer.Commander, fs afero.Fs, homeRoot string) *Manager {
	if homeRoot == "" {
		homeRoot = DefaultHomeRoot
	}
	return &Manager{
		Commander:   commander,
		Fs:          fs,
		HomeRoot:    homeRoot,
		UsersGroup:  UsersGroup,
		FallbackGID: DefaultUsersGID,
	}
}

func (m *Manager) run(ctx context.Context, name string, args ...string) (string, error) {
	return m.Commander.Run(ctx, nil, name, args...)
}

// UserExists reports whether id(1) knows the user.
func (m *Manager) UserExists(ctx context.Context, name string) bool {
	_, err := m.run(ctx, "id", "-u", name)
	return err == nil
}

// LookupUID returns the numeric uid of an existing user.
func (m *Manager) LookupUID(ctx context.Context, name string) (int, error) {
	out, err := m.run(ctx, "id", "-u", name)
	if err != nil {
		return 0, fmt.Errorf("failed to look up uid of %s: %w", name, err)
	}
	uid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unexpected uid %q for %s: %w", strings.TrimSpace(out), name, err)
	}
	return uid, nil
}

// UsersGID resolves the gid of the users group, falling back to
// FallbackGID (100 by default).
func (m *Manager) UsersGID(ctx context.Context) int {
	out, err := m.run(ctx, "getent", "group", m.UsersGroup)
	if err != nil {
		return m.FallbackGID
	}
	// users:x:100:
	fields := strings.Split(strings.TrimSpace(out), ":")
	if len(fields) < 3 {
		return m.FallbackGID
	}
	gid, err := strconv.Atoi(fields[2])
	if err != nil {
		return m.FallbackGID
	}
	return gid
}

func (m *Manager) ensureGroup(ctx context.Context, gid int) error {
	id := strconv.Itoa(gid)
	if _, err := m.run(ctx, "getent", "group", id); err == nil {
		return nil
	}
	if _, err := m.run(ctx, "groupadd", "--gid", id, GroupNamePrefix+id); err != nil {
		return fmt.Errorf("failed to create group %s: %w", id, err)
	}
	return nil
}

func useraddArgs(spec *models.UserSpec) []string {
	args := []string{"--no-user-group"}
	if spec.UID != nil {
		args = append(args, "--non-unique", "--uid", strconv.Itoa(*spec.UID))
	}
	if spec.GID != nil {
		args = append(args, "--gid", strconv.Itoa(*spec.GID))
	}
	return append(args, spec.Name)
}

// CreateUser materializes spec. An already existing user is left alone.
func (m *Manager) CreateUser(ctx context.Context, spec *models.UserSpec) error {
	l := logger.FromContext(ctx)
	if spec == nil || spec.Name == "" {
		return fmt.Errorf("user spec is empty")
	}

	if m.UserExists(ctx, spec.Name) {
		l.Warnf("User %q already exists. Skipping.", spec.Name)
		return nil
	}

	if spec.GID != nil {
		if err := m.ensureGroup(ctx, *spec.GID); err != nil {
			return err
		}
	}

	if _, err := m.run(ctx, "useradd", useraddArgs(spec)...); err != nil {
		return fmt.Errorf("failed to create user %s: %w", spec.Name, err)
	}

	home := spec.HomeDir(m.HomeRoot)
	if err := m.prepareHome(home); err != nil {
		return err
	}

	uid, err := m.LookupUID(ctx, spec.Name)
	if err != nil {
		return err
	}

	if err := m.setPassword(ctx, spec); err != nil {
		return err
	}

	installed, err := authkeys.Install(m.Fs, path.Join(home, sshDirName), uid)
	if err != nil {
		return fmt.Errorf("failed to install authorized keys for %s: %w", spec.Name, err)
	}
	if installed {
		l.Debugf("Installed authorized keys for %s", spec.Name)
	}

	if len(spec.Dirs) > 0 {
		gid := m.UsersGID(ctx)
		for _, dir := range spec.DirPaths(m.HomeRoot) {
			if err := m.createDir(ctx, dir, uid, gid); err != nil {
				return err
			}
		}
	}

	l.Infof("Created user %s (uid %d)", spec.Name, uid)
	return nil
}

// prepareHome makes the home directory usable as a chroot: root owned and
// not group or world writable.
func (m *Manager) prepareHome(home string) error {
	if err := m.Fs.MkdirAll(home, HomeDirMode); err != nil {
		return fmt.Errorf("failed to create %s: %w", home, err)
	}
	if err := m.Fs.Chown(home, 0, 0); err != nil {
		return fmt.Errorf("failed to chown %s: %w", home, err)
	}
	if err := m.Fs.Chmod(home, HomeDirMode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", home, err)
	}
	return nil
}

func (m *Manager) setPassword(ctx context.Context, spec *models.UserSpec) error {
	if !spec.HasPassword() {
		if _, err := m.run(ctx, "usermod", "-p", LockedPassword, spec.Name); err != nil {
			return fmt.Errorf("failed to lock password of %s: %w", spec.Name, err)
		}
		return nil
	}

	var args []string
	if spec.Encrypted {
		args = append(args, "-e")
	}
	stdin := strings.NewReader(spec.Name + ":" + spec.Password + "\n")
	if _, err := m.Commander.Run(ctx, stdin, "chpasswd", args...); err != nil {
		return fmt.Errorf("failed to set password of %s: %w", spec.Name, err)
	}
	return nil
}

// createDir creates dir when missing and hands the leaf to the user.
// Existing directories, usually bind mounts, are not touched.
func (m *Manager) createDir(ctx context.Context, dir string, uid, gid int) error {
	exists, err := afero.DirExists(m.Fs, dir)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if exists {
		logger.FromContext(ctx).Debugf("Directory %s already exists", dir)
		return nil
	}

	logger.FromContext(ctx).Infof("Creating directory: %s", dir)
	if err := m.Fs.MkdirAll(dir, defaultDirectory); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return chownRecursive(m.Fs, dir, uid, gid)
}

func chownRecursive(fs afero.Fs, root string, uid, gid int) error {
	return afero.Walk(fs, root, func(p string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := fs.Chown(p, uid, gid); err != nil {
			return fmt.Errorf("failed to chown %s: %w", p, err)
		}
		return nil
	})
}
