package harness

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/hostkeys"
)

// Scenario is one integration check. Run starts whatever containers it
// needs through t and returns nil when the behaviour holds.
type Scenario struct {
	Name        string
	Description string
	// Privileged scenarios need --privileged containers.
	Privileged bool
	Run        func(ctx context.Context, t *T) error
}

const (
	encryptedUser = "foo"
	encryptedHash = "$1$0G2g0GSt$ewU0t6GXG15.0hWoOX8X9."
)

// Catalog returns every known scenario in a stable order.
func Catalog() []Scenario {
	return []Scenario{
		{
			Name:        "MinimalContainerStart",
			Description: "a single user with an empty password keeps the container running",
			Run:         minimalContainerStart,
		},
		{
			Name:        "CreateUserWithDot",
			Description: "user names may contain dots",
			Run:         createUserWithDot,
		},
		{
			Name:        "UserCustomUIDAndGID",
			Description: "explicit uid and gid are applied",
			Run:         userCustomUIDAndGID,
		},
		{
			Name:        "CommandPassthrough",
			Description: "a non-spec argument runs as a command instead of sshd",
			Run:         commandPassthrough,
		},
		{
			Name:        "UsersConf",
			Description: "users are read from a mounted /etc/sftp/users.conf",
			Run:         usersConf,
		},
		{
			Name:        "LegacyUsersConf",
			Description: "the legacy /etc/sftp-users.conf path still works",
			Run:         legacyUsersConf,
		},
		{
			Name:        "UsersFromEnv",
			Description: "users are read from SFTP_USERS",
			Run:         usersFromEnv,
		},
		{
			Name:        "UsersCombined",
			Description: "config file, SFTP_USERS and arguments are merged",
			Run:         usersCombined,
		},
		{
			Name:        "NoUsersIsFatal",
			Description: "starting sshd without users exits with code 3",
			Run:         noUsersIsFatal,
		},
		{
			Name:        "HostKeysGenerated",
			Description: "missing host keys are generated with mode 600",
			Run:         hostKeysGenerated,
		},
		{
			Name:        "HomeDirIsChrootSafe",
			Description: "home directories are root owned and mode 755",
			Run:         homeDirIsChrootSafe,
		},
		{
			Name:        "PublicKeyLogin",
			Description: "keys mounted under .ssh/keys allow key login",
			Run:         publicKeyLogin,
		},
		{
			Name:        "DuplicateSSHKeys",
			Description: "the same key mounted twice is written once",
			Run:         duplicateSSHKeys,
		},
		{
			Name:        "WriteAccessToAutocreatedDirs",
			Description: "the user can write into directories listed in its user line",
			Run:         writeAccessToAutocreatedDirs,
		},
		{
			Name:        "EncryptedPassword",
			Description: "pre-encrypted passwords are stored verbatim",
			Run:         encryptedPassword,
		},
		{
			Name:        "BindMountDirScript",
			Description: "scripts in /etc/sftp.d run before sshd and can bind mount",
			Privileged:  true,
			Run:         bindMountDirScript,
		},
	}
}

// Select returns the scenarios named in names (all when empty) whose name
// matches pattern (all when empty). Unknown names are an error.
func Select(scenarios []Scenario, pattern string, names ...string) ([]Scenario, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid scenario pattern %q: %w", pattern, err)
		}
	}

	byName := make(map[string]Scenario, len(scenarios))
	for _, s := range scenarios {
		byName[s.Name] = s
	}

	candidates := scenarios
	if len(names) > 0 {
		candidates = make([]Scenario, 0, len(names))
		for _, name := range names {
			s, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("unknown scenario %q", name)
			}
			candidates = append(candidates, s)
		}
	}

	var selected []Scenario
	for _, s := range candidates {
		if re == nil || re.MatchString(s.Name) {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

func expectContains(what, output, substr string) error {
	if !strings.Contains(output, substr) {
		return fmt.Errorf("%s: expected %q in output %q", what, substr, strings.TrimSpace(output))
	}
	return nil
}

func expectEqual(what, got, want string) error {
	if got != want {
		return fmt.Errorf("%s: expected %q, got %q", what, want, got)
	}
	return nil
}

// startReady starts a container and waits for sshd.
func startReady(ctx context.Context, t *T, opts StartOptions) (*Container, error) {
	c, err := t.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := t.WaitForSSH(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func userExists(ctx context.Context, t *T, c *Container, names ...string) error {
	for _, name := range names {
		if _, err := t.Exec(ctx, c, "id", name); err != nil {
			return fmt.Errorf("user %s was not created: %w", name, err)
		}
	}
	return nil
}

func statFormat(ctx context.Context, t *T, c *Container, format, file string) (string, error) {
	out, err := t.Exec(ctx, c, "stat", "-c", format, file)
	return strings.TrimSpace(out), err
}

func minimalContainerStart(ctx context.Context, t *T) error {
	c, err := startReady(ctx, t, StartOptions{Args: []string{"m:"}})
	if err != nil {
		return err
	}
	running, err := t.Running(ctx, c)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("container %s is not running", c.Name)
	}
	return nil
}

func createUserWithDot(ctx context.Context, t *T) error {
	c, err := startReady(ctx, t, StartOptions{Args: []string{"user.with.dot:"}})
	if err != nil {
		return err
	}
	return userExists(ctx, t, c, "user.with.dot")
}

func userCustomUIDAndGID(ctx context.Context, t *T) error {
	c, err := startReady(ctx, t, StartOptions{Args: []string{"custom:pass:1234:4321"}})
	if err != nil {
		return err
	}
	out, err := t.Exec(ctx, c, "id", "custom")
	if err != nil {
		return err
	}
	if err := expectContains("uid", out, "uid=1234(custom)"); err != nil {
		return err
	}
	return expectContains("gid", out, "gid=4321(group_4321)")
}

func commandPassthrough(ctx context.Context, t *T) error {
	code, out, err := t.RunAttached(ctx, StartOptions{Args: []string{"ls", "/"}})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("passthrough command exited with %d: %s", code, out)
	}
	return expectContains("ls /", out, "home")
}

func usersConf(ctx context.Context, t *T) error {
	conf, err := t.Fixture.WriteUsersConf("users.conf",
		"# users", "conf-user:pass:::dir1,dir2", "", "   ")
	if err != nil {
		return err
	}
	c, err := startReady(ctx, t, StartOptions{Volumes: []string{conf + ":/etc/sftp/users.conf:ro"}})
	if err != nil {
		return err
	}
	if err := userExists(ctx, t, c, "conf-user"); err != nil {
		return err
	}
	for _, dir := range []string{"dir1", "dir2"} {
		if _, err := t.Exec(ctx, c, "test", "-d", path.Join("/home/conf-user", dir)); err != nil {
			return fmt.Errorf("directory %s was not created: %w", dir, err)
		}
	}
	return nil
}

func legacyUsersConf(ctx context.Context, t *T) error {
	conf, err := t.Fixture.WriteUsersConf("sftp-users.conf", "legacy-user:pass")
	if err != nil {
		return err
	}
	c, err := startReady(ctx, t, StartOptions{Volumes: []string{conf + ":/etc/sftp-users.conf:ro"}})
	if err != nil {
		return err
	}
	return userExists(ctx, t, c, "legacy-user")
}

func usersFromEnv(ctx context.Context, t *T) error {
	c, err := startReady(ctx, t, StartOptions{
		Env: map[string]string{"SFTP_USERS": "env-user-1::::dir1 env-user-2::::dir2"},
	})
	if err != nil {
		return err
	}
	if err := userExists(ctx, t, c, "env-user-1", "env-user-2"); err != nil {
		return err
	}
	_, err = t.Exec(ctx, c, "test", "-d", "/home/env-user-2/dir2")
	return err
}

func usersCombined(ctx context.Context, t *T) error {
	conf, err := t.Fixture.WriteUsersConf("users.conf", "conf-user:pass")
	if err != nil {
		return err
	}
	c, err := startReady(ctx, t, StartOptions{
		Args:    []string{"arg-user:pass"},
		Env:     map[string]string{"SFTP_USERS": "env-user:pass"},
		Volumes: []string{conf + ":/etc/sftp/users.conf:ro"},
	})
	if err != nil {
		return err
	}
	if err := userExists(ctx, t, c, "conf-user", "env-user", "arg-user"); err != nil {
		return err
	}
	final, err := t.Exec(ctx, c, "cat", "/var/run/sftp/users.conf")
	if err != nil {
		return err
	}
	want := "conf-user:pass\narg-user:pass\nenv-user:pass"
	return expectEqual("final users.conf", strings.TrimSpace(final), want)
}

func noUsersIsFatal(ctx context.Context, t *T) error {
	code, out, err := t.RunAttached(ctx, StartOptions{})
	if err != nil {
		return err
	}
	if code != 3 {
		return fmt.Errorf("expected exit code 3, got %d: %s", code, out)
	}
	return expectContains("error message", out, "No users provided")
}

func hostKeysGenerated(ctx context.Context, t *T) error {
	c, err := startReady(ctx, t, StartOptions{Args: []string{"m:"}})
	if err != nil {
		return err
	}
	for _, kind := range []hostkeys.KeyType{hostkeys.KeyTypeEd25519, hostkeys.KeyTypeRSA} {
		mode, err := statFormat(ctx, t, c, "%a", hostkeys.KeyPath("/etc/ssh", kind))
		if err != nil {
			return err
		}
		if err := expectEqual(string(kind)+" host key mode", mode, "600"); err != nil {
			return err
		}
	}
	return nil
}

func homeDirIsChrootSafe(ctx context.Context, t *T) error {
	c, err := startReady(ctx, t, StartOptions{Args: []string{"chroot:pass:::upload"}})
	if err != nil {
		return err
	}
	home, err := statFormat(ctx, t, c, "%U:%a", "/home/chroot")
	if err != nil {
		return err
	}
	if err := expectEqual("home dir", home, "root:755"); err != nil {
		return err
	}
	owner, err := statFormat(ctx, t, c, "%U", "/home/chroot/upload")
	if err != nil {
		return err
	}
	return expectEqual("upload dir owner", owner, "chroot")
}

func publicKeyLogin(ctx context.Context, t *T) error {
	keys, err := t.Fixture.KeysDir("keys", "id.pub")
	if err != nil {
		return err
	}
	c, err := t.Start(ctx, StartOptions{
		Args:    []string{"keyuser::1001"},
		Volumes: []string{keys + ":/home/keyuser/.ssh/keys:ro"},
	})
	if err != nil {
		return err
	}
	return t.WaitForKeyLogin(ctx, c, "keyuser")
}

func duplicateSSHKeys(ctx context.Context, t *T) error {
	keys, err := t.Fixture.KeysDir("keys", "id.pub", "id-copy.pub")
	if err != nil {
		return err
	}
	c, err := t.Start(ctx, StartOptions{
		Args:    []string{"dupuser::1002"},
		Volumes: []string{keys + ":/home/dupuser/.ssh/keys:ro"},
	})
	if err != nil {
		return err
	}
	if err := t.WaitForKeyLogin(ctx, c, "dupuser"); err != nil {
		return err
	}
	out, err := t.Exec(ctx, c, "cat", "/home/dupuser/.ssh/authorized_keys")
	if err != nil {
		return err
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || lines[0] == "" {
		return fmt.Errorf("expected one authorized key, got %q", out)
	}
	return nil
}

func writeAccessToAutocreatedDirs(ctx context.Context, t *T) error {
	c, err := t.Start(ctx, StartOptions{Args: []string{"test:pass:::dir1,dir2/dir3"}})
	if err != nil {
		return err
	}
	if err := t.WaitForPasswordLogin(ctx, c, "test", "pass"); err != nil {
		return err
	}

	session, err := t.SFTP(ctx, c, "test", "pass")
	if err != nil {
		return err
	}
	defer session.Close()

	for _, dir := range []string{"dir1", "dir2/dir3"} {
		target := path.Join("/", dir, "written.txt")
		w, err := session.Create(target)
		if err != nil {
			return fmt.Errorf("cannot create %s: %w", target, err)
		}
		_, werr := io.WriteString(w, "sftpbox\n")
		if err := w.Close(); err != nil || werr != nil {
			return fmt.Errorf("cannot write %s: %v %v", target, werr, err)
		}
		if _, err := session.Stat(target); err != nil {
			return err
		}
	}
	return nil
}

func encryptedPassword(ctx context.Context, t *T) error {
	spec := fmt.Sprintf("%s:%s:e:1001", encryptedUser, encryptedHash)
	c, err := startReady(ctx, t, StartOptions{Args: []string{spec}})
	if err != nil {
		return err
	}
	out, err := t.Exec(ctx, c, "getent", "shadow", encryptedUser)
	if err != nil {
		return err
	}
	fields := strings.Split(strings.TrimSpace(out), ":")
	if len(fields) < 2 {
		return fmt.Errorf("unexpected shadow entry %q", out)
	}
	return expectEqual("shadow hash", fields[1], encryptedHash)
}

func bindMountDirScript(ctx context.Context, t *T) error {
	if _, err := t.Fixture.WriteFile("custom/marker.txt", "bound\n", 0644); err != nil {
		return err
	}
	script, err := t.Fixture.WriteScript("mount.sh",
		"mkdir -p /home/custom/bindmount\nmount --bind /custom /home/custom/bindmount")
	if err != nil {
		return err
	}

	c, err := t.Start(ctx, StartOptions{
		Args:       []string{"custom:pass"},
		Privileged: true,
		Volumes: []string{
			t.Fixture.Path("custom") + ":/custom:ro",
			script + ":/etc/sftp.d/mount.sh:ro",
		},
	})
	if err != nil {
		return err
	}
	if err := t.WaitForPasswordLogin(ctx, c, "custom", "pass"); err != nil {
		return err
	}

	session, err := t.SFTP(ctx, c, "custom", "pass")
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Stat("/bindmount/marker.txt"); err != nil {
		return fmt.Errorf("bind mount not visible over sftp: %w", err)
	}
	return nil
}
