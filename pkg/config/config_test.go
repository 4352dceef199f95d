package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bacalhau-project/sftpbox/internal/testdata"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestNewWithDefaults(t *testing.T) {
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	t.Setenv("HOME", t.TempDir())

	v, err := New("")
	require.NoError(t, err)

	e := EntrypointFromViper(v)
	assert.Equal(t, "/etc/sftp/users.conf", e.Paths.UsersConf)
	assert.Equal(t, "/etc/sftp-users.conf", e.Paths.LegacyUsersConf)
	assert.Equal(t, "/var/run/sftp/users.conf", e.Paths.FinalUsersConf)
	assert.Equal(t, "/etc/sftp.d", e.Paths.ScriptsDir)
	assert.Equal(t, []string{"-D", "-e"}, e.SSHDArgs)
	assert.Equal(t, []string{"ed25519", "rsa"}, e.HostKeyTypes)
	assert.Equal(t, 4096, e.RSABits)
	assert.Equal(t, "users", e.UsersGroup)
	assert.Equal(t, 100, e.UsersGID)

	h := HarnessFromViper(v)
	assert.Equal(t, "docker", h.Engine)
	assert.Equal(t, 30*time.Second, h.ReadyTimeout)
	assert.Equal(t, "127.0.0.1", h.Host)

	require.NoError(t, Validate(v))
}

func TestNewReadsConfigFile(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "sftpbox.yaml", testdata.TestGenericConfig)

	v, err := New(cfg)
	require.NoError(t, err)

	e := EntrypointFromViper(v)
	assert.Equal(t, "/tmp/sftpbox-test/users.conf", e.Paths.UsersConf)
	assert.Equal(t, "/tmp/sftpbox-test/home", e.Paths.HomeRoot)
	assert.Equal(t, 2048, e.RSABits)

	lc := LoggerFromViper(v)
	assert.Equal(t, "debug", lc.Level)
	assert.False(t, lc.EnableConsole)

	h := HarnessFromViper(v)
	assert.Equal(t, "sftpbox:test", h.Image)
	assert.Equal(t, 45*time.Second, h.ReadyTimeout)
	assert.Equal(t, "debug", v.GetString(KeyLogLevel))
}

func TestNewReadsHomeConfig(t *testing.T) {
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeConfig(t, home, ".sftpbox.yaml", "harness:\n  image: from-home:1\n")

	v, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "from-home:1", v.GetString(KeyHarnessImage))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "sftpbox.yaml", testdata.TestGenericConfig)
	t.Setenv("SFTPBOX_HARNESS_IMAGE", "override:2")
	t.Setenv("SFTPBOX_HOSTKEYS_RSA_BITS", "3072")

	v, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "override:2", HarnessFromViper(v).Image)
	assert.Equal(t, 3072, EntrypointFromViper(v).RSABits)
}

func TestSFTPUsersIsRead(t *testing.T) {
	t.Setenv(UsersEnvVar, "a:1 b:2")
	v, err := New(writeConfig(t, t.TempDir(), "c.yaml", "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "a:1 b:2", EntrypointFromViper(v).EnvUsers)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "bad.yaml", `
paths:
  home_root: ""
hostkeys:
  types: [ed25519, dsa]
  rsa_bits: 1024
harness:
  ready_timeout: 0s
`)
	v, err := New(cfg)
	require.NoError(t, err)

	err = Validate(v)
	require.Error(t, err)
	for _, want := range []string{KeyHomeRoot, "dsa", KeyRSABits, KeyHarnessReadyTimeout} {
		assert.Contains(t, err.Error(), want)
	}
}
