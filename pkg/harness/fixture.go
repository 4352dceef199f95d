package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/hostkeys"
	"github.com/bacalhau-project/sftpbox/pkg/sshutils"
	"github.com/spf13/afero"
)

const (
	fixtureKeyName    = "id_ed25519"
	fixtureKeyComment = "sftpbox-test"
)

// Fixture is a throwaway directory on the host holding everything a
// scenario mounts into its container: a user key pair, users.conf files
// and sftp.d scripts.
type Fixture struct {
	Dir            string
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      []byte

	fs afero.Fs
}

// NewFixture creates the directory and a fresh ed25519 key pair.
func NewFixture() (*Fixture, error) {
	fs := afero.NewOsFs()
	dir, err := afero.TempDir(fs, "", "sftpbox-fixture-")
	if err != nil {
		return nil, fmt.Errorf("failed to create fixture dir: %w", err)
	}
	// the container reads mounts as other users
	if err := fs.Chmod(dir, 0755); err != nil {
		_ = fs.RemoveAll(dir)
		return nil, err
	}

	priv, pub, err := hostkeys.GenerateKeyPair(hostkeys.KeyTypeEd25519, 0, fixtureKeyComment)
	if err != nil {
		_ = fs.RemoveAll(dir)
		return nil, err
	}
	pubPath, privPath, err := sshutils.WriteKeyPair(dir, fixtureKeyName, priv, pub)
	if err != nil {
		_ = fs.RemoveAll(dir)
		return nil, err
	}

	return &Fixture{
		Dir:            dir,
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		PublicKey:      pub,
		fs:             fs,
	}, nil
}

// Path joins elem onto the fixture directory.
func (f *Fixture) Path(elem ...string) string {
	return filepath.Join(append([]string{f.Dir}, elem...)...)
}

// WriteFile writes content to name (relative to the fixture dir) and
// returns the absolute path.
func (f *Fixture) WriteFile(name, content string, mode os.FileMode) (string, error) {
	p := f.Path(name)
	if err := f.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(f.fs, p, []byte(content), mode); err != nil {
		return "", fmt.Errorf("failed to write fixture file %s: %w", name, err)
	}
	// WriteFile is subject to umask
	if err := f.fs.Chmod(p, mode); err != nil {
		return "", err
	}
	return p, nil
}

// WriteUsersConf writes one spec per line.
func (f *Fixture) WriteUsersConf(name string, specs ...string) (string, error) {
	return f.WriteFile(name, strings.Join(specs, "\n")+"\n", 0644)
}

// WriteScript writes an executable bash script.
func (f *Fixture) WriteScript(name, body string) (string, error) {
	return f.WriteFile(name, "#!/bin/bash\nset -e\n"+body+"\n", 0755)
}

// KeysDir writes copies of the public key under dir, one per name, for
// mounting as a user's .ssh/keys.
func (f *Fixture) KeysDir(dir string, names ...string) (string, error) {
	for _, name := range names {
		if _, err := f.WriteFile(filepath.Join(dir, name), string(f.PublicKey), 0644); err != nil {
			return "", err
		}
	}
	return f.Path(dir), nil
}

// Cleanup removes the fixture directory.
func (f *Fixture) Cleanup() error {
	return f.fs.RemoveAll(f.Dir)
}
