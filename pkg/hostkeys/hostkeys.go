// Package hostkeys generates the SSH host keys a fresh container needs
// before sshd can start, and the user key pairs the test harness logs in
// with.
package hostkeys

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"path"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

type KeyType string

const (
	KeyTypeEd25519 KeyType = "ed25519"
	KeyTypeRSA     KeyType = "rsa"

	DefaultRSABits = 4096

	PrivateKeyMode = os.FileMode(0600)
	PublicKeyMode  = os.FileMode(0644)
)

// Options control which host keys are ensured.
type Options struct {
	Types   []KeyType
	RSABits int
	Comment string
}

func DefaultOptions() Options {
	return Options{
		Types:   []KeyType{KeyTypeEd25519, KeyTypeRSA},
		RSABits: DefaultRSABits,
		Comment: "sftpbox",
	}
}

// OptionsFor starts from DefaultOptions and overrides the key types and
// RSA size when given.
func OptionsFor(types []string, rsaBits int) Options {
	opts := DefaultOptions()
	if len(types) > 0 {
		opts.Types = make([]KeyType, 0, len(types))
		for _, t := range types {
			opts.Types = append(opts.Types, KeyType(t))
		}
	}
	if rsaBits > 0 {
		opts.RSABits = rsaBits
	}
	return opts
}

// KeyPath returns the private key path for a key type, e.g.
// /etc/ssh/ssh_host_ed25519_key.
func KeyPath(dir string, kind KeyType) string {
	return path.Join(dir, fmt.Sprintf("ssh_host_%s_key", kind))
}

// GenerateKeyPair returns an OpenSSH-format private key and an
// authorized_keys-format public key.
func GenerateKeyPair(kind KeyType, rsaBits int, comment string) ([]byte, []byte, error) {
	var (
		priv crypto.Signer
		err  error
	)
	switch kind {
	case KeyTypeEd25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case KeyTypeRSA:
		if rsaBits <= 0 {
			rsaBits = DefaultRSABits
		}
		priv, err = rsa.GenerateKey(rand.Reader, rsaBits)
	default:
		return nil, nil, fmt.Errorf("unsupported key type: %s", kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate %s key: %w", kind, err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s private key: %w", kind, err)
	}

	pub, err := ssh.NewPublicKey(priv.Public())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert %s public key: %w", kind, err)
	}

	return pem.EncodeToMemory(block), ssh.MarshalAuthorizedKey(pub), nil
}

// Ensure generates every missing host key in dir and tightens the mode of
// the ones already present. It returns the private key paths it generated.
func Ensure(ctx context.Context, fs afero.Fs, dir string, opts Options) ([]string, error) {
	l := logger.FromContext(ctx)
	if len(opts.Types) == 0 {
		opts.Types = DefaultOptions().Types
	}

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	type generated struct {
		path      string
		priv, pub []byte
	}

	var missing []KeyType
	for _, kind := range opts.Types {
		keyPath := KeyPath(dir, kind)
		exists, err := afero.Exists(fs, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", keyPath, err)
		}
		if !exists {
			missing = append(missing, kind)
		}
	}

	results := make([]generated, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range missing {
		i, kind := i, kind
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l.Infof("Generating %s host key", kind)
			priv, pub, err := GenerateKeyPair(kind, opts.RSABits, opts.Comment)
			if err != nil {
				return err
			}
			results[i] = generated{path: KeyPath(dir, kind), priv: priv, pub: pub}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var paths []string
	for _, r := range results {
		if err := afero.WriteFile(fs, r.path, r.priv, PrivateKeyMode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", r.path, err)
		}
		if err := afero.WriteFile(fs, r.path+".pub", r.pub, PublicKeyMode); err != nil {
			return nil, fmt.Errorf("failed to write %s.pub: %w", r.path, err)
		}
		paths = append(paths, r.path)
	}

	// Restrict access from other users
	for _, kind := range opts.Types {
		keyPath := KeyPath(dir, kind)
		if err := fs.Chmod(keyPath, PrivateKeyMode); err != nil {
			l.Warnf("Could not restrict permissions of %s: %v", keyPath, err)
		}
	}

	return paths, nil
}
