package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

func WriteStringToTempFile(content string) (string, func(), error) {
	tempFile, err := os.CreateTemp("", "temp-*")
	if err != nil {
		return "", nil, err
	}

	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", nil, err
	}

	tempFile.Close()

	cleanup := func() {
		os.Remove(tempFile.Name())
	}

	return tempFile.Name(), cleanup, nil
}

// KeyPair is an ed25519 key pair in OpenSSH encodings.
type KeyPair struct {
	PrivatePEM    []byte
	AuthorizedKey string
	Signer        ssh.Signer
	PublicKey     ssh.PublicKey
}

// GenerateKeyPair creates a fresh ed25519 key pair.
func GenerateKeyPair(t testing.TB) KeyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "sftpbox-test")
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert public key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return KeyPair{
		PrivatePEM:    pem.EncodeToMemory(block),
		AuthorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
		Signer:        signer,
		PublicKey:     sshPub,
	}
}

// CreateSSHPublicPrivateKeyPairOnDisk writes a generated key pair to a temp
// dir and returns the public and private key paths.
func CreateSSHPublicPrivateKeyPairOnDisk(t testing.TB) (KeyPair, string, string) {
	t.Helper()
	kp := GenerateKeyPair(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "id_ed25519")
	pubPath := privPath + ".pub"
	if err := os.WriteFile(privPath, kp.PrivatePEM, 0600); err != nil {
		t.Fatalf("failed to write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, []byte(kp.AuthorizedKey+"\n"), 0644); err != nil {
		t.Fatalf("failed to write public key: %v", err)
	}
	return kp, pubPath, privPath
}

// Ownership is a recorded chown call.
type Ownership struct {
	UID int
	GID int
}

// RecordingFs wraps an afero.Fs and remembers the last chown of each path,
// since MemMapFs does not expose ownership through Stat.
type RecordingFs struct {
	afero.Fs
	mu     sync.Mutex
	owners map[string]Ownership
}

func NewRecordingFs() *RecordingFs {
	return &RecordingFs{Fs: afero.NewMemMapFs(), owners: map[string]Ownership{}}
}

func (r *RecordingFs) Chown(name string, uid, gid int) error {
	if err := r.Fs.Chown(name, uid, gid); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.owners[name]
	if ok && uid == -1 {
		uid = prev.UID
	}
	if ok && gid == -1 {
		gid = prev.GID
	}
	r.owners[name] = Ownership{UID: uid, GID: gid}
	return nil
}

// Owner returns the recorded ownership of name.
func (r *RecordingFs) Owner(name string) (Ownership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.owners[name]
	return o, ok
}
