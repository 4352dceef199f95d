package sshutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
)

var SSHKeyReader = func(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ExpandKeyPath resolves ~ and makes the path absolute.
func ExpandKeyPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("key path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for key file: %w", err)
	}
	return abs, nil
}

// ReadPrivateKey reads and parses an unencrypted private key.
func ReadPrivateKey(path string) ([]byte, error) {
	abs, err := ExpandKeyPath(path)
	if err != nil {
		return nil, err
	}
	material, err := SSHKeyReader(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	if _, err := ssh.ParsePrivateKey(material); err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", abs, err)
	}
	return material, nil
}

// ReadPublicKey reads an authorized_keys formatted public key.
func ReadPublicKey(path string) ([]byte, error) {
	abs, err := ExpandKeyPath(path)
	if err != nil {
		return nil, err
	}
	material, err := SSHKeyReader(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey(material); err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", abs, err)
	}
	return material, nil
}

// ValidateSSHKeysFromPath checks that both keys parse and belong together.
func ValidateSSHKeysFromPath(publicKeyPath, privateKeyPath string) error {
	log := logger.Get()
	log.Debugf("Reading public key from path: %s", publicKeyPath)
	publicKey, err := ReadPublicKey(publicKeyPath)
	if err != nil {
		return err
	}

	log.Debugf("Reading private key from path: %s", privateKeyPath)
	privateKey, err := ReadPrivateKey(privateKeyPath)
	if err != nil {
		return err
	}

	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	if string(pub.Marshal()) != string(signer.PublicKey().Marshal()) {
		return fmt.Errorf("public key %s does not match private key %s", publicKeyPath, privateKeyPath)
	}
	return nil
}

// WriteKeyPair writes name (0600) and name.pub (0644) into dir and returns
// both paths.
func WriteKeyPair(dir, name string, privateKey, publicKey []byte) (string, string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	privPath := filepath.Join(dir, name)
	pubPath := privPath + ".pub"
	if err := os.WriteFile(privPath, privateKey, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if !strings.HasSuffix(string(publicKey), "\n") {
		publicKey = append(append([]byte{}, publicKey...), '\n')
	}
	if err := os.WriteFile(pubPath, publicKey, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return pubPath, privPath, nil
}
