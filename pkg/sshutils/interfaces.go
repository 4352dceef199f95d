package sshutils

import (
	"context"
	"io"
	"os"

	"golang.org/x/crypto/ssh"
)

// SSHClienter is an established SSH connection.
type SSHClienter interface {
	NewSFTP() (SFTPClienter, error)
	GetClient() *ssh.Client
	Close() error
}

// SSHDialer opens SSH connections. Replaced by MockSSHDialer in tests.
type SSHDialer interface {
	Dial(ctx context.Context, network, addr string, config *ssh.ClientConfig) (SSHClienter, error)
}

// SFTPClienter is the subset of *sftp.Client the harness uses.
type SFTPClienter interface {
	Getwd() (string, error)
	Mkdir(path string) error
	MkdirAll(path string) error
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
	Close() error
}

var (
	_ SSHClienter  = &SSHClientWrapper{}
	_ SFTPClienter = &SFTPClientWrapper{}
	_ SSHDialer    = &defaultSSHDialer{}
)
