package sshutils

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SSHClientWrapper struct {
	Client *ssh.Client
}

func (c *SSHClientWrapper) GetClient() *ssh.Client {
	return c.Client
}

func (c *SSHClientWrapper) NewSFTP() (SFTPClienter, error) {
	client, err := sftp.NewClient(c.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	return &SFTPClientWrapper{Client: client}, nil
}

func (c *SSHClientWrapper) Close() error {
	return c.Client.Close()
}

// SFTPClientWrapper adapts *sftp.Client to SFTPClienter.
type SFTPClientWrapper struct {
	Client *sftp.Client
}

func (c *SFTPClientWrapper) Getwd() (string, error) {
	return c.Client.Getwd()
}

func (c *SFTPClientWrapper) Mkdir(path string) error {
	return c.Client.Mkdir(path)
}

func (c *SFTPClientWrapper) MkdirAll(path string) error {
	return c.Client.MkdirAll(path)
}

func (c *SFTPClientWrapper) Stat(path string) (os.FileInfo, error) {
	return c.Client.Stat(path)
}

func (c *SFTPClientWrapper) ReadDir(path string) ([]os.FileInfo, error) {
	return c.Client.ReadDir(path)
}

func (c *SFTPClientWrapper) Create(path string) (io.WriteCloser, error) {
	f, err := c.Client.Create(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *SFTPClientWrapper) Open(path string) (io.ReadCloser, error) {
	f, err := c.Client.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *SFTPClientWrapper) Remove(path string) error {
	return c.Client.Remove(path)
}

func (c *SFTPClientWrapper) Close() error {
	return c.Client.Close()
}

type defaultSSHDialer struct{}

// Dial honours ctx for the TCP connect and the SSH handshake.
func (d *defaultSSHDialer) Dial(
	ctx context.Context,
	network, addr string,
	config *ssh.ClientConfig,
) (SSHClienter, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	if !stop() {
		c.Close()
		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})
	return &SSHClientWrapper{Client: ssh.NewClient(c, chans, reqs)}, nil
}
