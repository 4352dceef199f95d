package sshutils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"golang.org/x/crypto/ssh"
)

// SSHConfig holds the configuration for SSH connections
type SSHConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	PrivateKeyPath     string
	PrivateKeyMaterial []byte
	Timeout            time.Duration
	HostKeyCallback    ssh.HostKeyCallback
	SSHDialer          SSHDialer
}

// NewSSHConfig returns a config for key or password login. Key material
// is read eagerly so a bad key fails here rather than in the poll loop.
func NewSSHConfig(host string, port int, user, privateKeyPath, password string) (*SSHConfig, error) {
	c := &SSHConfig{
		Host:           host,
		Port:           port,
		User:           user,
		Password:       password,
		PrivateKeyPath: privateKeyPath,
		Timeout:        SSHDialTimeout,
		SSHDialer:      &defaultSSHDialer{},
	}
	if privateKeyPath != "" {
		material, err := ReadPrivateKey(privateKeyPath)
		if err != nil {
			return nil, err
		}
		c.PrivateKeyMaterial = material
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *SSHConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, fmt.Errorf("host cannot be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port number: %d", c.Port))
	}
	if c.User == "" {
		errs = append(errs, fmt.Errorf("user cannot be empty"))
	}
	if c.Password == "" && len(c.PrivateKeyMaterial) == 0 && c.PrivateKeyPath == "" {
		errs = append(errs, fmt.Errorf("either a password or a private key is required"))
	}
	return errors.Join(errs...)
}

func (c *SSHConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig builds the x/crypto client config. Host keys are not
// verified unless HostKeyCallback is set: test containers generate fresh
// host keys on every start.
func (c *SSHConfig) ClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	material := c.PrivateKeyMaterial
	if len(material) == 0 && c.PrivateKeyPath != "" {
		var err error
		if material, err = ReadPrivateKey(c.PrivateKeyPath); err != nil {
			return nil, err
		}
	}
	if len(material) > 0 {
		signer, err := ssh.ParsePrivateKey(material)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	hostKeyCallback := c.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = SSHDialTimeout
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Connect performs a single connection attempt.
func (c *SSHConfig) Connect(ctx context.Context) (SSHClienter, error) {
	l := logger.FromContext(ctx)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	clientConfig, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}

	dialer := c.SSHDialer
	if dialer == nil {
		dialer = &defaultSSHDialer{}
	}

	l.Debugf("Connecting to SSH server: %s@%s", c.User, c.Address())
	return dialer.Dial(ctx, "tcp", c.Address(), clientConfig)
}

// SFTPSession is an SFTP client that also closes its SSH connection.
type SFTPSession struct {
	SFTPClienter
	ssh SSHClienter
}

func (s *SFTPSession) Close() error {
	sftpErr := s.SFTPClienter.Close()
	sshErr := s.ssh.Close()
	return errors.Join(sftpErr, sshErr)
}

// NewSFTPClient connects and starts the sftp subsystem.
func (c *SSHConfig) NewSFTPClient(ctx context.Context) (*SFTPSession, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	sftpClient, err := client.NewSFTP()
	if err != nil {
		client.Close()
		return nil, err
	}
	return &SFTPSession{SFTPClienter: sftpClient, ssh: client}, nil
}
