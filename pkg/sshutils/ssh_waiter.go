package sshutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// ErrSFTPNotReady is returned when the server did not answer in time.
var ErrSFTPNotReady = errors.New("sftp server not ready")

type WaitOptions struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnAttempt is called after every failed attempt.
	OnAttempt func(attempt int, err error)
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Timeout <= 0 {
		o.Timeout = SFTPReadyTimeout
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = SFTPInitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = SFTPMaxInterval
	}
	return o
}

// WaitForSFTP polls until an SSH handshake succeeds and the sftp subsystem
// answers Getwd, or until the timeout elapses.
func WaitForSFTP(ctx context.Context, config *SSHConfig, opts WaitOptions) error {
	if config == nil {
		return fmt.Errorf("SSH config is nil")
	}
	return waitFor(ctx, config, opts, func(ctx context.Context) error {
		return probeSFTP(ctx, config)
	})
}

func waitFor(
	ctx context.Context,
	config *SSHConfig,
	opts WaitOptions,
	probe func(ctx context.Context) error,
) error {
	l := logger.FromContext(ctx)
	if err := config.Validate(); err != nil {
		return err
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialInterval
	b.MaxInterval = opts.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	var lastErr error
	operation := func() error {
		attempt++
		err := probe(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		lastErr = err
		l.Debugf("Not ready at %s (attempt %d): %v", config.Address(), attempt, err)
		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt, err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrSFTPNotReady, config.Address(), attempt, lastErr)
	}

	l.Debugf("Ready at %s after %d attempts", config.Address(), attempt)
	return nil
}

func probeSFTP(ctx context.Context, config *SSHConfig) error {
	session, err := config.NewSFTPClient(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Getwd(); err != nil {
		return fmt.Errorf("sftp getwd failed: %w", err)
	}
	return nil
}

// ProbeUser is the account used to check that sshd is answering. It is
// expected not to exist.
const ProbeUser = "sftpbox-probe"

// WaitForSSHServer polls until sshd at host:port completes a handshake up
// to authentication. A rejected login counts as ready: the container only
// execs sshd after provisioning is done.
func WaitForSSHServer(ctx context.Context, host string, port int, opts WaitOptions) error {
	config := &SSHConfig{Host: host, Port: port, User: ProbeUser, Password: "-"}
	return waitFor(ctx, config, opts, func(ctx context.Context) error {
		client, err := config.Connect(ctx)
		if err == nil {
			return client.Close()
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil
		}
		return err
	})
}
