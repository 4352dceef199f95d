package cmd

import (
	"fmt"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/display"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/sshutils"
	"github.com/spf13/cobra"
)

type waitFlags struct {
	host     string
	port     int
	user     string
	password string
	keyPath  string
	sshOnly  bool
}

func GetWaitCmd() *cobra.Command {
	flags := &waitFlags{}
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until an SFTP server accepts logins",
		Long: `Poll an SFTP server with exponential backoff until a login succeeds and
the sftp subsystem answers, or until the timeout elapses.

With --ssh-only the server only has to answer the SSH handshake; no
credentials are needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWait(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVarP(&flags.port, "port", "p", config.DefaultSSHPort, "server port")
	cmd.Flags().StringVarP(&flags.user, "user", "u", "", "login user")
	cmd.Flags().StringVar(&flags.password, "password", "", "login password")
	cmd.Flags().StringVarP(&flags.keyPath, "key", "i", "", "private key file")
	cmd.Flags().BoolVar(&flags.sshOnly, "ssh-only", false, "only wait for the SSH handshake")
	cmd.Flags().Duration("timeout", 0, "give up after this long (default harness.ready_timeout)")
	return cmd
}

func runWait(cmd *cobra.Command, flags *waitFlags) error {
	l := logger.Get()
	bindFlag(cmd, config.KeyHarnessReadyTimeout, "timeout")
	timeout := config.HarnessFromViper(settings).ReadyTimeout

	start := time.Now()
	target := fmt.Sprintf("%s:%d", flags.host, flags.port)
	spin := display.NewSpinner("Waiting for "+target, cmd.ErrOrStderr())
	done := make(chan struct{})
	go display.Elapsed(spin, start, done)

	opts := sshutils.WaitOptions{
		Timeout: timeout,
		OnAttempt: func(attempt int, err error) {
			l.Debugf("Attempt %d: %v", attempt, err)
		},
	}

	var err error
	if flags.sshOnly {
		err = sshutils.WaitForSSHServer(cmd.Context(), flags.host, flags.port, opts)
	} else {
		var c *sshutils.SSHConfig
		c, err = sshutils.NewSSHConfig(flags.host, flags.port, flags.user, flags.keyPath, flags.password)
		if err == nil {
			err = sshutils.WaitForSFTP(cmd.Context(), c, opts)
		}
	}
	close(done)

	if err != nil {
		display.Finish(spin, false, target+" not ready")
		return err
	}
	display.Finish(spin, true, fmt.Sprintf("%s ready after %s", target, time.Since(start).Round(time.Millisecond)))
	return nil
}
