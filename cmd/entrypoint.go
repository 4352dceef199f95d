package cmd

import (
	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/entrypoint"
	"github.com/spf13/cobra"
)

// entrypointOptions are appended to the runner options. Tests use it to
// keep the runner off the real system.
var entrypointOptions []entrypoint.Option

func GetEntrypointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entrypoint [user-spec...] | [command [args...]]",
		Short: "Provision users and host keys, then exec sshd",
		Long: `Container entrypoint.

With no arguments, or when the first argument looks like a user spec
(name:password[:e][:uid[:gid[:dirs]]]), users are created from
/etc/sftp/users.conf, the arguments and SFTP_USERS, host keys are generated
and sshd is started. Any other arguments are executed as a command after
provisioning, e.g. "entrypoint ls /".`,
		Args: cobra.ArbitraryArgs,
		RunE: runEntrypoint,
	}
	// everything after the first positional argument belongs to the
	// passthrough command
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func runEntrypoint(cmd *cobra.Command, args []string) error {
	if err := config.Validate(settings); err != nil {
		return err
	}
	runner := entrypoint.NewRunner(config.EntrypointFromViper(settings), entrypointOptions...)
	return runner.Run(cmd.Context(), args)
}
