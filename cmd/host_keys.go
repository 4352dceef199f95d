package cmd

import (
	"fmt"

	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/hostkeys"
	"github.com/spf13/cobra"
)

func GetHostKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host-keys",
		Short: "Generate missing SSH host keys",
		Long: `Generate every missing host key in the host keys directory and force
existing private keys to mode 0600. The paths of newly generated keys are
printed, one per line.`,
		Args: cobra.NoArgs,
		RunE: runHostKeys,
	}
	cmd.Flags().String("dir", "", "host keys directory (default /etc/ssh)")
	cmd.Flags().StringSlice("types", nil, "key types to generate (ed25519, rsa)")
	cmd.Flags().Int("rsa-bits", 0, "RSA key size")
	return cmd
}

func runHostKeys(cmd *cobra.Command, _ []string) error {
	bindFlag(cmd, config.KeyHostKeysDir, "dir")
	bindFlag(cmd, config.KeyHostKeyTypes, "types")
	bindFlag(cmd, config.KeyRSABits, "rsa-bits")
	if err := config.Validate(settings); err != nil {
		return err
	}

	e := config.EntrypointFromViper(settings)
	opts := hostkeys.OptionsFor(e.HostKeyTypes, e.RSABits)
	generated, err := hostkeys.Ensure(cmd.Context(), newFs(), e.Paths.HostKeysDir, opts)
	if err != nil {
		return err
	}
	for _, p := range generated {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}
