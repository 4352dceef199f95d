package cmd

import (
	"errors"
	"fmt"

	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/entrypoint"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ExitCodeOK    = 0
	ExitCodeError = 1
)

var (
	cfgFile  string
	logLevel string

	// settings is populated by the root command before any subcommand runs.
	settings *viper.Viper
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sftpbox",
		Short: "sftpbox provisions and tests SFTP containers",
		Long: `sftpbox is the entrypoint of the SFTP container image and the
integration harness that exercises it.

Inside the image it creates the configured users and host keys, runs the
scripts in /etc/sftp.d and then execs sshd. On a workstation it starts the
image through docker or podman and checks its behaviour.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.sftpbox.yaml or "+config.SystemConfig+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		GetEntrypointCmd(),
		GetCreateUserCmd(),
		GetHostKeysCmd(),
		GetUsersCmd(),
		GetWaitCmd(),
		GetHarnessCmd(),
		GetVersionCmd(),
	)
	return rootCmd
}

// initConfig reads in config file and ENV variables, then sets up logging.
func initConfig(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		v.Set(config.KeyLogLevel, logLevel)
	}
	if err := logger.Initialize(config.LoggerFromViper(v)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Get().Debugf("Using config file: %s", used)
	}
	settings = v
	return nil
}

// bindFlag lets an explicitly set flag override the config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil || !f.Changed {
		return
	}
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		settings.Set(key, sv.GetSlice())
		return
	}
	settings.Set(key, f.Value.String())
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeOK
	case errors.Is(err, entrypoint.ErrNoUsers):
		return entrypoint.ExitCodeNoUsers
	default:
		return ExitCodeError
	}
}
