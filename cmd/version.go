package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X .../cmd.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
)

func GetVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := Version
			if GitCommit != "" {
				v += " (" + GitCommit + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sftpbox %s %s/%s\n", v, runtime.GOOS, runtime.GOARCH)
		},
	}
}
