package cmd

import (
	"fmt"
	"os"

	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/models"
	"github.com/bacalhau-project/sftpbox/pkg/table"
	"github.com/bacalhau-project/sftpbox/pkg/userspec"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

func GetUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect user specs",
	}
	cmd.AddCommand(getUsersCheckCmd())
	return cmd
}

func getUsersCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [SPEC...]",
		Short: "Validate user specs without creating anything",
		Long: `Parse the users config file, SFTP_USERS and the given specs the same way
the entrypoint does, and print the resulting accounts. Passwords are never
printed. Exits non-zero on the first invalid spec.`,
		RunE: runUsersCheck,
	}
	cmd.Flags().StringP("file", "f", "", "users config file (default /etc/sftp/users.conf)")
	cmd.Flags().StringP("output", "o", outputTable, "output format: table or yaml")
	return cmd
}

func runUsersCheck(cmd *cobra.Command, args []string) error {
	bindFlag(cmd, config.KeyUsersConf, "file")
	output, _ := cmd.Flags().GetString("output")
	if output != outputTable && output != outputYAML {
		return fmt.Errorf("unsupported output format %q", output)
	}

	e := config.EntrypointFromViper(settings)
	specs, err := collectSpecs(e, args)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if output == outputYAML {
		redacted := make([]models.UserSpec, 0, len(specs))
		for _, s := range specs {
			c := *s
			if c.Password != "" {
				c.Password = "***"
			}
			redacted = append(redacted, c)
		}
		data, err := yaml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("failed to render users: %w", err)
		}
		_, err = w.Write(data)
		return err
	}

	ut := table.NewUserTable(w)
	for _, s := range specs {
		ut.AddUser(s)
	}
	ut.Render()
	return nil
}

// collectSpecs reads the same sources as the entrypoint, in the same
// order: config file, arguments, SFTP_USERS. A missing file is skipped.
func collectSpecs(e config.Entrypoint, args []string) ([]*models.UserSpec, error) {
	var specs []*models.UserSpec

	if _, err := os.Stat(e.Paths.UsersConf); err == nil {
		fromFile, err := userspec.ParseFile(e.Paths.UsersConf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Paths.UsersConf, err)
		}
		specs = append(specs, fromFile...)
	}

	for _, arg := range args {
		spec, err := userspec.Parse(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	for _, item := range userspec.SplitEnv(e.EnvUsers) {
		spec, err := userspec.Parse(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.UsersEnvVar, err)
		}
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no user specs found (checked %s, arguments and %s)",
			e.Paths.UsersConf, config.UsersEnvVar)
	}
	return specs, nil
}
