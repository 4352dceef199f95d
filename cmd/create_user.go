package cmd

import (
	"fmt"

	"github.com/bacalhau-project/sftpbox/pkg/accounts"
	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/execer"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/models"
	"github.com/bacalhau-project/sftpbox/pkg/userspec"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	newCommander = func() execer.Commander { return execer.NewOSCommander() }
	newFs        = afero.NewOsFs
)

func GetCreateUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-user SPEC...",
		Short: "Create accounts from user specs",
		Long: `Create one OS account per user spec, without starting sshd.

A spec has the form name:password[:e][:uid[:gid[:dir1[,dir2]...]]].
Existing users are skipped.`,
		Example: `  sftpbox create-user foo:pass:1001:100:upload
  sftpbox create-user 'bar:$1$0G2g0GSt$ewU0t6GXG15.0hWoOX8X9.:e'`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCreateUser,
	}
	cmd.Flags().String("home-root", "", "directory holding the home directories")
	return cmd
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	l := logger.Get()
	bindFlag(cmd, config.KeyHomeRoot, "home-root")
	e := config.EntrypointFromViper(settings)

	// parse everything first so a typo does not leave half the users created
	specs := make([]*models.UserSpec, 0, len(args))
	for _, arg := range args {
		spec, err := userspec.Parse(arg)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	m := accounts.NewManager(newCommander(), newFs(), e.Paths.HomeRoot)
	m.UsersGroup = e.UsersGroup
	if e.UsersGID > 0 {
		m.FallbackGID = e.UsersGID
	}
	for _, spec := range specs {
		l.Infof("Creating user %s", spec.Name)
		if err := m.CreateUser(cmd.Context(), spec); err != nil {
			return fmt.Errorf("failed to create user %s: %w", spec.Name, err)
		}
	}
	return nil
}
