package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/container"
	"github.com/bacalhau-project/sftpbox/pkg/harness"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultEnvFile = ".env"

var newEngine = func(preferred container.EngineType) (container.Engine, error) {
	return container.NewEngine(preferred)
}

// ErrScenariosFailed is returned when at least one scenario failed.
var ErrScenariosFailed = errors.New("scenarios failed")

func GetHarnessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Run integration scenarios against an sftpbox image",
		Long: `Start the image once per scenario through docker or podman, wait for the
SFTP server and check user creation, mounts and file permissions.

Settings come from the harness.* config keys, SFTPBOX_HARNESS_* variables
(also read from a .env file), an optional YAML suite file and the flags
below, in increasing order of precedence.`,
		Args: cobra.NoArgs,
		RunE: runHarness,
	}
	cmd.Flags().String("image", "", "image to test")
	cmd.Flags().String("engine", "", "container engine (docker or podman)")
	cmd.Flags().String("run", "", "only run scenarios matching this regular expression")
	cmd.Flags().String("suite", "", "YAML suite file")
	cmd.Flags().Duration("ready-timeout", 0, "how long to wait for sshd in each container")
	cmd.Flags().Bool("keep-failed", false, "leave containers of failed scenarios running")
	cmd.Flags().Bool("skip-privileged", false, "skip scenarios that need --privileged")
	cmd.Flags().String("env-file", defaultEnvFile, "dotenv file to load before reading settings")

	cmd.AddCommand(getHarnessListCmd())
	return cmd
}

func getHarnessListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range harness.Catalog() {
				suffix := ""
				if s.Privileged {
					suffix = " (privileged)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s%s\n", s.Name, s.Description, suffix)
			}
			return nil
		},
	}
}

// loadEnvFile loads path when it exists. Variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.Get().Debugf("Loaded environment from %s", path)
	return nil
}

func runHarness(cmd *cobra.Command, _ []string) error {
	l := logger.Get()
	ctx := cmd.Context()

	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	bindFlag(cmd, config.KeyHarnessSuite, "suite")
	h := config.HarnessFromViper(settings)

	var suite *harness.Suite
	if h.Suite != "" {
		var err error
		if suite, err = harness.LoadSuite(h.Suite); err != nil {
			return err
		}
		if suite.Engine != "" {
			settings.Set(config.KeyHarnessEngine, suite.Engine)
		}
		if suite.Run != "" {
			settings.Set(config.KeyHarnessRun, suite.Run)
		}
		if suite.KeepFailed {
			settings.Set(config.KeyHarnessKeepFailed, true)
		}
	}

	// flags win over the suite file
	bindFlag(cmd, config.KeyHarnessImage, "image")
	bindFlag(cmd, config.KeyHarnessEngine, "engine")
	bindFlag(cmd, config.KeyHarnessRun, "run")
	bindFlag(cmd, config.KeyHarnessReadyTimeout, "ready-timeout")
	bindFlag(cmd, config.KeyHarnessKeepFailed, "keep-failed")
	if err := config.Validate(settings); err != nil {
		return err
	}
	h = config.HarnessFromViper(settings)

	hs := harness.Settings{Image: h.Image, Host: h.Host, ReadyTimeout: h.ReadyTimeout}
	skipPrivileged, _ := cmd.Flags().GetBool("skip-privileged")
	if suite != nil {
		hs = suite.Apply(hs)
		skipPrivileged = skipPrivileged || suite.SkipPrivileged
	}
	// explicit flags beat the suite
	if cmd.Flags().Changed("image") {
		hs.Image = h.Image
	}
	if cmd.Flags().Changed("ready-timeout") {
		hs.ReadyTimeout = h.ReadyTimeout
	}

	var scenarios []harness.Scenario
	var err error
	if suite != nil {
		// h.Run holds the suite's pattern unless --run overrode it
		suite.Run = h.Run
		scenarios, err = suite.Select(harness.Catalog())
	} else {
		scenarios, err = harness.Select(harness.Catalog(), h.Run)
	}
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios selected")
	}

	engine, err := newEngine(container.EngineType(h.Engine))
	if err != nil {
		return err
	}
	if version, err := engine.Version(ctx); err == nil {
		l.Debugf("Using %s %s", engine.Name(), version)
	}

	runner := harness.NewRunner(engine, hs,
		harness.WithKeepFailed(h.KeepFailed),
		harness.WithSkipPrivileged(skipPrivileged),
		harness.WithOutput(cmd.ErrOrStderr()),
	)
	if err := runner.CheckImage(ctx); err != nil {
		return err
	}

	results := runner.Run(ctx, scenarios)
	harness.RenderResults(cmd.OutOrStdout(), results)

	if failed := harness.Failed(results); failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrScenariosFailed, failed, len(results))
	}
	return nil
}
