// Package config registers the viper keys sftpbox reads and turns them into
// typed settings for the entrypoint and the harness.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "SFTPBOX"
	ConfigName     = ".sftpbox"
	SystemConfig   = "/etc/sftpbox/config.yaml"
	UsersEnvVar    = "SFTP_USERS"
	DefaultSSHPort = 22
)

const (
	KeyUsersConf       = "paths.users_conf"
	KeyLegacyUsersConf = "paths.legacy_users_conf"
	KeyFinalUsersConf  = "paths.final_users_conf"
	KeyHostKeysDir     = "paths.host_keys_dir"
	KeyScriptsDir      = "paths.scripts_dir"
	KeyHomeRoot        = "paths.home_root"

	KeySSHDBinary = "sshd.binary"
	KeySSHDArgs   = "sshd.args"

	KeyUsersGroup = "accounts.users_group"
	KeyUsersGID   = "accounts.users_gid"

	KeyHostKeyTypes = "hostkeys.types"
	KeyRSABits      = "hostkeys.rsa_bits"

	KeyHarnessImage        = "harness.image"
	KeyHarnessEngine       = "harness.engine"
	KeyHarnessReadyTimeout = "harness.ready_timeout"
	KeyHarnessHost         = "harness.host"
	KeyHarnessKeepFailed   = "harness.keep_failed"
	KeyHarnessRun          = "harness.run"
	KeyHarnessSuite        = "harness.suite"

	KeyLogLevel   = "general.log_level"
	KeyLogPath    = "general.log_path"
	KeyLogFormat  = "general.log_format"
	KeyLogConsole = "general.enable_console_logger"
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyUsersConf, "/etc/sftp/users.conf")
	v.SetDefault(KeyLegacyUsersConf, "/etc/sftp-users.conf")
	v.SetDefault(KeyFinalUsersConf, "/var/run/sftp/users.conf")
	v.SetDefault(KeyHostKeysDir, "/etc/ssh")
	v.SetDefault(KeyScriptsDir, "/etc/sftp.d")
	v.SetDefault(KeyHomeRoot, "/home")

	v.SetDefault(KeySSHDBinary, "/usr/sbin/sshd")
	v.SetDefault(KeySSHDArgs, []string{"-D", "-e"})

	v.SetDefault(KeyUsersGroup, "users")
	v.SetDefault(KeyUsersGID, 100)

	v.SetDefault(KeyHostKeyTypes, []string{"ed25519", "rsa"})
	v.SetDefault(KeyRSABits, 4096)

	v.SetDefault(KeyHarnessImage, "sftpbox:latest")
	v.SetDefault(KeyHarnessEngine, "docker")
	v.SetDefault(KeyHarnessReadyTimeout, 30*time.Second)
	v.SetDefault(KeyHarnessHost, "127.0.0.1")
	v.SetDefault(KeyHarnessKeepFailed, false)
	v.SetDefault(KeyHarnessRun, "")
	v.SetDefault(KeyHarnessSuite, "")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPath, "")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyLogConsole, true)
}

// New returns a viper instance with defaults and SFTPBOX_* environment
// bindings. cfgFile, when set, must exist.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := ReadConfig(v, cfgFile); err != nil {
		return nil, err
	}
	return v, nil
}

// ReadConfig loads cfgFile, or the first of $HOME/.sftpbox.yaml and
// /etc/sftpbox/config.yaml that exists. A missing default file is not an
// error.
func ReadConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to expand config path %s: %w", cfgFile, err)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", expanded, err)
		}
		return nil
	}

	v.SetConfigType("yaml")
	v.SetConfigName(ConfigName)
	if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(home)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return readSystemConfig(v)
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func readSystemConfig(v *viper.Viper) error {
	if _, err := os.Stat(SystemConfig); err != nil {
		return nil
	}
	v.SetConfigFile(SystemConfig)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", SystemConfig, err)
	}
	return nil
}

// Paths are the filesystem locations the entrypoint works with.
type Paths struct {
	UsersConf       string
	LegacyUsersConf string
	FinalUsersConf  string
	HostKeysDir     string
	ScriptsDir      string
	HomeRoot        string
}

// Entrypoint holds everything the container entrypoint needs.
type Entrypoint struct {
	Paths        Paths
	SSHDBinary   string
	SSHDArgs     []string
	HostKeyTypes []string
	RSABits      int
	EnvUsers     string
	UsersGroup   string
	UsersGID     int
}

// Harness holds the integration harness settings.
type Harness struct {
	Image        string
	Engine       string
	ReadyTimeout time.Duration
	Host         string
	KeepFailed   bool
	Run          string
	Suite        string
}

func EntrypointFromViper(v *viper.Viper) Entrypoint {
	return Entrypoint{
		Paths: Paths{
			UsersConf:       v.GetString(KeyUsersConf),
			LegacyUsersConf: v.GetString(KeyLegacyUsersConf),
			FinalUsersConf:  v.GetString(KeyFinalUsersConf),
			HostKeysDir:     v.GetString(KeyHostKeysDir),
			ScriptsDir:      v.GetString(KeyScriptsDir),
			HomeRoot:        v.GetString(KeyHomeRoot),
		},
		SSHDBinary:   v.GetString(KeySSHDBinary),
		SSHDArgs:     v.GetStringSlice(KeySSHDArgs),
		HostKeyTypes: v.GetStringSlice(KeyHostKeyTypes),
		RSABits:      v.GetInt(KeyRSABits),
		UsersGroup:   v.GetString(KeyUsersGroup),
		UsersGID:     v.GetInt(KeyUsersGID),
		EnvUsers:     os.Getenv(UsersEnvVar),
	}
}

// LoggerFromViper maps the general.* keys onto a logger configuration.
func LoggerFromViper(v *viper.Viper) logger.Config {
	return logger.Config{
		Level:         v.GetString(KeyLogLevel),
		FilePath:      v.GetString(KeyLogPath),
		Format:        v.GetString(KeyLogFormat),
		EnableConsole: v.GetBool(KeyLogConsole),
	}
}

func HarnessFromViper(v *viper.Viper) Harness {
	return Harness{
		Image:        v.GetString(KeyHarnessImage),
		Engine:       v.GetString(KeyHarnessEngine),
		ReadyTimeout: v.GetDuration(KeyHarnessReadyTimeout),
		Host:         v.GetString(KeyHarnessHost),
		KeepFailed:   v.GetBool(KeyHarnessKeepFailed),
		Run:          v.GetString(KeyHarnessRun),
		Suite:        v.GetString(KeyHarnessSuite),
	}
}

var requiredFields = []string{
	KeyFinalUsersConf,
	KeyHostKeysDir,
	KeyHomeRoot,
	KeySSHDBinary,
}

// Validate reports every missing or out of range setting at once.
func Validate(v *viper.Viper) error {
	var errs []string
	for _, field := range requiredFields {
		if strings.TrimSpace(v.GetString(field)) == "" {
			errs = append(errs, fmt.Sprintf("%s must be set", field))
		}
	}

	for _, t := range v.GetStringSlice(KeyHostKeyTypes) {
		if t != "ed25519" && t != "rsa" {
			errs = append(errs, fmt.Sprintf("%s: unsupported key type %q", KeyHostKeyTypes, t))
		}
	}
	if bits := v.GetInt(KeyRSABits); bits < 2048 {
		errs = append(errs, fmt.Sprintf("%s must be at least 2048, got %d", KeyRSABits, bits))
	}
	if v.GetDuration(KeyHarnessReadyTimeout) <= 0 {
		errs = append(errs, fmt.Sprintf("%s must be positive", KeyHarnessReadyTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
