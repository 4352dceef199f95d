package entrypoint

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bacalhau-project/sftpbox/pkg/config"
	"github.com/bacalhau-project/sftpbox/pkg/execer"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
)

type recordingCreator struct {
	created []*models.UserSpec
	failOn  string
}

func (c *recordingCreator) CreateUser(_ context.Context, spec *models.UserSpec) error {
	if spec.Name == c.failOn {
		return errors.New("useradd failed")
	}
	c.created = append(c.created, spec)
	return nil
}

func (c *recordingCreator) names() []string {
	var names []string
	for _, s := range c.created {
		names = append(names, s.Name)
	}
	return names
}

type EntrypointTestSuite struct {
	suite.Suite
	ctx      context.Context
	fs       afero.Fs
	users    *recordingCreator
	streamer *execer.MockCommander
	execer   *execer.RecordingExecer
	settings config.Entrypoint
	log      *logger.TestLogger
}

func (s *EntrypointTestSuite) SetupTest() {
	s.log = logger.InstallTestLogger(s.T())
	s.ctx = context.Background()
	s.fs = afero.NewMemMapFs()
	s.users = &recordingCreator{}
	s.streamer = &execer.MockCommander{}
	s.execer = &execer.RecordingExecer{}
	s.settings = config.Entrypoint{
		Paths: config.Paths{
			UsersConf:       "/etc/sftp/users.conf",
			LegacyUsersConf: "/etc/sftp-users.conf",
			FinalUsersConf:  "/var/run/sftp/users.conf",
			HostKeysDir:     "/etc/ssh",
			ScriptsDir:      "/etc/sftp.d",
			HomeRoot:        "/home",
		},
		SSHDBinary:   "/usr/sbin/sshd",
		SSHDArgs:     []string{"-D", "-e"},
		HostKeyTypes: []string{"ed25519"},
	}
}

func (s *EntrypointTestSuite) TearDownTest() {
	s.streamer.AssertExpectations(s.T())
}

func (s *EntrypointTestSuite) runner() *Runner {
	var out bytes.Buffer
	return NewRunner(s.settings,
		WithFs(s.fs),
		WithUserCreator(s.users),
		WithStreamer(s.streamer),
		WithExecer(s.execer),
		WithEnviron(func() []string { return []string{"PATH=/usr/bin"} }),
		WithOutput(&out, &out),
	)
}

func (s *EntrypointTestSuite) write(p, content string) {
	s.Require().NoError(afero.WriteFile(s.fs, p, []byte(content), 0644))
}

func (s *EntrypointTestSuite) finalConf() string {
	data, err := afero.ReadFile(s.fs, s.settings.Paths.FinalUsersConf)
	s.Require().NoError(err)
	return string(data)
}

func (s *EntrypointTestSuite) TestStartsSSHD() {
	s.True(StartsSSHD(nil))
	s.True(StartsSSHD([]string{"foo:pass"}))
	s.True(StartsSSHD([]string{"m:"}))
	s.False(StartsSSHD([]string{"ls", "-l"}))
	s.False(StartsSSHD([]string{"/bin/sh"}))
}

func (s *EntrypointTestSuite) TestArgsCreateUsersAndExecSSHD() {
	s.Require().NoError(s.runner().Run(s.ctx, []string{"foo:pass", "bar:pw:1001"}))

	s.Equal([]string{"foo", "bar"}, s.users.names())
	s.Equal("foo:pass\nbar:pw:1001\n", s.finalConf())
	s.Equal("/usr/sbin/sshd", s.execer.Argv0)
	s.Equal([]string{"/usr/sbin/sshd", "-D", "-e"}, s.execer.Argv)
	s.Equal([]string{"PATH=/usr/bin"}, s.execer.Env)

	exists, err := afero.Exists(s.fs, "/etc/ssh/ssh_host_ed25519_key")
	s.Require().NoError(err)
	s.True(exists)
}

func (s *EntrypointTestSuite) TestUsersAreCombinedInOrder() {
	s.write(s.settings.Paths.UsersConf, "# comment\nconf1:a\n\n  \nconf2:b\n")
	s.settings.EnvUsers = "env1:c  env2:d"

	s.Require().NoError(s.runner().Run(s.ctx, []string{"arg1:e"}))
	s.Equal([]string{"conf1", "conf2", "arg1", "env1", "env2"}, s.users.names())
}

func (s *EntrypointTestSuite) TestPassthroughIgnoresArgsAsUsers() {
	s.settings.EnvUsers = "env:pw"

	s.Require().NoError(s.runner().Run(s.ctx, []string{"ls", "-l", "/home"}))

	s.Equal([]string{"env"}, s.users.names())
	s.Equal("ls", s.execer.Argv0)
	s.Equal([]string{"ls", "-l", "/home"}, s.execer.Argv)
}

func (s *EntrypointTestSuite) TestPassthroughWithoutUsersIsAllowed() {
	s.Require().NoError(s.runner().Run(s.ctx, []string{"true"}))
	s.Empty(s.users.created)
	s.Equal("true", s.execer.Argv0)
}

func (s *EntrypointTestSuite) TestNoUsersIsFatal() {
	err := s.runner().Run(s.ctx, nil)
	s.ErrorIs(err, ErrNoUsers)
	s.Empty(s.execer.Argv0)

	exists, err := afero.Exists(s.fs, "/etc/ssh/ssh_host_ed25519_key")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *EntrypointTestSuite) TestNoUsersIsFatalOnRestart() {
	s.ErrorIs(s.runner().Run(s.ctx, nil), ErrNoUsers)

	exists, err := afero.Exists(s.fs, s.settings.Paths.FinalUsersConf)
	s.Require().NoError(err)
	s.False(exists)

	s.ErrorIs(s.runner().Run(s.ctx, nil), ErrNoUsers)
	s.Empty(s.execer.Argv0)
}

func (s *EntrypointTestSuite) TestRestartAfterNoUsersPicksUpEnvUsers() {
	s.ErrorIs(s.runner().Run(s.ctx, nil), ErrNoUsers)

	s.settings.EnvUsers = "late:pass"
	s.Require().NoError(s.runner().Run(s.ctx, nil))
	s.Equal([]string{"late"}, s.users.names())
	s.Equal("late:pass\n", s.finalConf())
	s.Equal("/usr/sbin/sshd", s.execer.Argv0)
}

func (s *EntrypointTestSuite) TestCommentOnlyConfigIsNoUsers() {
	s.write(s.settings.Paths.UsersConf, "# nobody here\n\n")
	s.ErrorIs(s.runner().Run(s.ctx, nil), ErrNoUsers)
}

func (s *EntrypointTestSuite) TestLegacyConfigIsUsed() {
	s.write(s.settings.Paths.LegacyUsersConf, "legacy:pass\n")

	s.Require().NoError(s.runner().Run(s.ctx, nil))
	s.Equal([]string{"legacy"}, s.users.names())

	data, err := afero.ReadFile(s.fs, s.settings.Paths.UsersConf)
	s.Require().NoError(err)
	s.Equal("legacy:pass\n", string(data))
}

func (s *EntrypointTestSuite) TestLegacyConfigDoesNotOverrideCurrent() {
	s.write(s.settings.Paths.LegacyUsersConf, "legacy:pass\n")
	s.write(s.settings.Paths.UsersConf, "current:pass\n")

	s.Require().NoError(s.runner().Run(s.ctx, nil))
	s.Equal([]string{"current"}, s.users.names())
}

func (s *EntrypointTestSuite) TestRestartSkipsProvisioning() {
	s.write(s.settings.Paths.FinalUsersConf, "foo:pass\n")

	s.Require().NoError(s.runner().Run(s.ctx, []string{"foo:pass"}))
	s.Empty(s.users.created)
	s.Equal("/usr/sbin/sshd", s.execer.Argv0)
}

func (s *EntrypointTestSuite) TestInvalidSpecAborts() {
	err := s.runner().Run(s.ctx, []string{"good:pass", "bad name:pass"})
	s.Require().Error(err)
	s.Contains(err.Error(), "user 2")
	s.Equal([]string{"good"}, s.users.names())
	s.Empty(s.execer.Argv0)
}

func (s *EntrypointTestSuite) TestCreateUserFailureAborts() {
	s.users.failOn = "foo"
	err := s.runner().Run(s.ctx, []string{"foo:pass", "bar:pass"})
	s.Require().Error(err)
	s.Contains(err.Error(), "foo")
	s.Empty(s.users.created)
}

func (s *EntrypointTestSuite) TestScriptsRunInOrder() {
	s.Require().NoError(s.fs.MkdirAll("/etc/sftp.d/nested", 0755))
	s.Require().NoError(afero.WriteFile(s.fs, "/etc/sftp.d/20-second", []byte("#!/bin/sh\n"), 0755))
	s.Require().NoError(afero.WriteFile(s.fs, "/etc/sftp.d/10-first", []byte("#!/bin/sh\n"), 0755))
	s.Require().NoError(afero.WriteFile(s.fs, "/etc/sftp.d/30-not-executable", []byte("#!/bin/sh\n"), 0644))

	first := s.streamer.On("Stream", "/etc/sftp.d/10-first").Return(nil).Once()
	s.streamer.On("Stream", "/etc/sftp.d/20-second").Return(nil).Once().NotBefore(first)

	s.Require().NoError(s.runner().Run(s.ctx, []string{"foo:pass"}))
	s.streamer.AssertNotCalled(s.T(), "Stream", "/etc/sftp.d/30-not-executable")

	var warned bool
	for _, msg := range s.log.GetLogs() {
		if msg == "Could not run /etc/sftp.d/30-not-executable, because it's missing execute permission (+x)." {
			warned = true
		}
	}
	s.True(warned)
}

func (s *EntrypointTestSuite) TestFailingScriptAborts() {
	s.Require().NoError(s.fs.MkdirAll("/etc/sftp.d", 0755))
	s.Require().NoError(afero.WriteFile(s.fs, "/etc/sftp.d/fail", []byte("#!/bin/sh\nexit 1\n"), 0755))
	s.streamer.On("Stream", "/etc/sftp.d/fail").
		Return(&execer.CommandError{Cmd: "/etc/sftp.d/fail", ExitCode: 1, Err: errors.New("exit status 1")}).Once()

	err := s.runner().Run(s.ctx, []string{"foo:pass"})
	s.Require().Error(err)
	s.Equal(1, execer.ExitCodeOf(err))
	s.Empty(s.execer.Argv0)
}

func TestEntrypointTestSuite(t *testing.T) {
	suite.Run(t, new(EntrypointTestSuite))
}
