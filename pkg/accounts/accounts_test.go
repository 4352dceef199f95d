package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/bacalhau-project/sftpbox/internal/testutil"
	"github.com/bacalhau-project/sftpbox/pkg/execer"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/bacalhau-project/sftpbox/pkg/userspec"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/suite"
)

type AccountsTestSuite struct {
	suite.Suite
	ctx       context.Context
	fs        *testutil.RecordingFs
	commander *execer.MockCommander
	manager   *Manager
	log       *logger.TestLogger
}

func (s *AccountsTestSuite) SetupTest() {
	s.log = logger.InstallTestLogger(s.T())
	s.ctx = context.Background()
	s.fs = testutil.NewRecordingFs()
	s.commander = &execer.MockCommander{}
	s.manager = NewManager(s.commander, s.fs, "")
}

func (s *AccountsTestSuite) TearDownTest() {
	s.commander.AssertExpectations(s.T())
}

func notFound(cmd string) error {
	return &execer.CommandError{Cmd: cmd, ExitCode: 1, Err: errors.New("exit status 1")}
}

func (s *AccountsTestSuite) expectNewUser(name, uid string) {
	s.commander.On("Run", "id -u "+name).Return("", notFound("id -u "+name)).Once()
	s.commander.On("Run", "id -u "+name).Return(uid+"\n", nil).Once()
}

func (s *AccountsTestSuite) TestCreateMinimalUser() {
	spec, err := userspec.Parse("foo:pass")
	s.Require().NoError(err)

	s.expectNewUser("foo", "1000")
	s.commander.On("Run", "useradd --no-user-group foo").Return("", nil).Once()
	s.commander.On("Run", "chpasswd").Return("", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))

	s.Equal("foo:pass\n", s.commander.Stdin["chpasswd"])

	info, err := s.fs.Stat("/home/foo")
	s.Require().NoError(err)
	s.True(info.IsDir())
	s.Equal(HomeDirMode, info.Mode().Perm())

	owner, ok := s.fs.Owner("/home/foo")
	s.Require().True(ok)
	s.Equal(testutil.Ownership{UID: 0, GID: 0}, owner)
}

func (s *AccountsTestSuite) TestCreateUserWithIDsAndEncryptedPassword() {
	spec, err := userspec.Parse("foo:$1$0G2g0GSt$ewU0t6GXG15.0hWoOX8X9.:e:1001:1002")
	s.Require().NoError(err)

	s.expectNewUser("foo", "1001")
	s.commander.On("Run", "getent group 1002").Return("", notFound("getent group 1002")).Once()
	s.commander.On("Run", "groupadd --gid 1002 group_1002").Return("", nil).Once()
	s.commander.On("Run", "useradd --no-user-group --non-unique --uid 1001 --gid 1002 foo").Return("", nil).Once()
	s.commander.On("Run", "chpasswd -e").Return("", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))
	s.Equal("foo:$1$0G2g0GSt$ewU0t6GXG15.0hWoOX8X9.\n", s.commander.Stdin["chpasswd -e"])
}

func (s *AccountsTestSuite) TestExistingGroupIsReused() {
	spec, err := userspec.Parse("bar:pw::100")
	s.Require().NoError(err)

	s.expectNewUser("bar", "1000")
	s.commander.On("Run", "getent group 100").Return("users:x:100:\n", nil).Once()
	s.commander.On("Run", "useradd --no-user-group --gid 100 bar").Return("", nil).Once()
	s.commander.On("Run", "chpasswd").Return("", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))
	s.commander.AssertNotCalled(s.T(), "Run", "groupadd --gid 100 group_100")
}

func (s *AccountsTestSuite) TestEmptyPasswordLocksAccount() {
	spec, err := userspec.Parse("m:")
	s.Require().NoError(err)

	s.expectNewUser("m", "1000")
	s.commander.On("Run", "useradd --no-user-group m").Return("", nil).Once()
	s.commander.On("Run", "usermod -p * m").Return("", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))
	s.NotContains(s.commander.Stdin, "chpasswd")
}

func (s *AccountsTestSuite) TestExistingUserIsSkipped() {
	spec, err := userspec.Parse("foo:pass")
	s.Require().NoError(err)

	s.commander.On("Run", "id -u foo").Return("1000\n", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))

	exists, err := afero.Exists(s.fs, "/home/foo")
	s.Require().NoError(err)
	s.False(exists)
	s.NotEmpty(s.log.GetLogs())
}

func (s *AccountsTestSuite) TestDirsAreCreatedAndOwned() {
	spec, err := userspec.Parse("foo.bar:pass:1001::share,upload/incoming")
	s.Require().NoError(err)

	s.expectNewUser("foo.bar", "1001")
	s.commander.On("Run", "useradd --no-user-group --non-unique --uid 1001 foo.bar").Return("", nil).Once()
	s.commander.On("Run", "chpasswd").Return("", nil).Once()
	s.commander.On("Run", "getent group users").Return("users:x:100:\n", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))

	for _, dir := range []string{"/home/foo.bar/share", "/home/foo.bar/upload/incoming"} {
		ok, err := afero.DirExists(s.fs, dir)
		s.Require().NoError(err)
		s.True(ok, dir)

		owner, recorded := s.fs.Owner(dir)
		s.Require().True(recorded, dir)
		s.Equal(testutil.Ownership{UID: 1001, GID: 100}, owner)
	}

	_, recorded := s.fs.Owner("/home/foo.bar/upload")
	s.False(recorded, "intermediate directories keep their owner")
}

func (s *AccountsTestSuite) TestExistingDirIsLeftAlone() {
	spec, err := userspec.Parse("foo:pass:::mnt")
	s.Require().NoError(err)
	s.Require().NoError(s.fs.MkdirAll("/home/foo/mnt", 0700))

	s.expectNewUser("foo", "1000")
	s.commander.On("Run", "useradd --no-user-group foo").Return("", nil).Once()
	s.commander.On("Run", "chpasswd").Return("", nil).Once()
	s.commander.On("Run", "getent group users").Return("", notFound("getent group users")).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))

	_, recorded := s.fs.Owner("/home/foo/mnt")
	s.False(recorded)
}

func (s *AccountsTestSuite) TestQueuedKeysAreInstalled() {
	spec, err := userspec.Parse("foo:")
	s.Require().NoError(err)
	kp := testutil.GenerateKeyPair(s.T())
	s.Require().NoError(s.fs.MkdirAll("/home/foo/.ssh/keys", 0755))
	s.Require().NoError(afero.WriteFile(s.fs, "/home/foo/.ssh/keys/id.pub", []byte(kp.AuthorizedKey+"\n"), 0644))

	s.expectNewUser("foo", "1005")
	s.commander.On("Run", "useradd --no-user-group foo").Return("", nil).Once()
	s.commander.On("Run", "usermod -p * foo").Return("", nil).Once()

	s.Require().NoError(s.manager.CreateUser(s.ctx, spec))

	data, err := afero.ReadFile(s.fs, "/home/foo/.ssh/authorized_keys")
	s.Require().NoError(err)
	s.Equal(kp.AuthorizedKey+"\n", string(data))

	owner, ok := s.fs.Owner("/home/foo/.ssh/authorized_keys")
	s.Require().True(ok)
	s.Equal(1005, owner.UID)
}

func (s *AccountsTestSuite) TestUseraddFailureIsReturned() {
	spec, err := userspec.Parse("foo:pass:1001")
	s.Require().NoError(err)

	s.commander.On("Run", "id -u foo").Return("", notFound("id -u foo")).Once()
	s.commander.On("Run", "useradd --no-user-group --non-unique --uid 1001 foo").
		Return("useradd: permission denied", &execer.CommandError{Cmd: "useradd", ExitCode: 10, Err: errors.New("exit status 10")}).Once()

	err = s.manager.CreateUser(s.ctx, spec)
	s.Require().Error(err)
	s.Equal(10, execer.ExitCodeOf(err))
}

func (s *AccountsTestSuite) TestUsersGIDFallback() {
	s.commander.On("Run", "getent group users").Return("garbage", nil).Once()
	s.Equal(DefaultUsersGID, s.manager.UsersGID(s.ctx))

	s.commander.On("Run", "getent group users").Return("users:x:985:\n", nil).Once()
	s.Equal(985, s.manager.UsersGID(s.ctx))
}

func (s *AccountsTestSuite) TestUsersGIDCustomGroup() {
	s.manager.UsersGroup = "sftp"
	s.manager.FallbackGID = 2000

	s.commander.On("Run", "getent group sftp").Return("", errors.New("exit status 2")).Once()
	s.Equal(2000, s.manager.UsersGID(s.ctx))
}

func (s *AccountsTestSuite) TestCreateUserRejectsNil() {
	s.Error(s.manager.CreateUser(s.ctx, nil))
}

func TestAccountsTestSuite(t *testing.T) {
	suite.Run(t, new(AccountsTestSuite))
}
