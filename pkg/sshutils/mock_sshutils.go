package sshutils

import (
	"context"
	"io"
	"os"

	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/ssh"
)

type MockSSHDialer struct {
	mock.Mock
}

func (m *MockSSHDialer) Dial(
	ctx context.Context,
	network, addr string,
	config *ssh.ClientConfig,
) (SSHClienter, error) {
	args := m.Called(ctx, network, addr, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(SSHClienter), args.Error(1)
}

type MockSSHClient struct {
	mock.Mock
}

func (m *MockSSHClient) NewSFTP() (SFTPClienter, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(SFTPClienter), args.Error(1)
}

func (m *MockSSHClient) GetClient() *ssh.Client {
	return nil
}

func (m *MockSSHClient) Close() error {
	return m.Called().Error(0)
}

type MockSFTPClient struct {
	mock.Mock
}

func (m *MockSFTPClient) Getwd() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockSFTPClient) Mkdir(path string) error {
	return m.Called(path).Error(0)
}

func (m *MockSFTPClient) MkdirAll(path string) error {
	return m.Called(path).Error(0)
}

func (m *MockSFTPClient) Stat(path string) (os.FileInfo, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(os.FileInfo), args.Error(1)
}

func (m *MockSFTPClient) ReadDir(path string) ([]os.FileInfo, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]os.FileInfo), args.Error(1)
}

func (m *MockSFTPClient) Create(path string) (io.WriteCloser, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *MockSFTPClient) Open(path string) (io.ReadCloser, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockSFTPClient) Remove(path string) error {
	return m.Called(path).Error(0)
}

func (m *MockSFTPClient) Close() error {
	return m.Called().Error(0)
}
