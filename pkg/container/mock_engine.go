package container

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEngine is a testify mock for Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Name() string {
	return m.Called().String(0)
}

func (m *MockEngine) Available() bool {
	return m.Called().Bool(0)
}

func (m *MockEngine) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Build(ctx context.Context, opts BuildOptions) error {
	return m.Called(ctx, opts).Error(0)
}

func (m *MockEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RunResult), args.Error(1)
}

func (m *MockEngine) Exec(
	ctx context.Context,
	containerID string,
	command []string,
	opts ExecOptions,
) (*RunResult, error) {
	args := m.Called(ctx, containerID, command, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RunResult), args.Error(1)
}

func (m *MockEngine) Logs(ctx context.Context, containerID string) (string, error) {
	args := m.Called(ctx, containerID)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Port(ctx context.Context, containerID string, containerPort string) (string, error) {
	args := m.Called(ctx, containerID, containerPort)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Inspect(ctx context.Context, containerID string) (*State, error) {
	args := m.Called(ctx, containerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*State), args.Error(1)
}

func (m *MockEngine) Remove(ctx context.Context, containerID string, force bool) error {
	return m.Called(ctx, containerID, force).Error(0)
}

func (m *MockEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	args := m.Called(ctx, image)
	return args.Bool(0), args.Error(1)
}

var _ Engine = (*MockEngine)(nil)
var _ Engine = (*CLIEngine)(nil)
