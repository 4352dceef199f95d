package execer

import (
	"context"
	"io"
	"strings"

	"github.com/stretchr/testify/mock"
)

// MockCommander is a testify mock for Commander. Calls are matched on the
// joined command line, e.g. On("Run", "useradd --no-user-group alice").
type MockCommander struct {
	mock.Mock
	Stdin map[string]string
}

func (m *MockCommander) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		if m.Stdin == nil {
			m.Stdin = map[string]string{}
		}
		m.Stdin[line] = string(data)
	}
	ret := m.Called(line)
	return ret.String(0), ret.Error(1)
}

func (m *MockCommander) Stream(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	ret := m.Called(line)
	return ret.Error(0)
}

// RecordingExecer captures the exec request instead of replacing the process.
type RecordingExecer struct {
	Argv0 string
	Argv  []string
	Env   []string
	Err   error
}

func (r *RecordingExecer) Exec(argv0 string, argv []string, env []string) error {
	r.Argv0 = argv0
	r.Argv = argv
	r.Env = env
	return r.Err
}
