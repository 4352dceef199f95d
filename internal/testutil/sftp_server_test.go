package testutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func closeWithin(t *testing.T, s *SFTPServer, d time.Duration) {
	t.Helper()
	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(d):
		t.Fatal("Close did not return")
	}
}

func TestSFTPServerCloseRightAfterStart(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := StartSFTPServer(t, SFTPServerOptions{User: "foo", Password: "pass"})
		closeWithin(t, s, 5*time.Second)
	}
}

func TestSFTPServerCloseAfterLogin(t *testing.T) {
	s := StartSFTPServer(t, SFTPServerOptions{User: "foo", Password: "pass"})

	client, err := gossh.Dial("tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), &gossh.ClientConfig{
		User:            "foo",
		Auth:            []gossh.AuthMethod{gossh.Password("pass")},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	closeWithin(t, s, 5*time.Second)
}
