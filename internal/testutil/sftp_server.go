package testutil

import (
	"errors"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/charmbracelet/ssh"
	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
)

// SFTPServer is an in-process SSH server exposing only the sftp subsystem,
// backed by an in-memory filesystem. It stands in for a running container
// in unit tests.
type SFTPServer struct {
	Host     string
	Port     int
	HostKey  KeyPair
	srv      *ssh.Server
	listener net.Listener
	done     chan struct{}
}

// SFTPServerOptions configure authentication of the test server.
type SFTPServerOptions struct {
	User          string
	Password      string
	AuthorizedKey gossh.PublicKey
	// Listener, if set, is used instead of a fresh 127.0.0.1:0 listener.
	Listener net.Listener
}

// StartSFTPServer starts a server and stops it when the test ends.
func StartSFTPServer(t testing.TB, opts SFTPServerOptions) *SFTPServer {
	t.Helper()

	listener := opts.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
	}

	hostKey := GenerateKeyPair(t)
	srv := &ssh.Server{
		Handler: func(s ssh.Session) {
			_, _ = io.WriteString(s, "This service allows sftp connections only.\n")
			_ = s.Exit(1)
		},
		SubsystemHandlers: map[string]ssh.SubsystemHandler{
			"sftp": func(s ssh.Session) {
				server := sftp.NewRequestServer(s, sftp.InMemHandler())
				if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
					_ = server.Close()
					return
				}
				_ = server.Close()
			},
		},
	}
	if opts.Password != "" {
		srv.PasswordHandler = func(ctx ssh.Context, password string) bool {
			return ctx.User() == opts.User && password == opts.Password
		}
	}
	if opts.AuthorizedKey != nil {
		srv.PublicKeyHandler = func(ctx ssh.Context, key ssh.PublicKey) bool {
			return ctx.User() == opts.User && ssh.KeysEqual(key, opts.AuthorizedKey)
		}
	}
	srv.AddHostKey(hostKey.Signer)

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s := &SFTPServer{
		Host:     host,
		Port:     port,
		HostKey:  hostKey,
		srv:      srv,
		listener: listener,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		_ = srv.Serve(listener)
	}()

	t.Cleanup(s.Close)
	return s
}

// Close stops the server and waits for the accept loop to exit. The
// listener is closed here too: Serve may not have registered it yet.
func (s *SFTPServer) Close() {
	_ = s.srv.Close()
	_ = s.listener.Close()
	<-s.done
}

// FreePort returns a TCP port that was free a moment ago.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
