// Package sshtest runs a minimal in-process SSH server for tests: password
// auth, a session channel with pty-req/shell support, and a pluggable
// shell handler. It exists so bridge and provider tests can exercise real
// SSH handshakes without an external daemon.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Config controls the test server's credentials and shell behavior.
type Config struct {
	// Username and Password are the only accepted credentials.
	Username string
	Password string

	// Shell is invoked with the session channel once the client requests
	// a shell. When nil, EchoShell is used.
	Shell func(ch ssh.Channel)
}

// EchoShell writes a banner and then echoes everything it reads back to
// the client, preserving order. It returns when the channel closes.
func EchoShell(ch ssh.Channel) {
	io.WriteString(ch, "webterm-sshtest ready\r\n")
	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// SilentShell accepts the shell but produces no output and discards input.
func SilentShell(ch ssh.Channel) {
	buf := make([]byte, 1024)
	for {
		if _, err := ch.Read(buf); err != nil {
			return
		}
	}
}

// Server is one listening test SSH server.
type Server struct {
	listener net.Listener
	cfg      Config
	sshCfg   *ssh.ServerConfig

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// New starts a server on a random loopback port and registers its
// shutdown with t.Cleanup.
func New(t testing.TB, cfg Config) *Server {
	t.Helper()

	if cfg.Username == "" {
		cfg.Username = "testuser"
	}
	if cfg.Password == "" {
		cfg.Password = "testpass"
	}
	if cfg.Shell == nil {
		cfg.Shell = EchoShell
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("sshtest: generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("sshtest: host key signer: %v", err)
	}

	sshCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == cfg.Username && string(pass) == cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("sshtest: access denied for %q", meta.User())
		},
	}
	sshCfg.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sshtest: listen: %v", err)
	}

	s := &Server{listener: listener, cfg: cfg, sshCfg: sshCfg}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Close stops the listener and tears down all live connections.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshCfg)
	if err != nil {
		conn.Close()
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(ch, requests)
		}()
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			// Keep draining requests (e.g. window-change) while the
			// shell handler owns the channel.
			go func() {
				for r := range requests {
					r.Reply(r.Type == "window-change", nil)
				}
			}()
			s.cfg.Shell(ch)
			return
		default:
			req.Reply(false, nil)
		}
	}
}
