// Package sshconn provides interactive remote shell sessions over SSH.
//
// It wraps golang.org/x/crypto/ssh to dial a host with password
// authentication and start a PTY-backed shell. A Conn exposes the small
// blocking surface the bridge needs: a read with a bounded per-call
// timeout, a verbatim write, and an idempotent Close that unblocks any
// in-flight read.
package sshconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Sentinel errors classifying connection and I/O faults. Callers match
// with errors.Is; the underlying ssh error is attached as context.
var (
	// ErrAuth means the server rejected the supplied credentials.
	ErrAuth = errors.New("authentication rejected")
	// ErrHostKey means host key verification failed.
	ErrHostKey = errors.New("host key rejected")
	// ErrProtocol means the SSH handshake or channel setup failed.
	ErrProtocol = errors.New("protocol failure")
	// ErrNetwork means a socket or OS level failure.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout means a write did not complete in time.
	ErrTimeout = errors.New("write timeout")
	// ErrClosed means the connection is closed.
	ErrClosed = errors.New("connection closed")
)

// readBufSize is the chunk size for shell output reads.
const readBufSize = 4096

// Options describe how to open a remote shell session.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialTimeout bounds the TCP connect and SSH handshake.
	DialTimeout time.Duration

	// KnownHostsFile enables host key verification against an OpenSSH
	// known_hosts file. When empty, host keys are accepted unverified,
	// matching interactive first-connect behavior.
	KnownHostsFile string
}

// Conn is one authenticated interactive shell session.
type Conn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	output chan []byte
	done   chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
}

// Open dials the host, authenticates with the given password, and starts
// an interactive shell on a PTY. Returned errors wrap one of ErrAuth,
// ErrHostKey, ErrProtocol, or ErrNetwork.
func Open(opts Options) (*Conn, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: load known_hosts: %v", ErrHostKey, err)
		}
		hostKeyCallback = cb
	}

	cfg := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.DialTimeout,
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(port))

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: create session: %v", ErrProtocol, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: request pty: %v", ErrProtocol, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrProtocol, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrProtocol, err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: start shell: %v", ErrProtocol, err)
	}

	c := &Conn{
		client:  client,
		session: session,
		stdin:   stdin,
		output:  make(chan []byte, 16),
		done:    make(chan struct{}),
	}

	// The ssh stdout pipe has no deadline support, so a dedicated reader
	// feeds the output channel and Read selects against a timer. Close
	// tears down the session, which ends the blocked pipe read, and
	// closes done, which releases a reader stuck on a full channel.
	go func() {
		defer close(c.output)
		buf := make([]byte, readBufSize)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case c.output <- chunk:
				case <-c.done:
					return
				}
			}
			if err != nil {
				c.setReadErr(err)
				return
			}
		}
	}()

	return c, nil
}

func (c *Conn) setReadErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

// Read returns the next chunk of shell output, waiting at most timeout.
// A nil chunk with a nil error means no data was ready. When the session
// has ended, Read returns an error wrapping ErrClosed.
func (c *Conn) Read(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-c.output:
		if !ok {
			c.mu.Lock()
			cause := c.readErr
			c.mu.Unlock()
			if cause != nil {
				return nil, fmt.Errorf("%w: %v", ErrClosed, cause)
			}
			return nil, ErrClosed
		}
		return chunk, nil
	case <-timer.C:
		return nil, nil
	}
}

// Write sends text to the shell's stdin verbatim. Errors wrap ErrTimeout
// for deadline faults and ErrClosed otherwise.
func (c *Conn) Write(text string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if _, err := c.stdin.Write([]byte(text)); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Close tears down the session and transport. It is idempotent and
// unblocks any in-flight Read.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.session.Close()
		c.client.Close()
	})
}

// classifyDialError maps ssh.Dial failures onto the sentinel taxonomy.
// x/crypto/ssh does not expose typed errors for handshake failures, so
// string matching backs up errors.As.
func classifyDialError(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return fmt.Errorf("%w: %v", ErrHostKey, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "knownhosts:"),
		strings.Contains(msg, "host key"):
		return fmt.Errorf("%w: %v", ErrHostKey, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: dial %s: %v", ErrNetwork, addr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: dial %s: %v", ErrNetwork, addr, err)
	}

	return fmt.Errorf("%w: %v", ErrProtocol, err)
}
