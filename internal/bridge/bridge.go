// Package bridge pairs one WebSocket client connection with at most one
// interactive SSH shell session.
//
// Each Bridge owns the session lifecycle: a command router dispatches
// inbound JSON frames, an output pump goroutine drains shell output back
// to the client, and a single cleanup protocol tears everything down on
// disconnect or fault. State transitions are serialized by a per-bridge
// mutex; the pump only reads the running flag and the session handle.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/webterm/webterm/internal/logutil"
	"github.com/webterm/webterm/internal/sshconn"
)

// State is the lifecycle state of a bridge.
type State string

const (
	// StateIdle means no remote session is held.
	StateIdle State = "idle"
	// StateConnecting means a new_connection command is in flight.
	StateConnecting State = "connecting"
	// StateActive means a remote session is open and the pump is running.
	StateActive State = "active"
	// StateClosing means the cleanup protocol is in progress.
	StateClosing State = "closing"
)

// maxClientMessageSize bounds a single inbound WebSocket frame.
const maxClientMessageSize = 1024 * 1024

// maxCommandSize bounds the text of a single send_command. Oversized
// commands are dropped, never an error.
const maxCommandSize = 64 * 1024

// clientConn is the subset of *websocket.Conn the bridge uses, split out
// so tests can drive a bridge without a live socket.
type clientConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// RemoteSession is the remote shell surface the bridge drives. It is
// satisfied by *sshconn.Conn.
type RemoteSession interface {
	// Read returns the next output chunk, or nil after timeout when no
	// data was ready. A session-ending fault is returned as an error.
	Read(timeout time.Duration) ([]byte, error)
	// Write sends command text verbatim.
	Write(text string) error
	// Close is idempotent and unblocks an in-flight Read.
	Close()
}

// Bridge is one client connection and its (at most one) remote session.
type Bridge struct {
	ID string

	mgr    *Manager
	client clientConn
	ctx    context.Context

	mu       sync.Mutex
	state    State
	running  bool
	remote   RemoteSession
	pumpDone chan struct{}
	rec      *Recording

	// Current session metadata, for the session API and history store.
	// sessionID identifies one remote session; a bridge that reconnects
	// gets a fresh one, so history rows stay distinct.
	sessionID string
	host      string
	port      int
	username  string
	openedAt  time.Time
	bytesIn   int64
	bytesOut  int64
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Run reads client frames until the connection ends, dispatching each in
// arrival order. It always leaves the bridge cleaned up and unregistered.
func (b *Bridge) Run(ctx context.Context) {
	b.ctx = ctx
	b.client.SetReadLimit(maxClientMessageSize)

	defer func() {
		b.Shutdown("client disconnect")
		b.mgr.remove(b.ID)
	}()

	limiter := newTokenBucket(inboundRateBurst, inboundRateLimit)

	for {
		_, data, err := b.client.Read(ctx)
		if err != nil {
			return
		}

		if !limiter.allow() {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[bridge] %s: malformed frame: %v", b.ID, err)
			b.sendError(CodeInvalidCommand, msgInvalidCommand)
			continue
		}

		b.dispatch(msg)
	}
}

// dispatch routes one inbound message through the fixed command table.
// Unknown, empty, or missing command names report INVALID_COMMAND and
// change nothing.
func (b *Bridge) dispatch(msg Message) {
	commands := map[string]func(json.RawMessage){
		"new_connection": b.newConnection,
		"send_command":   b.sendCommand,
	}

	handler, ok := commands[msg.Command]
	if !ok {
		log.Printf("[bridge] %s: invalid command %q", b.ID, msg.Command)
		b.sendError(CodeInvalidCommand, msgInvalidCommand)
		return
	}
	handler(msg.Data)
}

// newConnection handles the "new_connection" command: it retires any
// previous session, dials the requested host, and starts the output pump.
func (b *Bridge) newConnection(data json.RawMessage) {
	var req connectRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			b.sendError(CodeInvalidCommand, msgInvalidCommand)
			return
		}
	}
	if req.Port == 0 {
		req.Port = b.mgr.cfg.DefaultSSHPort
	}

	// A replacement session always retires the old one first; relying on
	// the old handle being collected would leak the pump goroutine.
	b.Cleanup("superseded by new connection")

	b.setState(StateConnecting)

	remote, err := b.mgr.dial(sshconn.Options{
		Host:           req.Host,
		Port:           req.Port,
		Username:       req.Username,
		Password:       req.Password,
		DialTimeout:    b.mgr.cfg.DialTimeout,
		KnownHostsFile: b.mgr.cfg.KnownHostsFile,
	})
	if err != nil {
		log.Printf("[bridge] %s: connect to %s@%s:%d failed: %v", b.ID,
			logutil.SanitizeForLog(req.Username), logutil.SanitizeForLog(req.Host), req.Port, err)
		b.sendError(CodeConnectionFailed, connectFailureMessage(err))
		b.setState(StateIdle)
		return
	}

	done := make(chan struct{})

	b.mu.Lock()
	b.remote = remote
	b.running = true
	b.pumpDone = done
	b.state = StateActive
	b.sessionID = uuid.New().String()
	b.host = req.Host
	b.port = req.Port
	b.username = req.Username
	b.openedAt = time.Now()
	b.bytesIn = 0
	b.bytesOut = 0
	b.rec = nil
	if b.mgr.recordingDir != "" {
		b.rec = NewRecording()
	}
	b.mu.Unlock()

	b.mgr.sessionOpened(b)
	log.Printf("[bridge] %s: session open %s@%s:%d", b.ID,
		logutil.SanitizeForLog(req.Username), logutil.SanitizeForLog(req.Host), req.Port)

	go b.pump(remote, done)
}

// connectFailureMessage maps a provider dial fault onto the client-visible
// message for the CONNECTION_FAILED code.
func connectFailureMessage(err error) string {
	switch {
	case errors.Is(err, sshconn.ErrAuth):
		return msgAuthError
	case errors.Is(err, sshconn.ErrHostKey):
		return msgBadHostKey
	case errors.Is(err, sshconn.ErrNetwork):
		return msgSocketClosed
	default:
		return msgCouldNotConn
	}
}

// sendCommand handles the "send_command" command. Write faults are fatal
// to the bridge: the error is reported, cleanup runs, and the client
// connection is closed with a normal closure code.
func (b *Bridge) sendCommand(data json.RawMessage) {
	var req commandRequest
	if len(data) > 0 {
		_ = json.Unmarshal(data, &req)
	}
	if len(req.Text) > maxCommandSize {
		log.Printf("[bridge] %s: command text too large: %d bytes", b.ID, len(req.Text))
		return
	}

	b.mu.Lock()
	remote := b.remote
	rec := b.rec
	b.mu.Unlock()

	err := sshconn.ErrClosed
	if remote != nil {
		err = remote.Write(req.Text)
	}
	if err != nil {
		log.Printf("[bridge] %s: send failed: %v", b.ID, err)
		if errors.Is(err, sshconn.ErrTimeout) {
			b.sendError(CodeSendCommandError, msgWriteTimeout)
		} else {
			b.sendError(CodeSendCommandError, msgSocketClosed)
		}
		b.Shutdown("send fault")
		return
	}

	if rec != nil {
		rec.RecordInput([]byte(req.Text))
	}
	b.mu.Lock()
	b.bytesIn += int64(len(req.Text))
	b.mu.Unlock()
}

// pump drains the remote session into the client connection, one chunk at
// a time in read order, until a stop is requested or the session faults.
// A fault (not a requested stop) reports RECEIVE_OUTPUT_ERROR once and
// drives the full shutdown; a requested stop exits silently.
func (b *Bridge) pump(remote RemoteSession, done chan struct{}) {
	fault := false

	for b.isRunning() {
		chunk, err := remote.Read(b.mgr.cfg.ReadTimeout)
		if err != nil {
			fault = true
			break
		}
		if len(chunk) == 0 {
			continue
		}
		if err := b.sendOutput(chunk); err != nil {
			fault = true
			break
		}
	}

	// The fault path must not race a concurrent cleanup into emitting a
	// duplicate error: whoever flips running off owns the teardown.
	owns := fault && b.stopOnFault()
	close(done)

	if owns {
		log.Printf("[bridge] %s: output pump fault, closing session", b.ID)
		b.sendError(CodeReceiveOutputError, msgSocketClosed)
		b.Shutdown("receive fault")
	}
}

// stopOnFault atomically claims teardown ownership for the pump. It
// returns false when a stop was already requested, meaning cleanup is in
// progress elsewhere and the pump must exit silently.
func (b *Bridge) stopOnFault() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return false
	}
	b.running = false
	return true
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// sendOutput forwards one shell output chunk to the client.
func (b *Bridge) sendOutput(chunk []byte) error {
	b.mu.Lock()
	rec := b.rec
	b.bytesOut += int64(len(chunk))
	b.mu.Unlock()

	if rec != nil {
		rec.RecordOutput(chunk)
	}

	data, err := json.Marshal(newOutputMessage(string(chunk)))
	if err != nil {
		return err
	}
	return b.client.Write(b.ctx, websocket.MessageText, data)
}

// sendError reports one structured error to the client. Write failures
// are ignored: the connection teardown that follows handles them.
func (b *Bridge) sendError(code int, message string) {
	data, err := json.Marshal(newErrorMessage(code, message))
	if err != nil {
		return
	}
	if err := b.client.Write(b.ctx, websocket.MessageText, data); err != nil {
		log.Printf("[bridge] %s: error write failed: %v", b.ID, err)
	}
}

// Cleanup runs the teardown protocol: stop the pump, close the remote
// handle (which unblocks any in-flight read), wait for the pump within
// the grace period, and finalize the session record. It is idempotent and
// a no-op when no session or pump exists.
func (b *Bridge) Cleanup(reason string) {
	b.mu.Lock()
	remote := b.remote
	done := b.pumpDone
	rec := b.rec
	hadSession := remote != nil || done != nil
	b.running = false
	b.remote = nil
	b.pumpDone = nil
	b.rec = nil
	if hadSession {
		b.state = StateClosing
	}
	b.mu.Unlock()

	if remote != nil {
		remote.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(b.mgr.cfg.GracePeriod):
			log.Printf("[bridge] %s: output pump did not stop within %s, proceeding with teardown",
				b.ID, b.mgr.cfg.GracePeriod)
		}
	}

	if hadSession {
		b.mgr.sessionClosed(b, reason, rec)
		log.Printf("[bridge] %s: session closed (%s)", b.ID, reason)
	}

	b.setState(StateIdle)
}

// Shutdown runs Cleanup and then closes the client connection with a
// normal closure code. Safe to call from any flow, any number of times.
func (b *Bridge) Shutdown(reason string) {
	b.Cleanup(reason)
	if err := b.client.Close(websocket.StatusNormalClosure, ""); err == nil {
		log.Printf("[bridge] %s: client connection closed (%s)", b.ID, reason)
	}
}
