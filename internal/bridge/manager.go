package bridge

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/webterm/webterm/internal/database"
	"github.com/webterm/webterm/internal/sshconn"
)

// Config carries the tunables every bridge shares.
type Config struct {
	// DefaultSSHPort is used when a new_connection omits the port.
	DefaultSSHPort int
	// DialTimeout bounds the SSH connect.
	DialTimeout time.Duration
	// ReadTimeout is the output pump's per-read bound, after which the
	// pump rechecks its stop flag.
	ReadTimeout time.Duration
	// GracePeriod bounds the wait for the pump during cleanup.
	GracePeriod time.Duration
	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
	// RecordingDir enables session recording when set.
	RecordingDir string
}

// Manager tracks all live bridges and owns their shared configuration,
// the SSH dialer, and session history persistence.
type Manager struct {
	cfg          Config
	recordingDir string
	dial         func(sshconn.Options) (RemoteSession, error)

	mu      sync.RWMutex
	bridges map[string]*Bridge
}

func NewManager(cfg Config) *Manager {
	if cfg.DefaultSSHPort == 0 {
		cfg.DefaultSSHPort = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &Manager{
		cfg:          cfg,
		recordingDir: cfg.RecordingDir,
		dial: func(opts sshconn.Options) (RemoteSession, error) {
			return sshconn.Open(opts)
		},
		bridges: make(map[string]*Bridge),
	}
}

// NewBridge registers a bridge for one accepted client connection.
func (m *Manager) NewBridge(client *websocket.Conn) *Bridge {
	return m.newBridge(client)
}

func (m *Manager) newBridge(client clientConn) *Bridge {
	b := &Bridge{
		ID:     uuid.New().String(),
		mgr:    m,
		client: client,
		state:  StateIdle,
	}
	m.mu.Lock()
	m.bridges[b.ID] = b
	m.mu.Unlock()
	log.Printf("[bridge-mgr] bridge %s registered", b.ID)
	return b
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.bridges[id]
	delete(m.bridges, id)
	m.mu.Unlock()
	if ok {
		log.Printf("[bridge-mgr] bridge %s removed", id)
	}
}

// Get returns a live bridge by ID, or nil.
func (m *Manager) Get(id string) *Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bridges[id]
}

// Count returns the number of live bridges.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

// Info is the session API view of one live bridge.
type Info struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Host        string     `json:"host,omitempty"`
	Port        int        `json:"port,omitempty"`
	Username    string     `json:"username,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// List returns a snapshot of all live bridges.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.bridges))
	for _, b := range m.bridges {
		b.mu.Lock()
		info := Info{
			ID:       b.ID,
			State:    b.state,
			Host:     b.host,
			Port:     b.port,
			Username: b.username,
		}
		if b.state == StateActive {
			t := b.openedAt
			info.ConnectedAt = &t
		}
		b.mu.Unlock()
		out = append(out, info)
	}
	return out
}

// CloseBridge force-closes a live bridge: the cleanup protocol runs and
// the client connection is closed with a normal closure code.
func (m *Manager) CloseBridge(id string) error {
	b := m.Get(id)
	if b == nil {
		return fmt.Errorf("bridge %q not found", id)
	}
	b.Shutdown("closed by operator")
	return nil
}

// CloseAll shuts down every live bridge, used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	bridges := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		bridges = append(bridges, b)
	}
	m.mu.RUnlock()

	for _, b := range bridges {
		b.Shutdown("server shutdown")
	}
}

// sessionOpened persists the start of a remote session.
func (m *Manager) sessionOpened(b *Bridge) {
	if database.DB == nil {
		return
	}
	b.mu.Lock()
	rec := database.SessionRecord{
		SessionID:   b.sessionID,
		Host:        b.host,
		Port:        b.port,
		Username:    b.username,
		ConnectedAt: b.openedAt,
	}
	b.mu.Unlock()

	if err := database.DB.Create(&rec).Error; err != nil {
		log.Printf("[bridge-mgr] record session open for %s: %v", b.ID, err)
	}
}

// sessionClosed finalizes the session record and exports the recording.
func (m *Manager) sessionClosed(b *Bridge, reason string, rec *Recording) {
	b.mu.Lock()
	sessionID := b.sessionID
	bytesIn, bytesOut := b.bytesIn, b.bytesOut
	b.mu.Unlock()

	if rec != nil && m.recordingDir != "" {
		if err := rec.Export(m.recordingDir, sessionID); err != nil {
			log.Printf("[bridge-mgr] export recording for %s: %v", b.ID, err)
		}
	}

	if database.DB == nil {
		return
	}

	now := time.Now()
	err := database.DB.Model(&database.SessionRecord{}).
		Where("session_id = ? AND closed_at IS NULL", sessionID).
		Updates(map[string]interface{}{
			"closed_at":    &now,
			"close_reason": reason,
			"bytes_in":     bytesIn,
			"bytes_out":    bytesOut,
		}).Error
	if err != nil {
		log.Printf("[bridge-mgr] record session close for %s: %v", b.ID, err)
	}
}
