package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/webterm/webterm/internal/bridge"
	"github.com/webterm/webterm/internal/sshtest"
)

// newBridgeServer stands up the full HTTP surface backed by a fresh
// bridge manager.
func newBridgeServer(t *testing.T) (*httptest.Server, *bridge.Manager) {
	t.Helper()

	mgr := bridge.NewManager(bridge.Config{
		DialTimeout: 5 * time.Second,
		ReadTimeout: 50 * time.Millisecond,
		GracePeriod: 2 * time.Second,
	})

	old := Mgr
	Mgr = mgr
	t.Cleanup(func() {
		mgr.CloseAll()
		Mgr = old
	})

	r := chi.NewRouter()
	r.Get("/health", HealthCheck)
	r.Get("/ws/terminal", TerminalWS)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sessions", ListSessions)
		r.Delete("/sessions/{id}", CloseSession)
		r.Get("/sessions/history", SessionHistory)
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/terminal"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

type wsFrame struct {
	Command string `json:"command"`
	Data    struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Output  string `json:"output"`
	} `json:"data"`
}

func sendCommand(t *testing.T, c *websocket.Conn, command string, data interface{}) {
	t.Helper()
	frame, err := json.Marshal(map[string]interface{}{
		"command": command,
		"data":    data,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("websocket write: %v", err)
	}
}

func recvFrame(t *testing.T, c *websocket.Conn, timeout time.Duration) (wsFrame, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		return wsFrame{}, err
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return frame, nil
}

func mustRecvFrame(t *testing.T, c *websocket.Conn, timeout time.Duration) wsFrame {
	t.Helper()
	frame, err := recvFrame(t, c, timeout)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	return frame
}

func connectData(srv *sshtest.Server, password string) map[string]interface{} {
	return map[string]interface{}{
		"host":     srv.Host(),
		"port":     srv.Port(),
		"username": "testuser",
		"password": password,
	}
}

func TestTerminalWS_InvalidCommand(t *testing.T) {
	ts, _ := newBridgeServer(t)
	c := dialWS(t, ts)

	sendCommand(t, c, "make_coffee", map[string]interface{}{})

	frame := mustRecvFrame(t, c, 2*time.Second)
	if frame.Command != "error" {
		t.Fatalf("expected error frame, got %q", frame.Command)
	}
	if frame.Data.Code != bridge.CodeInvalidCommand {
		t.Errorf("expected code %d, got %d", bridge.CodeInvalidCommand, frame.Data.Code)
	}
	if frame.Data.Message != "Invalid command!" {
		t.Errorf("unexpected message %q", frame.Data.Message)
	}
}

func TestTerminalWS_OpenSessionAndReceiveOutput(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{})
	ts, _ := newBridgeServer(t)
	c := dialWS(t, ts)

	sendCommand(t, c, "new_connection", connectData(srv, "testpass"))

	frame := mustRecvFrame(t, c, 5*time.Second)
	if frame.Command != "receive_output" {
		t.Fatalf("expected receive_output, got %+v", frame)
	}
	if !strings.Contains(frame.Data.Output, "webterm-sshtest ready") {
		t.Errorf("expected banner, got %q", frame.Data.Output)
	}
}

func TestTerminalWS_WrongPassword(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{})
	ts, mgr := newBridgeServer(t)
	c := dialWS(t, ts)

	sendCommand(t, c, "new_connection", connectData(srv, "wrong"))

	frame := mustRecvFrame(t, c, 5*time.Second)
	if frame.Data.Code != bridge.CodeConnectionFailed {
		t.Errorf("expected code %d, got %d", bridge.CodeConnectionFailed, frame.Data.Code)
	}
	if frame.Data.Message != "Authentication error!" {
		t.Errorf("unexpected message %q", frame.Data.Message)
	}

	// The bridge stays open and usable: retry with good credentials.
	sendCommand(t, c, "new_connection", connectData(srv, "testpass"))
	frame = mustRecvFrame(t, c, 5*time.Second)
	if frame.Command != "receive_output" {
		t.Fatalf("expected receive_output after retry, got %+v", frame)
	}

	if n := mgr.Count(); n != 1 {
		t.Errorf("expected 1 live bridge, got %d", n)
	}
}

func TestTerminalWS_CommandOutputOrder(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{})
	ts, _ := newBridgeServer(t)
	c := dialWS(t, ts)

	sendCommand(t, c, "new_connection", connectData(srv, "testpass"))

	// Banner first.
	frame := mustRecvFrame(t, c, 5*time.Second)
	if frame.Command != "receive_output" {
		t.Fatalf("expected banner, got %+v", frame)
	}

	commands := []string{"date\n", "whoami\n", "uptime\n"}
	for _, cmd := range commands {
		sendCommand(t, c, "send_command", map[string]string{"text": cmd})
		time.Sleep(100 * time.Millisecond)
	}

	// The echo shell returns the input verbatim; collect output until
	// all three commands appear, preserving order.
	var sb strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := recvFrame(t, c, 500*time.Millisecond)
		if err != nil {
			continue
		}
		if frame.Command != "receive_output" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
		if frame.Data.Output == "" {
			t.Error("received empty output frame")
		}
		sb.WriteString(frame.Data.Output)
		if strings.Contains(sb.String(), "uptime") {
			break
		}
	}

	all := sb.String()
	iDate := strings.Index(all, "date")
	iWhoami := strings.Index(all, "whoami")
	iUptime := strings.Index(all, "uptime")
	if iDate < 0 || iWhoami < 0 || iUptime < 0 {
		t.Fatalf("missing echoed commands in output %q", all)
	}
	if !(iDate < iWhoami && iWhoami < iUptime) {
		t.Errorf("output order violated: date=%d whoami=%d uptime=%d", iDate, iWhoami, iUptime)
	}
}

func TestTerminalWS_DisconnectReleasesResources(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{})
	ts, mgr := newBridgeServer(t)

	c1 := dialWS(t, ts)
	sendCommand(t, c1, "new_connection", connectData(srv, "testpass"))
	if frame := mustRecvFrame(t, c1, 5*time.Second); frame.Command != "receive_output" {
		t.Fatalf("expected banner, got %+v", frame)
	}

	// Disconnect mid-session.
	c1.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && mgr.Count() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.Count() != 0 {
		t.Fatalf("bridge not released after disconnect: %d live", mgr.Count())
	}

	// A brand-new connection must immediately get a working session.
	c2 := dialWS(t, ts)
	sendCommand(t, c2, "new_connection", connectData(srv, "testpass"))
	frame := mustRecvFrame(t, c2, 5*time.Second)
	if frame.Command != "receive_output" {
		t.Fatalf("expected receive_output on fresh session, got %+v", frame)
	}
}

func TestHealthCheck(t *testing.T) {
	ts, _ := newBridgeServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Bridges int    `json:"bridges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("unexpected status %q", body.Status)
	}
}
