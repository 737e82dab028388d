package handlers

import (
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/webterm/webterm/internal/bridge"
)

// Mgr is set from main.go during init.
var Mgr *bridge.Manager

// TerminalWS accepts a WebSocket connection and runs one bridge for its
// lifetime. Each connection carries at most one remote shell session,
// driven by the JSON command protocol.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	if Mgr == nil {
		http.Error(w, "Bridge manager not initialized", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	b := Mgr.NewBridge(clientConn)
	log.Printf("Terminal bridge %s connected from %s", b.ID, r.RemoteAddr)

	b.Run(r.Context())
}
