package events

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    nil, // selected per-request in ServeWS via offered subprotocol list
}

// ServeWS upgrades r to a WebSocket, selecting the offered `auth.<token>`
// subprotocol (spec.md §6), verifies it via verifyToken, and registers the
// connection with b under principal until the client disconnects.
//
// verifyToken must accept the bare token portion of the selected
// `auth.<token>` subprotocol and return the bound principal id, or an
// error if the token is invalid/expired/wrong-kind.
func ServeWS(b *Broker, w http.ResponseWriter, r *http.Request, verifyToken func(token string) (principal string, err error)) {
	var selected, tokenPart string
	for _, proto := range websocket.Subprotocols(r) {
		if len(proto) > len("auth.") && proto[:len("auth.")] == "auth." {
			selected = proto
			tokenPart = proto[len("auth."):]
			break
		}
	}
	if selected == "" {
		http.Error(w, "missing auth subprotocol", http.StatusUnauthorized)
		return
	}
	principal, err := verifyToken(tokenPart)
	if err != nil {
		http.Error(w, "invalid events_ws token", http.StatusUnauthorized)
		return
	}

	up := upgrader
	up.Subprotocols = []string{selected}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: websocket upgrade failed: %v", err)
		return
	}

	s := b.Connect(principal, conn)
	defer func() {
		b.Disconnect(principal, s)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				s.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	// Subscribers are push-only: read loop exists solely to detect
	// disconnects and discard any client-sent frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
