// Package events implements the per-principal WebSocket event broker
// (C4): an in-process map of principal_id to active sockets, guarded by a
// single lock, with fire-and-forget publish and a two-pass stale-socket
// reap — grounded on the teacher's internal/fabric Hub spoke registry.
package events

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is a JSON payload delivered to a principal's subscribed sockets.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// socket pairs a connection with the mutex that must guard writes to it
// (gorilla/websocket connections are not safe for concurrent writers).
type socket struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	stale bool
}

// Broker is the single in-process fan-out actor described by spec.md
// §4.4: one locked map, no back-pressure, no persistence.
type Broker struct {
	mu      sync.Mutex
	sockets map[string]map[*socket]struct{}
}

func NewBroker() *Broker {
	return &Broker{sockets: make(map[string]map[*socket]struct{})}
}

// Connect registers conn under principal and returns a handle to use with
// Disconnect.
func (b *Broker) Connect(principal string, conn *websocket.Conn) *socket {
	s := &socket{conn: conn}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sockets[principal]
	if !ok {
		set = make(map[*socket]struct{})
		b.sockets[principal] = set
	}
	set[s] = struct{}{}
	return s
}

// Disconnect removes s from principal's subscriber set, dropping the
// entry entirely once it is empty.
func (b *Broker) Disconnect(principal string, s *socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sockets[principal]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.sockets, principal)
	}
}

// Publish snapshots principal's subscribers under lock, sends the JSON
// encoding of event to each outside the lock, then takes a second lock
// pass to drop any socket whose send failed.
func (b *Broker) Publish(principal string, event Event) {
	b.mu.Lock()
	set, ok := b.sockets[principal]
	subs := make([]*socket, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	if !ok || len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	var anyStale bool
	for _, s := range subs {
		s.mu.Lock()
		writeErr := s.conn.WriteMessage(websocket.TextMessage, payload)
		s.mu.Unlock()
		if writeErr != nil {
			s.stale = true
			anyStale = true
		}
	}
	if !anyStale {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok = b.sockets[principal]
	if !ok {
		return
	}
	for s := range set {
		if s.stale {
			delete(set, s)
		}
	}
	if len(set) == 0 {
		delete(b.sockets, principal)
	}
}

// CloseAll snapshots and closes every socket with code, then clears the
// map entirely.
func (b *Broker) CloseAll(code int, text string) {
	b.mu.Lock()
	all := make([]*socket, 0)
	for _, set := range b.sockets {
		for s := range set {
			all = append(all, s)
		}
	}
	b.sockets = make(map[string]map[*socket]struct{})
	b.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(code, text)
	for _, s := range all {
		s.mu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		s.conn.Close()
		s.mu.Unlock()
	}
}

// SubscriberCount reports the number of sockets currently registered for
// principal, used by tests and admin/debug surfaces.
func (b *Broker) SubscriberCount(principal string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sockets[principal])
}
