package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, b *Broker) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(b, w, r, func(token string) (string, error) {
			return strings.TrimPrefix(token, "principal-"), nil
		})
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, wsURL, principal string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{"auth.principal-" + principal}}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	_, wsURL := startServer(t, b)
	conn := dial(t, wsURL, "alice")

	require.Eventually(t, func() bool { return b.SubscriberCount("alice") == 1 }, time.Second, 10*time.Millisecond)

	b.Publish("alice", Event{Type: "transfer_item_state", Payload: map[string]string{"state": "committed"}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "transfer_item_state")
}

func TestPublishDoesNotCrossDeliver(t *testing.T) {
	b := NewBroker()
	_, wsURL := startServer(t, b)
	_ = dial(t, wsURL, "alice")
	bob := dial(t, wsURL, "bob")

	require.Eventually(t, func() bool { return b.SubscriberCount("alice") == 1 && b.SubscriberCount("bob") == 1 },
		time.Second, 10*time.Millisecond)

	b.Publish("alice", Event{Type: "only_for_alice"})

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err) // nothing delivered to bob
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	b := NewBroker()
	_, wsURL := startServer(t, b)
	conn := dial(t, wsURL, "alice")
	require.Eventually(t, func() bool { return b.SubscriberCount("alice") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount("alice") == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublishToUnknownPrincipalIsNoop(t *testing.T) {
	b := NewBroker()
	assert.NotPanics(t, func() {
		b.Publish("nobody", Event{Type: "x"})
	})
}
