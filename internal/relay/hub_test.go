package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shardkit/gateway/internal/gateway"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	msg, _ := json.Marshal(subscribeRequest{Action: "subscribe", Type: typ})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) gateway.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read relayed event: %v", err)
	}
	var ev gateway.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode relayed event: %v", err)
	}
	return ev
}

func TestHubFansOutByType(t *testing.T) {
	hub := NewHub("events", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleEvents))
	defer srv.Close()

	everything := dialHub(t, srv)
	subscribe(t, everything, "*")

	messages := dialHub(t, srv)
	subscribe(t, messages, "MESSAGE_CREATE")

	// Let the subscriptions land before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.ActiveGroups()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(gateway.Event{Op: gateway.OpDispatch, Type: "GUILD_CREATE", Sequence: 1, Data: json.RawMessage(`{"id":"g1"}`)})
	hub.Publish(gateway.Event{Op: gateway.OpDispatch, Type: "MESSAGE_CREATE", Sequence: 2, Data: json.RawMessage(`{"content":"hi"}`)})

	// The wildcard subscriber sees both, in publish order.
	if ev := readEvent(t, everything); ev.Type != "GUILD_CREATE" {
		t.Errorf("wildcard got %s first, want GUILD_CREATE", ev.Type)
	}
	if ev := readEvent(t, everything); ev.Type != "MESSAGE_CREATE" {
		t.Errorf("wildcard got %s second, want MESSAGE_CREATE", ev.Type)
	}

	// The typed subscriber sees only the matching dispatch.
	ev := readEvent(t, messages)
	if ev.Type != "MESSAGE_CREATE" {
		t.Errorf("typed subscriber got %s, want MESSAGE_CREATE", ev.Type)
	}
	if ev.Sequence != 2 {
		t.Errorf("relayed sequence = %d, want 2", ev.Sequence)
	}
}

func TestHubIgnoresNonDispatch(t *testing.T) {
	hub := NewHub("events", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleEvents))
	defer srv.Close()

	conn := dialHub(t, srv)
	subscribe(t, conn, "*")

	deadline := time.Now().Add(2 * time.Second)
	for len(hub.ActiveGroups()) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// No type means nothing to route.
	hub.Publish(gateway.Event{Op: gateway.OpHeartbeatACK})
	hub.Publish(gateway.Event{Op: gateway.OpDispatch, Type: "READY", Sequence: 1})

	if ev := readEvent(t, conn); ev.Type != "READY" {
		t.Errorf("got %s, want READY", ev.Type)
	}
}

func TestIsValidGroup(t *testing.T) {
	valid := []string{"*", "MESSAGE_CREATE", "READY", "GUILD_MEMBER_ADD", "EVENT_2"}
	for _, g := range valid {
		if !isValidGroup(g) {
			t.Errorf("%q should be valid", g)
		}
	}

	invalid := []string{"", "message_create", "MESSAGE CREATE", "MESSAGE-CREATE", strings.Repeat("A", 65)}
	for _, g := range invalid {
		if isValidGroup(g) {
			t.Errorf("%q should be invalid", g)
		}
	}
}
