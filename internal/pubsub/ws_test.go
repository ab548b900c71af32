package pubsub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"swap-router/internal/order"
)

func dialBridge(t *testing.T, b *Bridge) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(b.HandleWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func waitForSubscribers(t *testing.T, p *Publisher, orderID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.SubscriberCount(orderID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count for %s never reached %d", orderID, want)
}

func TestBridgeDeliversSnapshotsInOrder(t *testing.T) {
	p := NewPublisher(nil)
	b := NewBridge(p, nil)
	conn, done := dialBridge(t, b)
	defer done()

	if err := conn.WriteJSON(clientCommand{Action: "subscribe", OrderID: "ord-ws"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, p, "ord-ws", 1)

	sequence := []order.Status{order.StatusRouting, order.StatusBuilding, order.StatusSubmitted, order.StatusConfirmed}
	for _, st := range sequence {
		p.Publish(order.Snapshot{OrderID: "ord-ws", Status: st, UpdatedAt: time.Now().UTC()})
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i, want := range sequence {
		var env statusEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		if env.Type != "order-status" {
			t.Errorf("message %d: unexpected type %q", i, env.Type)
		}
		if env.Payload.Status != want {
			t.Errorf("message %d: expected %s, got %s", i, want, env.Payload.Status)
		}
	}
}

func TestBridgeUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher(nil)
	b := NewBridge(p, nil)
	conn, done := dialBridge(t, b)
	defer done()

	if err := conn.WriteJSON(clientCommand{Action: "subscribe", OrderID: "ord-ws"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, p, "ord-ws", 1)

	if err := conn.WriteJSON(clientCommand{Action: "unsubscribe", OrderID: "ord-ws"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	waitForSubscribers(t, p, "ord-ws", 0)

	p.Publish(order.Snapshot{OrderID: "ord-ws", Status: order.StatusConfirmed})

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no delivery after unsubscribe")
	}
}

func TestBridgeCleansUpOnDisconnect(t *testing.T) {
	p := NewPublisher(nil)
	b := NewBridge(p, nil)
	conn, done := dialBridge(t, b)

	if err := conn.WriteJSON(clientCommand{Action: "subscribe", OrderID: "ord-ws"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForSubscribers(t, p, "ord-ws", 1)

	done()
	waitForSubscribers(t, p, "ord-ws", 0)
}
