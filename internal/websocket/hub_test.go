package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/tuckborough/burrow/internal/auth"
	"github.com/tuckborough/burrow/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a live subscription but no real connection.
func mockClient(hub *Hub, b *bus.Bus, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   nil,
		sub:    b.Subscribe(userID),
		userID: userID,
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	b := bus.New(testLogger())

	c1 := mockClient(hub, b, 1)
	c2 := mockClient(hub, b, 2)

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	b := bus.New(testLogger())

	c := mockClient(hub, b, 1)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(testLogger())
	b := bus.New(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			c := mockClient(hub, b, userID)
			hub.Register(c)
			hub.Unregister(c)
			c.sub.Close()
		}(int64(i + 1))
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	hub := NewHub(testLogger())
	b := bus.New(testLogger())

	srv := httptest.NewServer(HandleWebSocket(hub, b, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestHandlerStreamsOwnEvents(t *testing.T) {
	hub := NewHub(testLogger())
	b := bus.New(testLogger())

	handler := HandleWebSocket(hub, b, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r.WithContext(auth.WithUserID(r.Context(), 7)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	waitFor(t, func() bool { return b.SubscriberCount(7) == 1 })

	// An event for another user must not reach this connection.
	b.Publish(8, bus.Event{Type: "household_invitation"})
	b.Publish(7, bus.Event{Type: "join_request", RefID: 42})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev bus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "join_request" {
		t.Errorf("type = %q, want %q", ev.Type, "join_request")
	}
	if ev.RefID != 42 {
		t.Errorf("ref id = %d, want 42", ev.RefID)
	}
	if ev.ID == "" {
		t.Error("expected event id to be set")
	}

	conn.Close(ws.StatusNormalClosure, "")

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	waitFor(t, func() bool { return b.SubscriberCount(7) == 0 })
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never held")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
