package bus

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	b := New(slog.Default())

	sub := b.Subscribe(7)
	defer sub.Close()

	b.Publish(7, Event{Type: "invitation_redeemed", RefType: "invitation", RefID: 42})

	select {
	case ev := <-sub.C:
		if ev.Type != "invitation_redeemed" {
			t.Errorf("expected type invitation_redeemed, got %s", ev.Type)
		}
		if ev.RefID != 42 {
			t.Errorf("expected ref id 42, got %d", ev.RefID)
		}
		if ev.ID == "" {
			t.Error("expected event id to be filled in")
		}
		if ev.CreatedAt.IsZero() {
			t.Error("expected created at to be filled in")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishOtherUser(t *testing.T) {
	b := New(slog.Default())

	sub := b.Subscribe(1)
	defer sub.Close()

	b.Publish(2, Event{Type: "join_request"})

	select {
	case ev := <-sub.C:
		t.Fatalf("received event %s for another user", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleSubscriptions(t *testing.T) {
	b := New(slog.Default())

	s1 := b.Subscribe(3)
	s2 := b.Subscribe(3)

	if got := b.SubscriberCount(3); got != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", got)
	}

	b.Publish(3, Event{Type: "member_left"})

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.C:
			if ev.Type != "member_left" {
				t.Errorf("expected type member_left, got %s", ev.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	s1.Close()
	if got := b.SubscriberCount(3); got != 1 {
		t.Errorf("expected 1 subscription after close, got %d", got)
	}
	s2.Close()
	if got := b.SubscriberCount(3); got != 0 {
		t.Errorf("expected 0 subscriptions, got %d", got)
	}
}

func TestDoubleClose(t *testing.T) {
	b := New(slog.Default())
	sub := b.Subscribe(5)
	sub.Close()
	// Should not panic
	sub.Close()

	if got := b.SubscriberCount(5); got != 0 {
		t.Errorf("expected 0 subscriptions, got %d", got)
	}
}

func TestPublishFullBuffer(t *testing.T) {
	b := New(slog.Default())
	sub := b.Subscribe(9)
	defer sub.Close()

	for i := 0; i < sendBuffer; i++ {
		b.Publish(9, Event{Type: "join_request", RefID: int64(i)})
	}

	// This one should be dropped, not block
	done := make(chan struct{})
	go func() {
		b.Publish(9, Event{Type: "join_request", RefID: 999})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full buffer")
	}

	count := 0
	for {
		select {
		case <-sub.C:
			count++
		default:
			if count != sendBuffer {
				t.Errorf("expected %d buffered events, got %d", sendBuffer, count)
			}
			return
		}
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New(slog.Default())
	// Should not panic
	b.Publish(11, Event{Type: "join_request_approved"})
}

func TestConcurrentSubscribePublish(t *testing.T) {
	b := New(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			sub := b.Subscribe(userID)
			b.Publish(userID, Event{Type: "join_request"})
			for {
				select {
				case <-sub.C:
				default:
					sub.Close()
					return
				}
			}
		}(int64(i % 4))
	}

	wg.Wait()

	for userID := int64(0); userID < 4; userID++ {
		if got := b.SubscriberCount(userID); got != 0 {
			t.Errorf("expected 0 subscriptions for user %d, got %d", userID, got)
		}
	}
}
