// Package bus delivers in-process notification events to per-user
// subscribers. Delivery is best effort: events are wake-up signals, the
// notification rows themselves are already persisted, so a subscriber with a
// full buffer simply misses a signal it already has reason to act on.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sendBuffer is the per-subscription channel depth. A full buffer means the
// subscriber has unprocessed wake-ups queued, so dropping further ones loses
// nothing.
const sendBuffer = 16

// Event is a lightweight notification signal. RefType and RefID point at the
// entity that changed; subscribers re-fetch state rather than trusting a
// payload.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	NotificationID int64     `json:"notificationId,omitempty"`
	RefType        string    `json:"refType,omitempty"`
	RefID          int64     `json:"refId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Subscription is one listener's handle. Events arrive on C until Close.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	userID int64
	ch     chan Event
}

// Close detaches the subscription from the bus. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus routes events to the subscriptions of their target user.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]map[*Subscription]struct{}
	logger *slog.Logger
}

// New creates a Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int64]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a listener for one user's events. A user may hold
// several subscriptions at once, one per connected device.
func (b *Bus) Subscribe(userID int64) *Subscription {
	ch := make(chan Event, sendBuffer)
	sub := &Subscription{C: ch, bus: b, userID: userID, ch: ch}

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	set := b.subs[sub.userID]
	if _, ok := set[sub]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.userID)
		}
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to every subscription of userID. Slow subscribers
// are skipped, never blocked on.
func (b *Bus) Publish(userID int64, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[userID] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("bus subscriber full, dropping event", "user_id", userID, "type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of open subscriptions for userID.
func (b *Bus) SubscriberCount(userID int64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
