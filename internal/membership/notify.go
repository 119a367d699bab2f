package membership

import (
	"log/slog"

	"github.com/tuckborough/burrow/internal/bus"
	"github.com/tuckborough/burrow/internal/model"
)

// Transport delivers a notification outside the process (web push, or an
// SMS/email bridge). Delivery is best effort; the notification row is
// already committed before a transport ever sees it.
type Transport interface {
	Deliver(n *model.Notification) error
}

// Notifier fans out notifications that the store has persisted: a wake-up
// event on the recipient's bus channel, then a hand-off to the transport.
// Subscribers re-fetch their notification list and any dependent state, so
// duplicate or dropped wake-ups are harmless.
type Notifier struct {
	bus       *bus.Bus
	transport Transport
	logger    *slog.Logger
}

// NewNotifier creates a Notifier. transport may be nil.
func NewNotifier(b *bus.Bus, transport Transport, logger *slog.Logger) *Notifier {
	return &Notifier{bus: b, transport: transport, logger: logger}
}

// Publish announces a committed notification to its recipient. A nil
// notification is ignored, which lets callers pass through the nil result
// of an idempotent store no-op.
func (nt *Notifier) Publish(n *model.Notification) {
	if n == nil {
		return
	}
	if nt.bus != nil {
		nt.bus.Publish(n.UserID, bus.Event{
			Type:           n.Type,
			NotificationID: n.ID,
			RefType:        n.RefType,
			RefID:          n.RefID,
		})
	}
	if nt.transport != nil {
		go func(n model.Notification) {
			if err := nt.transport.Deliver(&n); err != nil {
				nt.logger.Warn("notification transport", "notification_id", n.ID, "user_id", n.UserID, "error", err)
			}
		}(*n)
	}
}
