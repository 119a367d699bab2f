package push

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuckborough/burrow/internal/model"
	"github.com/tuckborough/burrow/internal/store"
)

// Sender delivers committed notifications to the recipient's registered
// browsers. It plugs into the membership notifier as its transport.
type Sender struct {
	service *Service
	store   *store.PushStore
	logger  *slog.Logger
}

// NewSender creates a Sender over the given service and subscription store.
func NewSender(service *Service, pushStore *store.PushStore, logger *slog.Logger) *Sender {
	return &Sender{
		service: service,
		store:   pushStore,
		logger:  logger,
	}
}

// Deliver pushes the notification to every subscription its recipient holds.
// Subscriptions the push service reports gone are pruned; other failures are
// logged and skipped so one dead browser cannot block the rest.
func (s *Sender) Deliver(n *model.Notification) error {
	subs, err := s.store.ListByUser(n.UserID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	payload := Payload{
		Title: n.Title,
		Body:  n.Body,
		URL:   "/notifications",
		Tag:   fmt.Sprintf("%s-%d", n.Type, n.ID),
	}

	for _, sub := range subs {
		if err := s.service.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := s.store.DeleteByEndpoint(sub.Endpoint); err != nil {
					s.logger.Warn("prune expired push subscription", "endpoint", sub.Endpoint, "error", err)
				}
				continue
			}
			s.logger.Warn("send push", "subscription_id", sub.ID, "user_id", n.UserID, "error", err)
		}
	}

	return nil
}
