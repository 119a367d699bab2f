package membership

import (
	"fmt"
	"time"

	"github.com/tuckborough/burrow/internal/model"
)

// Notifications returns the caller's notifications, newest first. limit <= 0
// applies the store default.
func (c *Coordinator) Notifications(callerID int64, limit int) ([]model.Notification, error) {
	return c.store.ListNotifications(callerID, limit)
}

// MarkNotificationRead flips a notification's read flag. Only the recipient
// may flip it; repeats are no-ops.
func (c *Coordinator) MarkNotificationRead(callerID, notificationID int64) error {
	n, err := c.store.GetNotification(notificationID)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("notification %d: %w", notificationID, ErrNotFound)
	}
	if n.UserID != callerID {
		return fmt.Errorf("notification %d: %w", notificationID, ErrNotOwner)
	}
	return c.store.MarkNotificationRead(notificationID, time.Now().UTC())
}
