package membership

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tuckborough/burrow/internal/metrics"
	"github.com/tuckborough/burrow/internal/model"
)

// CreateHousehold creates a household with a freshly generated share code.
// The caller becomes its owner and the new household becomes their active
// one, whatever they were active in before.
func (c *Coordinator) CreateHousehold(ownerUserID int64, name string) (*model.Household, error) {
	name = strings.TrimSpace(name)
	now := time.Now().UTC()

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := generateHouseholdCode()
		if err != nil {
			return nil, err
		}
		h, err := c.store.CreateHousehold(code, name, ownerUserID, now)
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.HouseholdsCreated.Inc()
		c.logger.Info("household created", "household_id", h.ID, "code", h.Code, "owner_user_id", ownerUserID)
		return h, nil
	}
	return nil, fmt.Errorf("create household: %w", errCodeSpaceExhausted)
}

// ListHouseholds returns every household the user currently holds a
// membership in, annotated with role and the active flag, ordered by join
// time. This is the household-switcher view.
func (c *Coordinator) ListHouseholds(userID int64) ([]model.UserHousehold, error) {
	return c.store.ListUserHouseholds(userID)
}

// CurrentHousehold resolves the user's active household. Returns nil when
// the user is not active anywhere.
func (c *Coordinator) CurrentHousehold(userID int64) (*model.UserHousehold, error) {
	m, err := c.store.ActiveMembership(userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	h, err := c.store.GetHousehold(m.HouseholdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("household %d: %w", m.HouseholdID, ErrNotFound)
	}
	return &model.UserHousehold{
		Household: *h,
		Role:      m.Role,
		IsActive:  true,
		JoinedAt:  m.JoinedAt,
	}, nil
}

// SwitchActiveHousehold repoints the user's active household to one they
// already hold a membership in. No membership is created or removed.
func (c *Coordinator) SwitchActiveHousehold(userID, householdID int64) (*model.Membership, error) {
	m, err := c.store.SetActiveMembership(userID, householdID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("household %d: %w", householdID, ErrNotAMember)
	}
	return m, nil
}

// LeaveHousehold takes the user out of a household. A member's row is
// marked left; an owner only stops being active there, staying owner of
// record. When the departed household was the active one, the most recently
// joined remaining membership becomes active. Returns the resulting active
// membership, which is nil when none remains. The owner is notified unless
// they are the one leaving.
func (c *Coordinator) LeaveHousehold(userID, householdID int64) (*model.Membership, error) {
	h, err := c.store.GetHousehold(householdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("household %d: %w", householdID, ErrNotFound)
	}
	m, err := c.store.GetMembership(householdID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Held() {
		return nil, fmt.Errorf("household %d: %w", householdID, ErrNotAMember)
	}

	var notif *model.Notification
	if h.OwnerUserID != userID {
		body := fmt.Sprintf("A member left %s", h.Name)
		if name := c.rosterName(householdID, userID); name != "" {
			body = fmt.Sprintf("%s left %s", name, h.Name)
		}
		notif = &model.Notification{
			UserID:  h.OwnerUserID,
			Type:    model.NotifTypeMemberLeft,
			Title:   "Member left",
			Body:    body,
			RefType: "household",
			RefID:   householdID,
		}
	}

	active, n, err := c.store.LeaveHousehold(userID, householdID, time.Now().UTC(), notif)
	if err != nil {
		return nil, err
	}
	if n != nil {
		metrics.NotificationsWritten.Inc()
	}
	c.publish(n)
	c.logger.Info("left household", "household_id", householdID, "user_id", userID)
	return active, nil
}
