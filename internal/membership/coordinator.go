// Package membership implements household membership coordination: creating
// households, rostering members, issuing and redeeming invitation codes,
// join requests with owner approval, the single-active-household pointer,
// and notification fan-out to the affected users.
//
// The Coordinator is the callable surface. Every operation takes the
// caller's user id explicitly; there is no ambient session state. Typed
// outcomes are the package's sentinel errors, checked with errors.Is.
package membership

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tuckborough/burrow/internal/model"
)

// DefaultInvitationTTL is how long a new invitation stays redeemable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// codeAttempts bounds the regenerate-and-retry loop on code collisions.
const codeAttempts = 5

// Config tunes the Coordinator.
type Config struct {
	// InvitationTTL overrides DefaultInvitationTTL when positive.
	InvitationTTL time.Duration
}

// Coordinator sequences the stores and fan-out behind every membership
// operation and enforces the cross-entity preconditions (ownership, phone
// validity, leave-before-join).
type Coordinator struct {
	store    Store
	notifier *Notifier
	logger   *slog.Logger
	ttl      time.Duration
}

// NewCoordinator creates a Coordinator over store. notifier may be nil when
// no fan-out is wanted (tests, one-shot tools).
func NewCoordinator(store Store, notifier *Notifier, logger *slog.Logger, cfg Config) *Coordinator {
	ttl := cfg.InvitationTTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		notifier: notifier,
		logger:   logger,
		ttl:      ttl,
	}
}

// publish fans out a committed notification, if any.
func (c *Coordinator) publish(n *model.Notification) {
	if c.notifier != nil {
		c.notifier.Publish(n)
	}
}

// requireOwner loads the household and verifies the caller owns it.
func (c *Coordinator) requireOwner(householdID, callerID int64) (*model.Household, error) {
	h, err := c.store.GetHousehold(householdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("household %d: %w", householdID, ErrNotFound)
	}
	if h.OwnerUserID != callerID {
		return nil, fmt.Errorf("household %d: %w", householdID, ErrNotHouseholdOwner)
	}
	return h, nil
}

// rosterName resolves a user to their roster record name within a
// household, for notification text. Empty when the user was never linked.
func (c *Coordinator) rosterName(householdID, userID int64) string {
	records, err := c.store.ListMemberRecords(householdID)
	if err != nil {
		return ""
	}
	for _, rec := range records {
		if rec.LinkedUserID != nil && *rec.LinkedUserID == userID {
			return rec.Name
		}
	}
	return ""
}

var errCodeSpaceExhausted = errors.New("could not find a free code")
