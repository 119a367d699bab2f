package membership

import (
	"fmt"
	"strings"
	"time"

	"github.com/tuckborough/burrow/internal/metrics"
	"github.com/tuckborough/burrow/internal/model"
)

// SubmitJoinRequest files a request to join the household with the given
// share code. The caller must not be active in any household: leaving comes
// before joining. A pending request already filed by the caller for the
// same household is returned as is. The household owner is notified of new
// requests.
func (c *Coordinator) SubmitJoinRequest(callerID int64, code, message string) (*model.JoinRequest, error) {
	code = normalizeCode(code)
	if !validHouseholdCode(code) {
		return nil, fmt.Errorf("household code %q: %w", code, ErrInvalidCode)
	}

	active, err := c.store.ActiveMembership(callerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("user %d: %w", callerID, ErrAlreadyInHousehold)
	}

	h, err := c.store.GetHouseholdByCode(code)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("household code %s: %w", code, ErrInvalidCode)
	}

	m, err := c.store.GetMembership(h.ID, callerID)
	if err != nil {
		return nil, err
	}
	if m != nil && m.Held() {
		return nil, fmt.Errorf("already a member of household %d: %w", h.ID, ErrInvalidState)
	}

	notif := &model.Notification{
		UserID:  h.OwnerUserID,
		Type:    model.NotifTypeJoinRequest,
		Title:   "New join request",
		Body:    fmt.Sprintf("A new request to join %s is waiting", h.Name),
		RefType: "join_request",
	}
	req := &model.JoinRequest{
		HouseholdID: h.ID,
		UserID:      callerID,
		Message:     strings.TrimSpace(message),
	}

	jr, n, err := c.store.CreateJoinRequest(req, notif)
	if err != nil {
		return nil, err
	}
	if n != nil {
		metrics.JoinRequestsSubmitted.Inc()
		metrics.NotificationsWritten.Inc()
		c.publish(n)
		c.logger.Info("join request submitted", "join_request_id", jr.ID, "household_id", h.ID, "user_id", callerID)
	}
	return jr, nil
}

// ListPendingJoinRequests returns the requests awaiting a decision for the
// household. Owner only.
func (c *Coordinator) ListPendingJoinRequests(callerID, householdID int64) ([]model.JoinRequest, error) {
	if _, err := c.requireOwner(householdID, callerID); err != nil {
		return nil, err
	}
	return c.store.ListPendingJoinRequests(householdID)
}

// ResolveJoinRequest decides a pending request. Owner only. Approval grants
// the requester a MEMBER membership and makes it their active household;
// rejection records the outcome. Either way the requester is notified, the
// request becomes terminal, and a second resolution fails
// ErrAlreadyResolved.
func (c *Coordinator) ResolveJoinRequest(callerID, requestID int64, approve bool) (*model.JoinRequest, error) {
	jr, err := c.store.GetJoinRequest(requestID)
	if err != nil {
		return nil, err
	}
	if jr == nil {
		return nil, fmt.Errorf("join request %d: %w", requestID, ErrNotFound)
	}
	h, err := c.requireOwner(jr.HouseholdID, callerID)
	if err != nil {
		return nil, err
	}

	notif := &model.Notification{
		UserID:  jr.UserID,
		RefType: "join_request",
		RefID:   jr.ID,
	}
	outcome := "rejected"
	if approve {
		outcome = "approved"
		notif.Type = model.NotifTypeJoinRequestApproved
		notif.Title = "Join request approved"
		notif.Body = fmt.Sprintf("You are now a member of %s", h.Name)
	} else {
		notif.Type = model.NotifTypeJoinRequestRejected
		notif.Title = "Join request declined"
		notif.Body = fmt.Sprintf("Your request to join %s was declined", h.Name)
	}

	resolved, _, n, err := c.store.ResolveJoinRequest(requestID, callerID, approve, time.Now().UTC(), notif)
	if err != nil {
		return nil, err
	}
	metrics.JoinRequestsResolved.WithLabelValues(outcome).Inc()
	metrics.NotificationsWritten.Inc()
	c.publish(n)
	c.logger.Info("join request resolved", "join_request_id", requestID, "household_id", jr.HouseholdID, "outcome", outcome)
	return resolved, nil
}
