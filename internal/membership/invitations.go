package membership

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tuckborough/burrow/internal/metrics"
	"github.com/tuckborough/burrow/internal/model"
)

// takenSuffixes collects every invitation code suffix ever used in the
// household. Codes are globally unique, so a suffix stays taken even after
// its invitation is redeemed or revoked.
func (c *Coordinator) takenSuffixes(householdID int64) (map[string]bool, error) {
	invitations, err := c.store.ListInvitations(householdID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(invitations))
	for _, inv := range invitations {
		taken[suffixOf(inv.Code)] = true
	}
	return taken, nil
}

// CreateInvitation issues an invitation code for a roster member slot.
// Owner only. With a PENDING invitation already on the slot, forceNew=false
// returns it unchanged and forceNew=true revokes it and issues a
// replacement; two valid codes never coexist for one slot. The code suffix
// comes from suggestedCode when given, otherwise from the member's name,
// with a numeric disambiguator on collision within the household.
func (c *Coordinator) CreateInvitation(callerID, householdID, memberRecordID int64, inviteePhone, suggestedCode string, forceNew bool) (*model.Invitation, error) {
	h, err := c.requireOwner(householdID, callerID)
	if err != nil {
		return nil, err
	}
	rec, err := c.store.GetMemberRecord(memberRecordID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.HouseholdID != householdID {
		return nil, fmt.Errorf("member record %d: %w", memberRecordID, ErrNotFound)
	}

	inviteePhone = strings.TrimSpace(inviteePhone)
	if inviteePhone != "" && !ValidPhone(inviteePhone) {
		return nil, fmt.Errorf("phone %q: %w", inviteePhone, ErrInvalidPhone)
	}

	base := deriveSuffix(rec.Name)
	if suggestedCode != "" {
		sc := normalizeCode(suggestedCode)
		if !suffixRe.MatchString(sc) {
			return nil, fmt.Errorf("suggested code %q: %w", suggestedCode, ErrInvalidCode)
		}
		for len(sc) < suffixLen {
			sc += "X"
		}
		base = sc
	}

	now := time.Now().UTC()

	pending, err := c.store.PendingInvitation(householdID, memberRecordID)
	if err != nil {
		return nil, err
	}
	if pending != nil && pending.EffectiveStatus(now) == model.InvitationExpired {
		if _, err := c.store.ExpireInvitation(pending.ID); err != nil {
			return nil, err
		}
		metrics.InvitationsExpired.Inc()
		pending = nil
	}
	if pending != nil && !forceNew {
		return pending, nil
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		taken, err := c.takenSuffixes(householdID)
		if err != nil {
			return nil, err
		}
		inv := &model.Invitation{
			HouseholdID:    householdID,
			MemberRecordID: memberRecordID,
			Code:           invitationCode(h.Code, pickSuffix(base, taken)),
			InviteePhone:   inviteePhone,
			CreatedBy:      callerID,
			ExpiresAt:      now.Add(c.ttl),
		}

		var created *model.Invitation
		if pending != nil {
			created, err = c.store.SupersedeInvitation(pending.ID, inv, now)
		} else {
			created, err = c.store.CreateInvitation(inv)
		}
		if errors.Is(err, ErrDuplicateCode) {
			// Lost a suffix race within the household; re-list and re-pick.
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.InvitationsIssued.Inc()
		c.logger.Info("invitation issued", "invitation_id", created.ID, "household_id", householdID, "code", created.Code)
		return created, nil
	}
	return nil, fmt.Errorf("create invitation: %w", errCodeSpaceExhausted)
}

// ListInvitations returns the household's invitations, newest first, with
// expiry folded into the reported status. Owner only.
func (c *Coordinator) ListInvitations(callerID, householdID int64) ([]model.Invitation, error) {
	if _, err := c.requireOwner(householdID, callerID); err != nil {
		return nil, err
	}
	invitations, err := c.store.ListInvitations(householdID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range invitations {
		invitations[i].Status = invitations[i].EffectiveStatus(now)
	}
	return invitations, nil
}

// RevokeInvitation withdraws a PENDING invitation. Owner only. Anything
// other than PENDING fails ErrInvalidState; callers re-fetch to see what
// the invitation became.
func (c *Coordinator) RevokeInvitation(callerID, invitationID int64) (*model.Invitation, error) {
	inv, err := c.store.GetInvitation(invitationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("invitation %d: %w", invitationID, ErrNotFound)
	}
	if _, err := c.requireOwner(inv.HouseholdID, callerID); err != nil {
		return nil, err
	}

	ok, err := c.store.RevokeInvitation(invitationID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.store.GetInvitation(invitationID)
		if err != nil {
			return nil, err
		}
		status := inv.Status
		if current != nil {
			status = current.Status
		}
		return nil, fmt.Errorf("invitation %d is %s: %w", invitationID, status, ErrInvalidState)
	}
	metrics.InvitationsRevoked.Inc()
	c.logger.Info("invitation revoked", "invitation_id", invitationID, "household_id", inv.HouseholdID)
	return c.store.GetInvitation(invitationID)
}

// RedeemInvitation redeems an invitation code for the calling user: the
// invitation flips to ACCEPTED exactly once, the caller gains a MEMBER
// membership (which becomes active only if they had none), the roster
// record is linked to their account, and the household owner is notified.
// A code that is no longer pending fails with an InvitationStateError
// naming the state that beat the caller to it.
func (c *Coordinator) RedeemInvitation(callerID int64, code string) (*model.Membership, error) {
	code = normalizeCode(code)
	if !validInvitationCode(code) {
		return nil, fmt.Errorf("code %q: %w", code, ErrInvalidCode)
	}
	inv, err := c.store.GetInvitationByCode(code)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("invitation code %s: %w", code, ErrNotFound)
	}
	h, err := c.store.GetHousehold(inv.HouseholdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("household %d: %w", inv.HouseholdID, ErrNotFound)
	}

	body := fmt.Sprintf("An invitation to %s was redeemed", h.Name)
	if rec, err := c.store.GetMemberRecord(inv.MemberRecordID); err != nil {
		return nil, err
	} else if rec != nil {
		body = fmt.Sprintf("%s joined %s", rec.Name, h.Name)
	}
	notif := &model.Notification{
		UserID:  h.OwnerUserID,
		Type:    model.NotifTypeInvitationRedeemed,
		Title:   "Invitation redeemed",
		Body:    body,
		RefType: "invitation",
		RefID:   inv.ID,
	}

	m, n, err := c.store.RedeemInvitation(inv.ID, callerID, time.Now().UTC(), notif)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			metrics.InvitationsExpired.Inc()
		}
		return nil, err
	}
	metrics.InvitationsRedeemed.Inc()
	metrics.NotificationsWritten.Inc()
	c.publish(n)
	c.logger.Info("invitation redeemed", "invitation_id", inv.ID, "household_id", inv.HouseholdID, "user_id", callerID)
	return m, nil
}
