package store

import (
	"errors"
	"testing"
	"time"

	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

// seedPendingInvitation creates a roster record named after the suffix and a
// pending invitation for it, expiring a week out.
func seedPendingInvitation(t *testing.T, s *Store, h *model.Household, suffix string) *model.Invitation {
	t.Helper()
	rec, err := s.CreateMemberRecord(&model.MemberRecord{
		HouseholdID: h.ID,
		Name:        suffix,
	})
	if err != nil {
		t.Fatalf("create member record: %v", err)
	}
	inv, err := s.CreateInvitation(&model.Invitation{
		HouseholdID:    h.ID,
		MemberRecordID: rec.ID,
		Code:           h.Code + "-" + suffix,
		CreatedBy:      h.OwnerUserID,
		ExpiresAt:      time.Now().UTC().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	return inv
}

func ownerNotif(h *model.Household) *model.Notification {
	return &model.Notification{
		UserID: h.OwnerUserID,
		Type:   model.NotifTypeInvitationRedeemed,
		Title:  "Invitation redeemed",
	}
}

func TestInvitationCreate(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")

	if inv.Status != model.InvitationPending {
		t.Errorf("status = %q, want %q", inv.Status, model.InvitationPending)
	}
	if inv.Code != "ABC123-SAM" {
		t.Errorf("code = %q, want %q", inv.Code, "ABC123-SAM")
	}

	got, err := s.GetInvitationByCode("ABC123-SAM")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got == nil || got.ID != inv.ID {
		t.Fatal("expected the created invitation")
	}
}

func TestInvitationCreateConvergesOnPending(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")

	// A second insert for the same member slot returns the existing pending
	// invitation instead of minting a second code.
	again, err := s.CreateInvitation(&model.Invitation{
		HouseholdID:    h.ID,
		MemberRecordID: inv.MemberRecordID,
		Code:           h.Code + "-SAM2",
		CreatedBy:      1,
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.ID != inv.ID {
		t.Errorf("invitation = %d, want existing %d", again.ID, inv.ID)
	}
	if again.Code != inv.Code {
		t.Errorf("code = %q, want %q", again.Code, inv.Code)
	}
}

func TestInvitationCreateDuplicateCode(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	seedPendingInvitation(t, s, h, "SAM")

	// Same code, different member slot: the caller has to pick a new suffix.
	rec, _ := s.CreateMemberRecord(&model.MemberRecord{HouseholdID: h.ID, Name: "Samantha"})
	_, err := s.CreateInvitation(&model.Invitation{
		HouseholdID:    h.ID,
		MemberRecordID: rec.ID,
		Code:           h.Code + "-SAM",
		CreatedBy:      1,
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	})
	if !errors.Is(err, membership.ErrDuplicateCode) {
		t.Errorf("duplicate code: %v, want ErrDuplicateCode", err)
	}
}

func TestInvitationSupersede(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	old := seedPendingInvitation(t, s, h, "SAM")

	replacement, err := s.SupersedeInvitation(old.ID, &model.Invitation{
		HouseholdID:    h.ID,
		MemberRecordID: old.MemberRecordID,
		Code:           h.Code + "-SAM2",
		CreatedBy:      1,
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	}, now)
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if replacement.Code != h.Code+"-SAM2" {
		t.Errorf("code = %q, want %q", replacement.Code, h.Code+"-SAM2")
	}

	revoked, _ := s.GetInvitation(old.ID)
	if revoked.Status != model.InvitationRevoked {
		t.Errorf("old status = %q, want %q", revoked.Status, model.InvitationRevoked)
	}
	if revoked.RevokedAt == nil {
		t.Error("expected revoked_at set")
	}
}

func TestInvitationRevoke(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")

	ok, err := s.RevokeInvitation(inv.ID, now)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !ok {
		t.Fatal("expected the revoke to win")
	}

	// Already terminal: the flip reports false instead of overwriting.
	ok, err = s.RevokeInvitation(inv.ID, now)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if ok {
		t.Error("expected false for an already revoked invitation")
	}
}

func TestInvitationRedeem(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")

	m, n, err := s.RedeemInvitation(inv.ID, 2, now, ownerNotif(h))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if m.HouseholdID != h.ID || m.UserID != 2 {
		t.Fatalf("membership = %+v, want user 2 in household %d", m, h.ID)
	}
	if m.Role != model.RoleMember {
		t.Errorf("role = %q, want %q", m.Role, model.RoleMember)
	}
	if !m.IsActive {
		t.Error("expected the first household to become active")
	}
	if n == nil || n.UserID != h.OwnerUserID {
		t.Fatal("expected the owner notification stored")
	}

	// Roster record linked to the redeeming user.
	rec, _ := s.GetMemberRecord(inv.MemberRecordID)
	if rec.LinkedUserID == nil || *rec.LinkedUserID != 2 {
		t.Error("expected the roster record linked")
	}

	got, _ := s.GetInvitation(inv.ID)
	if got.Status != model.InvitationAccepted {
		t.Errorf("status = %q, want %q", got.Status, model.InvitationAccepted)
	}
	if got.RedeemedBy == nil || *got.RedeemedBy != 2 {
		t.Error("expected redeemed_by recorded")
	}
}

func TestInvitationRedeemLosesRace(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")

	if _, _, err := s.RedeemInvitation(inv.ID, 2, now, ownerNotif(h)); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, _, err := s.RedeemInvitation(inv.ID, 3, now, ownerNotif(h))
	var state *membership.InvitationStateError
	if !errors.As(err, &state) {
		t.Fatalf("second redeem: %v, want InvitationStateError", err)
	}
	if state.Status != model.InvitationAccepted {
		t.Errorf("state = %q, want %q", state.Status, model.InvitationAccepted)
	}
	if !errors.Is(err, membership.ErrAlreadyRedeemed) {
		t.Error("expected the error to match ErrAlreadyRedeemed")
	}

	// The loser gained no membership and the owner only heard once.
	if m, _ := s.GetMembership(h.ID, 3); m != nil {
		t.Error("expected no membership for the losing redeemer")
	}
	notifs, _ := s.ListNotifications(h.OwnerUserID, 0)
	if len(notifs) != 1 {
		t.Errorf("owner notifications = %d, want 1", len(notifs))
	}
}

func TestInvitationRedeemExpiredPersistsFlip(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	rec, _ := s.CreateMemberRecord(&model.MemberRecord{HouseholdID: h.ID, Name: "Sam"})
	inv, err := s.CreateInvitation(&model.Invitation{
		HouseholdID:    h.ID,
		MemberRecordID: rec.ID,
		Code:           h.Code + "-SAM",
		CreatedBy:      1,
		ExpiresAt:      now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, _, err = s.RedeemInvitation(inv.ID, 2, now, ownerNotif(h))
	if !errors.Is(err, membership.ErrExpired) {
		t.Fatalf("redeem overdue: %v, want ErrExpired", err)
	}

	got, _ := s.GetInvitation(inv.ID)
	if got.Status != model.InvitationExpired {
		t.Errorf("status = %q, want %q", got.Status, model.InvitationExpired)
	}

	// No notification was written for the failed redemption.
	notifs, _ := s.ListNotifications(h.OwnerUserID, 0)
	if len(notifs) != 0 {
		t.Errorf("owner notifications = %d, want 0", len(notifs))
	}
}

func TestInvitationRedeemReactivatesLeftMembership(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")
	m, _, err := s.RedeemInvitation(inv.ID, 2, now, ownerNotif(h))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if _, _, err := s.LeaveHousehold(2, h.ID, now, nil); err != nil {
		t.Fatalf("leave: %v", err)
	}

	inv2 := seedPendingInvitation(t, s, h, "SAM2")
	m2, _, err := s.RedeemInvitation(inv2.ID, 2, now, ownerNotif(h))
	if err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if m2.ID != m.ID {
		t.Errorf("membership row = %d, want the original %d", m2.ID, m.ID)
	}
	if m2.LeftAt != nil {
		t.Error("expected left_at cleared")
	}
}

func TestExpireOverdueInvitations(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	fresh := seedPendingInvitation(t, s, h, "SAM")
	rec, _ := s.CreateMemberRecord(&model.MemberRecord{HouseholdID: h.ID, Name: "Rosie"})
	stale, _ := s.CreateInvitation(&model.Invitation{
		HouseholdID:    h.ID,
		MemberRecordID: rec.ID,
		Code:           h.Code + "-ROS",
		CreatedBy:      1,
		ExpiresAt:      now.Add(-time.Minute),
	})

	count, err := s.ExpireOverdueInvitations(now)
	if err != nil {
		t.Fatalf("expire overdue: %v", err)
	}
	if count != 1 {
		t.Errorf("expired = %d, want 1", count)
	}

	gotStale, _ := s.GetInvitation(stale.ID)
	if gotStale.Status != model.InvitationExpired {
		t.Errorf("stale status = %q, want %q", gotStale.Status, model.InvitationExpired)
	}
	gotFresh, _ := s.GetInvitation(fresh.ID)
	if gotFresh.Status != model.InvitationPending {
		t.Errorf("fresh status = %q, want %q", gotFresh.Status, model.InvitationPending)
	}
}

func TestDeleteMemberRecordCascadesInvitations(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()

	h, _ := s.CreateHousehold("ABC123", "Bag End", 1, now)
	inv := seedPendingInvitation(t, s, h, "SAM")

	if err := s.DeleteMemberRecord(inv.MemberRecordID); err != nil {
		t.Fatalf("delete member record: %v", err)
	}

	got, err := s.GetInvitationByCode(inv.Code)
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got != nil {
		t.Error("expected the invitation gone with its roster record")
	}
}
