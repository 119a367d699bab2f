package membership_test

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tuckborough/burrow/internal/bus"
	"github.com/tuckborough/burrow/internal/database"
	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/memstore"
	"github.com/tuckborough/burrow/internal/model"
	"github.com/tuckborough/burrow/internal/store"
)

type env struct {
	c *membership.Coordinator
	s membership.Store
	b *bus.Bus
}

func newEnv(t *testing.T, s membership.Store) env {
	t.Helper()
	b := bus.New(slog.Default())
	n := membership.NewNotifier(b, nil, slog.Default())
	c := membership.NewCoordinator(s, n, slog.Default(), membership.Config{})
	return env{c: c, s: s, b: b}
}

// runStores runs the same test against the SQLite store and the in-memory
// store; both back the coordinator in production and must behave alike.
func runStores(t *testing.T, fn func(t *testing.T, e env)) {
	t.Run("sqlite", func(t *testing.T) {
		db, err := database.Open(":memory:")
		if err != nil {
			t.Fatalf("open test db: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		fn(t, newEnv(t, store.New(db)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, newEnv(t, memstore.New()))
	})
}

// activeCount returns how many of the user's memberships are active.
func activeCount(t *testing.T, e env, userID int64) int {
	t.Helper()
	hs, err := e.c.ListHouseholds(userID)
	if err != nil {
		t.Fatalf("list households: %v", err)
	}
	n := 0
	for _, h := range hs {
		if h.IsActive {
			n++
		}
	}
	return n
}

func TestCreateHousehold(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, err := e.c.CreateHousehold(1, "Bag End")
		if err != nil {
			t.Fatalf("create household: %v", err)
		}
		if h.Name != "Bag End" {
			t.Errorf("name = %q, want %q", h.Name, "Bag End")
		}
		if len(h.Code) != 6 || strings.Contains(h.Code, "-") {
			t.Errorf("code = %q, want 6 characters without separator", h.Code)
		}
		if h.OwnerUserID != 1 {
			t.Errorf("owner = %d, want 1", h.OwnerUserID)
		}

		current, err := e.c.CurrentHousehold(1)
		if err != nil {
			t.Fatalf("current household: %v", err)
		}
		if current == nil || current.Household.ID != h.ID {
			t.Fatal("expected the new household to be active")
		}
		if current.Role != model.RoleOwner {
			t.Errorf("role = %q, want %q", current.Role, model.RoleOwner)
		}
	})
}

func TestCreateHouseholdRepointsActive(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		first, err := e.c.CreateHousehold(1, "First")
		if err != nil {
			t.Fatalf("create first: %v", err)
		}
		second, err := e.c.CreateHousehold(1, "Second")
		if err != nil {
			t.Fatalf("create second: %v", err)
		}

		current, err := e.c.CurrentHousehold(1)
		if err != nil {
			t.Fatalf("current household: %v", err)
		}
		if current.Household.ID != second.ID {
			t.Errorf("active household = %d, want %d", current.Household.ID, second.ID)
		}
		if got := activeCount(t, e, 1); got != 1 {
			t.Errorf("active memberships = %d, want 1", got)
		}

		hs, err := e.c.ListHouseholds(1)
		if err != nil {
			t.Fatalf("list households: %v", err)
		}
		if len(hs) != 2 {
			t.Fatalf("expected 2 households, got %d", len(hs))
		}
		if hs[0].Household.ID != first.ID {
			t.Errorf("expected join order, got %d first", hs[0].Household.ID)
		}
	})
}

func TestInviteAndRedeem(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, invitee = 1, 2

		h, err := e.c.CreateHousehold(owner, "Bag End")
		if err != nil {
			t.Fatalf("create household: %v", err)
		}
		rec, err := e.c.AddMemberRecord(owner, h.ID, "Sam", "gardener", "555-0100")
		if err != nil {
			t.Fatalf("add member record: %v", err)
		}

		inv, err := e.c.CreateInvitation(owner, h.ID, rec.ID, "555-0100", "", false)
		if err != nil {
			t.Fatalf("create invitation: %v", err)
		}
		if inv.Code != h.Code+"-SAM" {
			t.Errorf("code = %q, want %q", inv.Code, h.Code+"-SAM")
		}
		if inv.Status != model.InvitationPending {
			t.Errorf("status = %q, want %q", inv.Status, model.InvitationPending)
		}

		m, err := e.c.RedeemInvitation(invitee, inv.Code)
		if err != nil {
			t.Fatalf("redeem: %v", err)
		}
		if m.Role != model.RoleMember {
			t.Errorf("role = %q, want %q", m.Role, model.RoleMember)
		}
		if !m.IsActive {
			t.Error("expected membership to be active for a user with none")
		}

		got, err := e.s.GetInvitation(inv.ID)
		if err != nil {
			t.Fatalf("get invitation: %v", err)
		}
		if got.Status != model.InvitationAccepted {
			t.Errorf("status = %q, want %q", got.Status, model.InvitationAccepted)
		}
		if got.RedeemedBy == nil || *got.RedeemedBy != invitee {
			t.Error("expected redeemed_by to record the invitee")
		}

		records, err := e.c.ListMemberRecords(owner, h.ID)
		if err != nil {
			t.Fatalf("list member records: %v", err)
		}
		if len(records) != 1 || records[0].LinkedUserID == nil || *records[0].LinkedUserID != invitee {
			t.Error("expected roster record linked to the redeeming user")
		}

		notifs, err := e.c.Notifications(owner, 0)
		if err != nil {
			t.Fatalf("notifications: %v", err)
		}
		if len(notifs) != 1 || notifs[0].Type != model.NotifTypeInvitationRedeemed {
			t.Fatalf("expected one invitation_redeemed notification, got %+v", notifs)
		}
	})
}

func TestCreateInvitationIdempotent(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")

		first, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)
		if err != nil {
			t.Fatalf("first create: %v", err)
		}
		second, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)
		if err != nil {
			t.Fatalf("second create: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same invitation, got %d then %d", first.ID, second.ID)
		}
	})
}

func TestCreateInvitationForceNew(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")

		first, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)
		if err != nil {
			t.Fatalf("first create: %v", err)
		}
		replacement, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", true)
		if err != nil {
			t.Fatalf("force new: %v", err)
		}
		if replacement.ID == first.ID {
			t.Fatal("expected a new invitation")
		}
		if replacement.Code == first.Code {
			t.Errorf("expected a fresh code, both are %q", first.Code)
		}

		old, _ := e.s.GetInvitation(first.ID)
		if old.Status != model.InvitationRevoked {
			t.Errorf("superseded status = %q, want %q", old.Status, model.InvitationRevoked)
		}

		// Only one pending code per member slot survives.
		if _, err := e.c.RedeemInvitation(2, first.Code); !errors.Is(err, membership.ErrAlreadyRedeemed) {
			t.Errorf("redeem superseded code: %v, want ErrAlreadyRedeemed", err)
		}
		if _, err := e.c.RedeemInvitation(2, replacement.Code); err != nil {
			t.Errorf("redeem replacement code: %v", err)
		}
	})
}

func TestCreateInvitationSuffixCollision(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		sam, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")
		samantha, _ := e.c.AddMemberRecord(1, h.ID, "Samantha", "", "")

		first, err := e.c.CreateInvitation(1, h.ID, sam.ID, "", "", false)
		if err != nil {
			t.Fatalf("invite sam: %v", err)
		}
		second, err := e.c.CreateInvitation(1, h.ID, samantha.ID, "", "", false)
		if err != nil {
			t.Fatalf("invite samantha: %v", err)
		}
		if first.Code != h.Code+"-SAM" {
			t.Errorf("first code = %q, want %q", first.Code, h.Code+"-SAM")
		}
		if second.Code != h.Code+"-SAM2" {
			t.Errorf("second code = %q, want %q", second.Code, h.Code+"-SAM2")
		}
	})
}

func TestCreateInvitationSuggestedCode(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")

		inv, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "zz", false)
		if err != nil {
			t.Fatalf("create with suggestion: %v", err)
		}
		if inv.Code != h.Code+"-ZZX" {
			t.Errorf("code = %q, want %q", inv.Code, h.Code+"-ZZX")
		}

		if _, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "no!", true); !errors.Is(err, membership.ErrInvalidCode) {
			t.Errorf("malformed suggestion: %v, want ErrInvalidCode", err)
		}
		if _, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "TOOLONG", true); !errors.Is(err, membership.ErrInvalidCode) {
			t.Errorf("oversized suggestion: %v, want ErrInvalidCode", err)
		}
	})
}

func TestCreateInvitationValidation(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")

		if _, err := e.c.CreateInvitation(1, h.ID, rec.ID, "not a phone", "", false); !errors.Is(err, membership.ErrInvalidPhone) {
			t.Errorf("bad phone: %v, want ErrInvalidPhone", err)
		}
		if _, err := e.c.CreateInvitation(2, h.ID, rec.ID, "", "", false); !errors.Is(err, membership.ErrNotHouseholdOwner) {
			t.Errorf("non-owner: %v, want ErrNotHouseholdOwner", err)
		}
		if _, err := e.c.CreateInvitation(1, h.ID, 999, "", "", false); !errors.Is(err, membership.ErrNotFound) {
			t.Errorf("unknown record: %v, want ErrNotFound", err)
		}
	})
}

func TestRevokeInvitation(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")
		inv, _ := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)

		if _, err := e.c.RevokeInvitation(2, inv.ID); !errors.Is(err, membership.ErrNotHouseholdOwner) {
			t.Errorf("non-owner revoke: %v, want ErrNotHouseholdOwner", err)
		}

		revoked, err := e.c.RevokeInvitation(1, inv.ID)
		if err != nil {
			t.Fatalf("revoke: %v", err)
		}
		if revoked.Status != model.InvitationRevoked {
			t.Errorf("status = %q, want %q", revoked.Status, model.InvitationRevoked)
		}
		if revoked.RevokedAt == nil {
			t.Error("expected revoked_at to be set")
		}

		if _, err := e.c.RevokeInvitation(1, inv.ID); !errors.Is(err, membership.ErrInvalidState) {
			t.Errorf("second revoke: %v, want ErrInvalidState", err)
		}
		if _, err := e.c.RevokeInvitation(1, 999); !errors.Is(err, membership.ErrNotFound) {
			t.Errorf("unknown invitation: %v, want ErrNotFound", err)
		}
	})
}

func TestRedeemRevokedCodeDistinguishable(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")
		inv, _ := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)
		if _, err := e.c.RevokeInvitation(1, inv.ID); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		_, err := e.c.RedeemInvitation(2, inv.Code)
		if !errors.Is(err, membership.ErrAlreadyRedeemed) {
			t.Fatalf("redeem revoked: %v, want ErrAlreadyRedeemed", err)
		}
		if errors.Is(err, membership.ErrExpired) {
			t.Error("a revoked code must not read as expired")
		}
		var state *membership.InvitationStateError
		if !errors.As(err, &state) {
			t.Fatalf("expected InvitationStateError, got %T", err)
		}
		if state.Status != model.InvitationRevoked {
			t.Errorf("state = %q, want %q", state.Status, model.InvitationRevoked)
		}
	})
}

func TestRedeemExpired(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")

		inv, err := e.s.CreateInvitation(&model.Invitation{
			HouseholdID:    h.ID,
			MemberRecordID: rec.ID,
			Code:           h.Code + "-OLD",
			CreatedBy:      1,
			ExpiresAt:      time.Now().UTC().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("seed invitation: %v", err)
		}

		_, err = e.c.RedeemInvitation(2, inv.Code)
		if !errors.Is(err, membership.ErrExpired) {
			t.Fatalf("redeem overdue: %v, want ErrExpired", err)
		}
		var state *membership.InvitationStateError
		if !errors.As(err, &state) || state.Status != model.InvitationExpired {
			t.Fatalf("expected expired state error, got %v", err)
		}

		// The lapse is persisted, not just reported.
		got, _ := e.s.GetInvitation(inv.ID)
		if got.Status != model.InvitationExpired {
			t.Errorf("stored status = %q, want %q", got.Status, model.InvitationExpired)
		}

		// No membership was granted.
		m, _ := e.s.GetMembership(h.ID, 2)
		if m != nil {
			t.Error("expected no membership from an expired code")
		}
	})
}

func TestRedeemCodeValidation(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		if _, err := e.c.RedeemInvitation(2, "ABC123"); !errors.Is(err, membership.ErrInvalidCode) {
			t.Errorf("household-shaped code: %v, want ErrInvalidCode", err)
		}
		if _, err := e.c.RedeemInvitation(2, "ABC123-ZZZ"); !errors.Is(err, membership.ErrNotFound) {
			t.Errorf("unknown code: %v, want ErrNotFound", err)
		}
	})
}

func TestRedeemKeepsExistingActive(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, user = 1, 2

		mine, err := e.c.CreateHousehold(user, "Mine")
		if err != nil {
			t.Fatalf("create own household: %v", err)
		}
		theirs, _ := e.c.CreateHousehold(owner, "Theirs")
		rec, _ := e.c.AddMemberRecord(owner, theirs.ID, "Sam", "", "")
		inv, _ := e.c.CreateInvitation(owner, theirs.ID, rec.ID, "", "", false)

		m, err := e.c.RedeemInvitation(user, inv.Code)
		if err != nil {
			t.Fatalf("redeem: %v", err)
		}
		if m.IsActive {
			t.Error("redeeming must not steal the active pointer")
		}

		current, _ := e.c.CurrentHousehold(user)
		if current == nil || current.Household.ID != mine.ID {
			t.Error("expected the existing active household to remain")
		}
		if got := activeCount(t, e, user); got != 1 {
			t.Errorf("active memberships = %d, want 1", got)
		}
	})
}

func TestConcurrentRedemption(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")
		inv, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)
		if err != nil {
			t.Fatalf("create invitation: %v", err)
		}

		const n = 8
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.c.RedeemInvitation(int64(100+i), inv.Code)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, membership.ErrAlreadyRedeemed):
			default:
				t.Errorf("unexpected redemption error: %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("redemptions succeeded = %d, want exactly 1", wins)
		}

		got, _ := e.s.GetInvitation(inv.ID)
		if got.Status != model.InvitationAccepted {
			t.Errorf("status = %q, want %q", got.Status, model.InvitationAccepted)
		}
	})
}

func TestJoinRequestApprovalFlow(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, stranger = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")

		sub := e.b.Subscribe(owner)
		defer sub.Close()

		jr, err := e.c.SubmitJoinRequest(stranger, h.Code, "let me in")
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if jr.Status != model.JoinRequestPending {
			t.Errorf("status = %q, want %q", jr.Status, model.JoinRequestPending)
		}

		// The owner is woken up at submission time.
		select {
		case ev := <-sub.C:
			if ev.Type != model.NotifTypeJoinRequest {
				t.Errorf("event type = %q, want %q", ev.Type, model.NotifTypeJoinRequest)
			}
			if ev.ID == "" {
				t.Error("expected event id")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for owner wake-up")
		}

		pending, err := e.c.ListPendingJoinRequests(owner, h.ID)
		if err != nil {
			t.Fatalf("list pending: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != jr.ID {
			t.Fatalf("expected the pending request, got %+v", pending)
		}

		resolved, err := e.c.ResolveJoinRequest(owner, jr.ID, true)
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if resolved.Status != model.JoinRequestApproved {
			t.Errorf("status = %q, want %q", resolved.Status, model.JoinRequestApproved)
		}
		if resolved.ResolvedAt == nil || resolved.ResolvedBy == nil || *resolved.ResolvedBy != owner {
			t.Error("expected resolution bookkeeping")
		}

		current, err := e.c.CurrentHousehold(stranger)
		if err != nil {
			t.Fatalf("current household: %v", err)
		}
		if current == nil || current.Household.ID != h.ID {
			t.Fatal("expected the joined household to become active")
		}
		if current.Role != model.RoleMember {
			t.Errorf("role = %q, want %q", current.Role, model.RoleMember)
		}

		// Requester hears about the outcome; the owner only ever got the
		// submission notice.
		strangerNotifs, _ := e.c.Notifications(stranger, 0)
		if len(strangerNotifs) != 1 || strangerNotifs[0].Type != model.NotifTypeJoinRequestApproved {
			t.Fatalf("expected approval notification, got %+v", strangerNotifs)
		}
		ownerNotifs, _ := e.c.Notifications(owner, 0)
		if len(ownerNotifs) != 1 || ownerNotifs[0].Type != model.NotifTypeJoinRequest {
			t.Fatalf("expected only the join_request notification, got %+v", ownerNotifs)
		}
	})
}

func TestJoinRequestRejection(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, stranger = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		jr, _ := e.c.SubmitJoinRequest(stranger, h.Code, "")

		resolved, err := e.c.ResolveJoinRequest(owner, jr.ID, false)
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if resolved.Status != model.JoinRequestRejected {
			t.Errorf("status = %q, want %q", resolved.Status, model.JoinRequestRejected)
		}

		if m, _ := e.s.GetMembership(h.ID, stranger); m != nil {
			t.Error("rejection must not create a membership")
		}
		notifs, _ := e.c.Notifications(stranger, 0)
		if len(notifs) != 1 || notifs[0].Type != model.NotifTypeJoinRequestRejected {
			t.Fatalf("expected rejection notification, got %+v", notifs)
		}
	})
}

func TestJoinRequestLeaveBeforeJoin(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const ownerA, ownerB, user = 1, 2, 3

		a, _ := e.c.CreateHousehold(ownerA, "A")
		b, _ := e.c.CreateHousehold(ownerB, "B")

		jr, _ := e.c.SubmitJoinRequest(user, a.Code, "")
		if _, err := e.c.ResolveJoinRequest(ownerA, jr.ID, true); err != nil {
			t.Fatalf("approve: %v", err)
		}

		if _, err := e.c.SubmitJoinRequest(user, b.Code, ""); !errors.Is(err, membership.ErrAlreadyInHousehold) {
			t.Fatalf("submit while active: %v, want ErrAlreadyInHousehold", err)
		}

		if _, err := e.c.LeaveHousehold(user, a.ID); err != nil {
			t.Fatalf("leave: %v", err)
		}
		if _, err := e.c.SubmitJoinRequest(user, b.Code, ""); err != nil {
			t.Fatalf("submit after leave: %v", err)
		}
	})
}

func TestJoinRequestCodeValidation(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")

		if _, err := e.c.SubmitJoinRequest(2, h.Code+"-SAM", ""); !errors.Is(err, membership.ErrInvalidCode) {
			t.Errorf("invitation-shaped code: %v, want ErrInvalidCode", err)
		}
		if _, err := e.c.SubmitJoinRequest(2, "ZZZZZZ", ""); !errors.Is(err, membership.ErrInvalidCode) {
			t.Errorf("unknown code: %v, want ErrInvalidCode", err)
		}
	})
}

func TestJoinRequestIdempotent(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, stranger = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		first, err := e.c.SubmitJoinRequest(stranger, h.Code, "")
		if err != nil {
			t.Fatalf("first submit: %v", err)
		}
		second, err := e.c.SubmitJoinRequest(stranger, h.Code, "")
		if err != nil {
			t.Fatalf("second submit: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same request, got %d then %d", first.ID, second.ID)
		}

		notifs, _ := e.c.Notifications(owner, 0)
		if len(notifs) != 1 {
			t.Errorf("owner notifications = %d, want 1", len(notifs))
		}
	})
}

func TestJoinRequestTerminality(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, stranger = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		jr, _ := e.c.SubmitJoinRequest(stranger, h.Code, "")

		if _, err := e.c.ResolveJoinRequest(owner, jr.ID, true); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if _, err := e.c.ResolveJoinRequest(owner, jr.ID, true); !errors.Is(err, membership.ErrAlreadyResolved) {
			t.Errorf("second approve: %v, want ErrAlreadyResolved", err)
		}
		if _, err := e.c.ResolveJoinRequest(owner, jr.ID, false); !errors.Is(err, membership.ErrAlreadyResolved) {
			t.Errorf("reject after approve: %v, want ErrAlreadyResolved", err)
		}
	})
}

func TestResolveJoinRequestAuthorization(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, stranger, other = 1, 2, 3

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		jr, _ := e.c.SubmitJoinRequest(stranger, h.Code, "")

		if _, err := e.c.ResolveJoinRequest(other, jr.ID, true); !errors.Is(err, membership.ErrNotHouseholdOwner) {
			t.Errorf("non-owner resolve: %v, want ErrNotHouseholdOwner", err)
		}
		if _, err := e.c.ResolveJoinRequest(owner, 999, true); !errors.Is(err, membership.ErrNotFound) {
			t.Errorf("unknown request: %v, want ErrNotFound", err)
		}
	})
}

func TestConcurrentApprovalsSingleActive(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const ownerA, ownerB, user = 1, 2, 3

		a, _ := e.c.CreateHousehold(ownerA, "A")
		b, _ := e.c.CreateHousehold(ownerB, "B")
		jrA, _ := e.c.SubmitJoinRequest(user, a.Code, "")
		jrB, _ := e.c.SubmitJoinRequest(user, b.Code, "")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.c.ResolveJoinRequest(ownerA, jrA.ID, true); err != nil {
				t.Errorf("approve a: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.c.ResolveJoinRequest(ownerB, jrB.ID, true); err != nil {
				t.Errorf("approve b: %v", err)
			}
		}()
		wg.Wait()

		hs, err := e.c.ListHouseholds(user)
		if err != nil {
			t.Fatalf("list households: %v", err)
		}
		if len(hs) != 2 {
			t.Fatalf("memberships = %d, want 2", len(hs))
		}
		if got := activeCount(t, e, user); got != 1 {
			t.Errorf("active memberships = %d, want exactly 1", got)
		}
	})
}

func TestLeaveHousehold(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, member = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		jr, _ := e.c.SubmitJoinRequest(member, h.Code, "")
		if _, err := e.c.ResolveJoinRequest(owner, jr.ID, true); err != nil {
			t.Fatalf("approve: %v", err)
		}

		active, err := e.c.LeaveHousehold(member, h.ID)
		if err != nil {
			t.Fatalf("leave: %v", err)
		}
		if active != nil {
			t.Errorf("expected no active membership, got %+v", active)
		}

		hs, _ := e.c.ListHouseholds(member)
		if len(hs) != 0 {
			t.Errorf("households after leave = %d, want 0", len(hs))
		}

		if _, err := e.c.LeaveHousehold(member, h.ID); !errors.Is(err, membership.ErrNotAMember) {
			t.Errorf("second leave: %v, want ErrNotAMember", err)
		}

		// The owner hears that a member left.
		notifs, _ := e.c.Notifications(owner, 0)
		found := false
		for _, n := range notifs {
			if n.Type == model.NotifTypeMemberLeft {
				found = true
			}
		}
		if !found {
			t.Error("expected a member_left notification for the owner")
		}
	})
}

func TestLeaveRepointsToMostRecentlyJoined(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, user = 1, 2

		// The user redeems into two households while keeping their own
		// active, then leaves their own: the most recently joined of the
		// remaining memberships takes over.
		mine, _ := e.c.CreateHousehold(user, "Mine")

		first, _ := e.c.CreateHousehold(owner, "First")
		rec1, _ := e.c.AddMemberRecord(owner, first.ID, "Sam", "", "")
		inv1, _ := e.c.CreateInvitation(owner, first.ID, rec1.ID, "", "", false)
		if _, err := e.c.RedeemInvitation(user, inv1.Code); err != nil {
			t.Fatalf("redeem first: %v", err)
		}

		second, _ := e.c.CreateHousehold(owner, "Second")
		rec2, _ := e.c.AddMemberRecord(owner, second.ID, "Sam", "", "")
		inv2, _ := e.c.CreateInvitation(owner, second.ID, rec2.ID, "", "", false)
		if _, err := e.c.RedeemInvitation(user, inv2.Code); err != nil {
			t.Fatalf("redeem second: %v", err)
		}

		active, err := e.c.LeaveHousehold(user, mine.ID)
		if err != nil {
			t.Fatalf("leave: %v", err)
		}
		if active == nil || active.HouseholdID != second.ID {
			t.Fatalf("expected fallback to the most recently joined household, got %+v", active)
		}
		if got := activeCount(t, e, user); got != 1 {
			t.Errorf("active memberships = %d, want 1", got)
		}
	})
}

func TestOwnerLeaveKeepsOwnership(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")

		active, err := e.c.LeaveHousehold(1, h.ID)
		if err != nil {
			t.Fatalf("owner leave: %v", err)
		}
		if active != nil {
			t.Errorf("expected no active membership, got %+v", active)
		}

		// Still owner of record, and the membership is still held.
		m, _ := e.s.GetMembership(h.ID, 1)
		if m == nil || !m.Held() {
			t.Fatal("owner membership must survive leaving")
		}
		if m.Role != model.RoleOwner {
			t.Errorf("role = %q, want %q", m.Role, model.RoleOwner)
		}
		if m.IsActive {
			t.Error("expected the membership to be inactive")
		}

		// The owner can make it active again.
		if _, err := e.c.SwitchActiveHousehold(1, h.ID); err != nil {
			t.Fatalf("switch back: %v", err)
		}
		current, _ := e.c.CurrentHousehold(1)
		if current == nil || current.Household.ID != h.ID {
			t.Error("expected the household to be active again")
		}
	})
}

func TestSwitchActiveHousehold(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, user = 1, 2

		a, _ := e.c.CreateHousehold(user, "A")
		b, _ := e.c.CreateHousehold(owner, "B")
		rec, _ := e.c.AddMemberRecord(owner, b.ID, "Sam", "", "")
		inv, _ := e.c.CreateInvitation(owner, b.ID, rec.ID, "", "", false)
		if _, err := e.c.RedeemInvitation(user, inv.Code); err != nil {
			t.Fatalf("redeem: %v", err)
		}

		m, err := e.c.SwitchActiveHousehold(user, b.ID)
		if err != nil {
			t.Fatalf("switch: %v", err)
		}
		if !m.IsActive || m.HouseholdID != b.ID {
			t.Errorf("expected active membership in b, got %+v", m)
		}
		if got := activeCount(t, e, user); got != 1 {
			t.Errorf("active memberships = %d, want 1", got)
		}

		if _, err := e.c.SwitchActiveHousehold(user, 999); !errors.Is(err, membership.ErrNotAMember) {
			t.Errorf("switch to unknown: %v, want ErrNotAMember", err)
		}
		_ = a
	})
}

func TestRejoinReusesMembershipRow(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, user = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		jr, _ := e.c.SubmitJoinRequest(user, h.Code, "")
		e.c.ResolveJoinRequest(owner, jr.ID, true)

		before, _ := e.s.GetMembership(h.ID, user)
		if before == nil {
			t.Fatal("expected membership")
		}

		e.c.LeaveHousehold(user, h.ID)
		left, _ := e.s.GetMembership(h.ID, user)
		if left == nil || left.LeftAt == nil {
			t.Fatal("expected the row to be kept with left_at set")
		}

		jr2, _ := e.c.SubmitJoinRequest(user, h.Code, "")
		if _, err := e.c.ResolveJoinRequest(owner, jr2.ID, true); err != nil {
			t.Fatalf("re-approve: %v", err)
		}

		after, _ := e.s.GetMembership(h.ID, user)
		if after.ID != before.ID {
			t.Errorf("membership row = %d, want the original %d", after.ID, before.ID)
		}
		if after.LeftAt != nil {
			t.Error("expected left_at cleared on rejoin")
		}
		if !after.IsActive {
			t.Error("expected rejoined membership to be active")
		}
	})
}

func TestMarkNotificationRead(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, stranger = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")
		e.c.SubmitJoinRequest(stranger, h.Code, "")

		notifs, _ := e.c.Notifications(owner, 0)
		if len(notifs) != 1 {
			t.Fatalf("expected 1 notification, got %d", len(notifs))
		}
		id := notifs[0].ID

		if err := e.c.MarkNotificationRead(stranger, id); !errors.Is(err, membership.ErrNotOwner) {
			t.Errorf("foreign mark read: %v, want ErrNotOwner", err)
		}
		if err := e.c.MarkNotificationRead(owner, id); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		// Repeats are no-ops.
		if err := e.c.MarkNotificationRead(owner, id); err != nil {
			t.Fatalf("second mark read: %v", err)
		}

		notifs, _ = e.c.Notifications(owner, 0)
		if notifs[0].ReadAt == nil {
			t.Error("expected read_at to be set")
		}
		if err := e.c.MarkNotificationRead(owner, 999); !errors.Is(err, membership.ErrNotFound) {
			t.Errorf("unknown notification: %v, want ErrNotFound", err)
		}
	})
}

func TestMemberRecords(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		const owner, other = 1, 2

		h, _ := e.c.CreateHousehold(owner, "Bag End")

		if _, err := e.c.AddMemberRecord(other, h.ID, "Sam", "", ""); !errors.Is(err, membership.ErrNotHouseholdOwner) {
			t.Errorf("non-owner add: %v, want ErrNotHouseholdOwner", err)
		}
		if _, err := e.c.AddMemberRecord(owner, h.ID, "Sam", "", "nope"); !errors.Is(err, membership.ErrInvalidPhone) {
			t.Errorf("bad phone: %v, want ErrInvalidPhone", err)
		}

		rec, err := e.c.AddMemberRecord(owner, h.ID, "Sam", "gardener", "+1 555 0100")
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := e.c.AddMemberRecord(owner, h.ID, "sam", "", ""); !errors.Is(err, membership.ErrDuplicateName) {
			t.Errorf("duplicate name: %v, want ErrDuplicateName", err)
		}

		updated, err := e.c.UpdateMemberRecord(owner, rec.ID, "Samwise", "gardener", "")
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Name != "Samwise" {
			t.Errorf("name = %q, want %q", updated.Name, "Samwise")
		}

		if _, err := e.c.ListMemberRecords(other, h.ID); !errors.Is(err, membership.ErrNotAMember) {
			t.Errorf("foreign list: %v, want ErrNotAMember", err)
		}

		if err := e.c.RemoveMemberRecord(owner, rec.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
		records, _ := e.c.ListMemberRecords(owner, h.ID)
		if len(records) != 0 {
			t.Errorf("records = %d, want 0", len(records))
		}
	})
}

func TestRemoveMemberRecordKillsInvitationCode(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")
		inv, _ := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)

		if err := e.c.RemoveMemberRecord(1, rec.ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if _, err := e.c.RedeemInvitation(2, inv.Code); !errors.Is(err, membership.ErrNotFound) {
			t.Errorf("redeem after record removal: %v, want ErrNotFound", err)
		}
	})
}

func TestListInvitationsReportsExpiry(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")

		if _, err := e.s.CreateInvitation(&model.Invitation{
			HouseholdID:    h.ID,
			MemberRecordID: rec.ID,
			Code:           h.Code + "-OLD",
			CreatedBy:      1,
			ExpiresAt:      time.Now().UTC().Add(-time.Hour),
		}); err != nil {
			t.Fatalf("seed invitation: %v", err)
		}

		invitations, err := e.c.ListInvitations(1, h.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(invitations) != 1 || invitations[0].Status != model.InvitationExpired {
			t.Fatalf("expected expired status in listing, got %+v", invitations)
		}

		// A fresh invitation can be issued for the slot without forceNew:
		// the stale pending one is lapsed, not honored.
		inv, err := e.c.CreateInvitation(1, h.ID, rec.ID, "", "", false)
		if err != nil {
			t.Fatalf("reissue: %v", err)
		}
		if inv.Code == h.Code+"-OLD" {
			t.Error("expected a fresh code, not the lapsed one")
		}
		if inv.Status != model.InvitationPending {
			t.Errorf("status = %q, want %q", inv.Status, model.InvitationPending)
		}
	})
}

func TestSweeper(t *testing.T) {
	runStores(t, func(t *testing.T, e env) {
		h, _ := e.c.CreateHousehold(1, "Bag End")
		rec, _ := e.c.AddMemberRecord(1, h.ID, "Sam", "", "")
		inv, err := e.s.CreateInvitation(&model.Invitation{
			HouseholdID:    h.ID,
			MemberRecordID: rec.ID,
			Code:           h.Code + "-OLD",
			CreatedBy:      1,
			ExpiresAt:      time.Now().UTC().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("seed invitation: %v", err)
		}

		sw := membership.NewSweeper(e.s, slog.Default(), 10*time.Millisecond, time.Hour)
		sw.Start(t.Context())
		defer sw.Stop()

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			got, err := e.s.GetInvitation(inv.ID)
			if err != nil {
				t.Fatalf("get invitation: %v", err)
			}
			if got.Status == model.InvitationExpired {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("sweeper never expired the overdue invitation")
	})
}
