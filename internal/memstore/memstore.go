// Package memstore provides an in-memory membership.Store for embedding and
// tests. It enforces the same uniqueness rules as the SQLite store; compound
// transitions run under a single lock, so they are atomic with respect to
// each other.
package memstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

type Store struct {
	mu sync.Mutex

	seq           int64
	households    map[int64]*model.Household
	codes         map[string]int64
	memberships   map[int64]*model.Membership
	memberRecords map[int64]*model.MemberRecord
	invitations   map[int64]*model.Invitation
	invCodes      map[string]int64
	joinRequests  map[int64]*model.JoinRequest
	notifications map[int64]*model.Notification
}

func New() *Store {
	return &Store{
		households:    make(map[int64]*model.Household),
		codes:         make(map[string]int64),
		memberships:   make(map[int64]*model.Membership),
		memberRecords: make(map[int64]*model.MemberRecord),
		invitations:   make(map[int64]*model.Invitation),
		invCodes:      make(map[string]int64),
		joinRequests:  make(map[int64]*model.JoinRequest),
		notifications: make(map[int64]*model.Notification),
	}
}

var _ membership.Store = (*Store)(nil)

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func cloneHousehold(h *model.Household) *model.Household {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

func cloneMembership(m *model.Membership) *model.Membership {
	if m == nil {
		return nil
	}
	c := *m
	if m.LeftAt != nil {
		t := *m.LeftAt
		c.LeftAt = &t
	}
	return &c
}

func cloneMemberRecord(rec *model.MemberRecord) *model.MemberRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	if rec.LinkedUserID != nil {
		id := *rec.LinkedUserID
		c.LinkedUserID = &id
	}
	return &c
}

func cloneInvitation(inv *model.Invitation) *model.Invitation {
	if inv == nil {
		return nil
	}
	c := *inv
	if inv.RedeemedBy != nil {
		id := *inv.RedeemedBy
		c.RedeemedBy = &id
	}
	if inv.RedeemedAt != nil {
		t := *inv.RedeemedAt
		c.RedeemedAt = &t
	}
	if inv.RevokedAt != nil {
		t := *inv.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

func cloneJoinRequest(jr *model.JoinRequest) *model.JoinRequest {
	if jr == nil {
		return nil
	}
	c := *jr
	if jr.ResolvedBy != nil {
		id := *jr.ResolvedBy
		c.ResolvedBy = &id
	}
	if jr.ResolvedAt != nil {
		t := *jr.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func cloneNotification(n *model.Notification) *model.Notification {
	if n == nil {
		return nil
	}
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// Households

func (s *Store) CreateHousehold(code, name string, ownerUserID int64, now time.Time) (*model.Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[code]; taken {
		return nil, membership.ErrDuplicateCode
	}

	h := &model.Household{
		ID:          s.nextID(),
		Code:        code,
		Name:        name,
		OwnerUserID: ownerUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.households[h.ID] = h
	s.codes[code] = h.ID

	s.clearActiveLocked(ownerUserID)
	m := &model.Membership{
		ID:          s.nextID(),
		HouseholdID: h.ID,
		UserID:      ownerUserID,
		Role:        model.RoleOwner,
		IsActive:    true,
		JoinedAt:    now,
	}
	s.memberships[m.ID] = m

	return cloneHousehold(h), nil
}

func (s *Store) GetHousehold(id int64) (*model.Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHousehold(s.households[id]), nil
}

func (s *Store) GetHouseholdByCode(code string) (*model.Household, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codes[code]
	if !ok {
		return nil, nil
	}
	return cloneHousehold(s.households[id]), nil
}

// Memberships

func (s *Store) clearActiveLocked(userID int64) {
	for _, m := range s.memberships {
		if m.UserID == userID && m.IsActive {
			m.IsActive = false
		}
	}
}

func (s *Store) membershipLocked(householdID, userID int64) *model.Membership {
	for _, m := range s.memberships {
		if m.HouseholdID == householdID && m.UserID == userID {
			return m
		}
	}
	return nil
}

func (s *Store) GetMembership(householdID, userID int64) (*model.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMembership(s.membershipLocked(householdID, userID)), nil
}

func (s *Store) ActiveMembership(userID int64) (*model.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMembership(s.activeLocked(userID)), nil
}

func (s *Store) activeLocked(userID int64) *model.Membership {
	for _, m := range s.memberships {
		if m.UserID == userID && m.IsActive {
			return m
		}
	}
	return nil
}

func (s *Store) ListUserHouseholds(userID int64) ([]model.UserHousehold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var listings []model.UserHousehold
	for _, m := range s.memberships {
		if m.UserID != userID || m.LeftAt != nil {
			continue
		}
		h := s.households[m.HouseholdID]
		if h == nil {
			continue
		}
		listings = append(listings, model.UserHousehold{
			Household: *cloneHousehold(h),
			Role:      m.Role,
			IsActive:  m.IsActive,
			JoinedAt:  m.JoinedAt,
		})
	}
	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].JoinedAt.Equal(listings[j].JoinedAt) {
			return listings[i].JoinedAt.Before(listings[j].JoinedAt)
		}
		return listings[i].Household.ID < listings[j].Household.ID
	})
	return listings, nil
}

func (s *Store) SetActiveMembership(userID, householdID int64) (*model.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.membershipLocked(householdID, userID)
	if m == nil || m.LeftAt != nil {
		return nil, nil
	}
	s.clearActiveLocked(userID)
	m.IsActive = true
	return cloneMembership(m), nil
}

func (s *Store) LeaveHousehold(userID, householdID int64, now time.Time, notif *model.Notification) (*model.Membership, *model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.membershipLocked(householdID, userID)
	if m == nil || m.LeftAt != nil {
		return nil, nil, nil
	}

	wasActive := m.IsActive
	m.IsActive = false
	if m.Role != model.RoleOwner {
		t := now
		m.LeftAt = &t
	}

	if wasActive {
		var next *model.Membership
		for _, cand := range s.memberships {
			if cand.UserID != userID || cand.LeftAt != nil || cand.HouseholdID == householdID {
				continue
			}
			if next == nil || cand.JoinedAt.After(next.JoinedAt) ||
				(cand.JoinedAt.Equal(next.JoinedAt) && cand.ID > next.ID) {
				next = cand
			}
		}
		if next != nil {
			next.IsActive = true
		}
	}

	var stored *model.Notification
	if notif != nil {
		stored = cloneNotification(s.insertNotificationLocked(notif))
	}
	return cloneMembership(s.activeLocked(userID)), stored, nil
}

// grantLocked inserts or reactivates a membership, mirroring the SQLite
// store's grant semantics.
func (s *Store) grantLocked(householdID, userID int64, now time.Time, forceActive bool) *model.Membership {
	active := forceActive
	if forceActive {
		s.clearActiveLocked(userID)
	} else {
		active = s.activeLocked(userID) == nil
	}

	existing := s.membershipLocked(householdID, userID)
	if existing == nil {
		m := &model.Membership{
			ID:          s.nextID(),
			HouseholdID: householdID,
			UserID:      userID,
			Role:        model.RoleMember,
			IsActive:    active,
			JoinedAt:    now,
		}
		s.memberships[m.ID] = m
		return m
	}
	if existing.LeftAt != nil {
		existing.LeftAt = nil
		existing.JoinedAt = now
		existing.IsActive = active
		return existing
	}
	if active && !existing.IsActive {
		existing.IsActive = true
	}
	return existing
}

// Member records

func (s *Store) memberNameTakenLocked(householdID int64, name string, excludeID int64) bool {
	for _, rec := range s.memberRecords {
		if rec.HouseholdID == householdID && rec.ID != excludeID && strings.EqualFold(rec.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) CreateMemberRecord(rec *model.MemberRecord) (*model.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.memberNameTakenLocked(rec.HouseholdID, rec.Name, 0) {
		return nil, membership.ErrDuplicateName
	}
	now := time.Now().UTC()
	stored := &model.MemberRecord{
		ID:          s.nextID(),
		HouseholdID: rec.HouseholdID,
		Name:        rec.Name,
		Relation:    rec.Relation,
		Phone:       rec.Phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.memberRecords[stored.ID] = stored
	return cloneMemberRecord(stored), nil
}

func (s *Store) GetMemberRecord(id int64) (*model.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMemberRecord(s.memberRecords[id]), nil
}

func (s *Store) ListMemberRecords(householdID int64) ([]model.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []model.MemberRecord
	for _, rec := range s.memberRecords {
		if rec.HouseholdID == householdID {
			records = append(records, *cloneMemberRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return strings.ToLower(records[i].Name) < strings.ToLower(records[j].Name)
	})
	return records, nil
}

func (s *Store) UpdateMemberRecord(rec *model.MemberRecord) (*model.MemberRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.memberRecords[rec.ID]
	if existing == nil {
		return nil, nil
	}
	if s.memberNameTakenLocked(existing.HouseholdID, rec.Name, rec.ID) {
		return nil, membership.ErrDuplicateName
	}
	existing.Name = rec.Name
	existing.Relation = rec.Relation
	existing.Phone = rec.Phone
	existing.UpdatedAt = time.Now().UTC()
	return cloneMemberRecord(existing), nil
}

func (s *Store) DeleteMemberRecord(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.memberRecords, id)
	// Invitations bound to the record go with it, as in the SQL schema.
	for invID, inv := range s.invitations {
		if inv.MemberRecordID == id {
			delete(s.invCodes, inv.Code)
			delete(s.invitations, invID)
		}
	}
	return nil
}

// Invitations

func (s *Store) GetInvitation(id int64) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneInvitation(s.invitations[id]), nil
}

func (s *Store) GetInvitationByCode(code string) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.invCodes[code]
	if !ok {
		return nil, nil
	}
	return cloneInvitation(s.invitations[id]), nil
}

func (s *Store) pendingInvitationLocked(householdID, memberRecordID int64) *model.Invitation {
	for _, inv := range s.invitations {
		if inv.HouseholdID == householdID && inv.MemberRecordID == memberRecordID && inv.Status == model.InvitationPending {
			return inv
		}
	}
	return nil
}

func (s *Store) PendingInvitation(householdID, memberRecordID int64) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneInvitation(s.pendingInvitationLocked(householdID, memberRecordID)), nil
}

func (s *Store) ListInvitations(householdID int64) ([]model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invitations []model.Invitation
	for _, inv := range s.invitations {
		if inv.HouseholdID == householdID {
			invitations = append(invitations, *cloneInvitation(inv))
		}
	}
	sort.Slice(invitations, func(i, j int) bool {
		if !invitations[i].CreatedAt.Equal(invitations[j].CreatedAt) {
			return invitations[i].CreatedAt.After(invitations[j].CreatedAt)
		}
		return invitations[i].ID > invitations[j].ID
	})
	return invitations, nil
}

func (s *Store) storeInvitationLocked(inv *model.Invitation) (*model.Invitation, error) {
	if pending := s.pendingInvitationLocked(inv.HouseholdID, inv.MemberRecordID); pending != nil {
		return cloneInvitation(pending), nil
	}
	if _, taken := s.invCodes[inv.Code]; taken {
		return nil, membership.ErrDuplicateCode
	}
	stored := &model.Invitation{
		ID:             s.nextID(),
		HouseholdID:    inv.HouseholdID,
		MemberRecordID: inv.MemberRecordID,
		Code:           inv.Code,
		InviteePhone:   inv.InviteePhone,
		Status:         model.InvitationPending,
		CreatedBy:      inv.CreatedBy,
		ExpiresAt:      inv.ExpiresAt,
		CreatedAt:      time.Now().UTC(),
	}
	s.invitations[stored.ID] = stored
	s.invCodes[stored.Code] = stored.ID
	return cloneInvitation(stored), nil
}

func (s *Store) CreateInvitation(inv *model.Invitation) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeInvitationLocked(inv)
}

func (s *Store) SupersedeInvitation(revokeID int64, inv *model.Invitation, now time.Time) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.invCodes[inv.Code]; taken {
		return nil, membership.ErrDuplicateCode
	}
	if old := s.invitations[revokeID]; old != nil && old.Status == model.InvitationPending {
		old.Status = model.InvitationRevoked
		t := now
		old.RevokedAt = &t
	}
	return s.storeInvitationLocked(inv)
}

func (s *Store) RevokeInvitation(id int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.invitations[id]
	if inv == nil || inv.Status != model.InvitationPending {
		return false, nil
	}
	inv.Status = model.InvitationRevoked
	t := now
	inv.RevokedAt = &t
	return true, nil
}

func (s *Store) ExpireInvitation(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.invitations[id]
	if inv == nil || inv.Status != model.InvitationPending {
		return false, nil
	}
	inv.Status = model.InvitationExpired
	return true, nil
}

func (s *Store) RedeemInvitation(id, userID int64, now time.Time, notif *model.Notification) (*model.Membership, *model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.invitations[id]
	if inv == nil {
		return nil, nil, fmt.Errorf("invitation %d: %w", id, membership.ErrNotFound)
	}
	if inv.Status != model.InvitationPending {
		return nil, nil, &membership.InvitationStateError{Code: inv.Code, Status: inv.Status}
	}
	if !now.Before(inv.ExpiresAt) {
		inv.Status = model.InvitationExpired
		return nil, nil, &membership.InvitationStateError{Code: inv.Code, Status: model.InvitationExpired}
	}

	inv.Status = model.InvitationAccepted
	uid := userID
	inv.RedeemedBy = &uid
	t := now
	inv.RedeemedAt = &t

	m := s.grantLocked(inv.HouseholdID, userID, now, false)

	if rec := s.memberRecords[inv.MemberRecordID]; rec != nil {
		linked := userID
		rec.LinkedUserID = &linked
		rec.UpdatedAt = now
	}

	n := s.insertNotificationLocked(notif)
	return cloneMembership(m), cloneNotification(n), nil
}

func (s *Store) ExpireOverdueInvitations(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, inv := range s.invitations {
		if inv.Status == model.InvitationPending && !now.Before(inv.ExpiresAt) {
			inv.Status = model.InvitationExpired
			count++
		}
	}
	return count, nil
}

// Join requests

func (s *Store) GetJoinRequest(id int64) (*model.JoinRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJoinRequest(s.joinRequests[id]), nil
}

func (s *Store) ListPendingJoinRequests(householdID int64) ([]model.JoinRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []model.JoinRequest
	for _, jr := range s.joinRequests {
		if jr.HouseholdID == householdID && jr.Status == model.JoinRequestPending {
			requests = append(requests, *cloneJoinRequest(jr))
		}
	}
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.Before(requests[j].CreatedAt)
		}
		return requests[i].ID < requests[j].ID
	})
	return requests, nil
}

func (s *Store) CreateJoinRequest(req *model.JoinRequest, notif *model.Notification) (*model.JoinRequest, *model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, jr := range s.joinRequests {
		if jr.HouseholdID == req.HouseholdID && jr.UserID == req.UserID && jr.Status == model.JoinRequestPending {
			return cloneJoinRequest(jr), nil, nil
		}
	}
	stored := &model.JoinRequest{
		ID:          s.nextID(),
		HouseholdID: req.HouseholdID,
		UserID:      req.UserID,
		Message:     req.Message,
		Status:      model.JoinRequestPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.joinRequests[stored.ID] = stored
	notif.RefID = stored.ID
	n := s.insertNotificationLocked(notif)
	return cloneJoinRequest(stored), cloneNotification(n), nil
}

func (s *Store) ResolveJoinRequest(id, resolverID int64, approve bool, now time.Time, notif *model.Notification) (*model.JoinRequest, *model.Membership, *model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jr := s.joinRequests[id]
	if jr == nil {
		return nil, nil, nil, fmt.Errorf("join request %d: %w", id, membership.ErrNotFound)
	}
	if jr.Status != model.JoinRequestPending {
		return nil, nil, nil, fmt.Errorf("join request %d: %w", id, membership.ErrAlreadyResolved)
	}

	if approve {
		jr.Status = model.JoinRequestApproved
	} else {
		jr.Status = model.JoinRequestRejected
	}
	rid := resolverID
	jr.ResolvedBy = &rid
	t := now
	jr.ResolvedAt = &t

	var m *model.Membership
	if approve {
		m = s.grantLocked(jr.HouseholdID, jr.UserID, now, true)
	}

	var n *model.Notification
	if notif != nil {
		n = s.insertNotificationLocked(notif)
	}
	return cloneJoinRequest(jr), cloneMembership(m), cloneNotification(n), nil
}

// Notifications

func (s *Store) insertNotificationLocked(n *model.Notification) *model.Notification {
	stored := &model.Notification{
		ID:        s.nextID(),
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		RefType:   n.RefType,
		RefID:     n.RefID,
		CreatedAt: time.Now().UTC(),
	}
	s.notifications[stored.ID] = stored
	return stored
}

func (s *Store) GetNotification(id int64) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNotification(s.notifications[id]), nil
}

func (s *Store) ListNotifications(userID int64, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var notifications []model.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			notifications = append(notifications, *cloneNotification(n))
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		if !notifications[i].CreatedAt.Equal(notifications[j].CreatedAt) {
			return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
		}
		return notifications[i].ID > notifications[j].ID
	})
	if len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

func (s *Store) CreateNotification(n *model.Notification) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNotification(s.insertNotificationLocked(n)), nil
}

func (s *Store) MarkNotificationRead(id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.notifications[id]
	if n == nil || n.ReadAt != nil {
		return nil
	}
	t := now
	n.ReadAt = &t
	return nil
}

func (s *Store) DeleteReadNotificationsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, n := range s.notifications {
		if n.ReadAt != nil && n.CreatedAt.Before(cutoff) {
			delete(s.notifications, id)
			count++
		}
	}
	return count, nil
}
