package membership

import (
	"time"

	"github.com/tuckborough/burrow/internal/model"
)

// Store is the persistence seam the coordinator and its managers depend on:
// per-entity primitives plus the compound transitions that must commit
// atomically. The SQLite store backs compound transitions with transactions,
// the in-memory store with a single lock; both enforce the same uniqueness
// rules (one active membership per user, one pending invitation per member
// slot, globally unique codes).
//
// Create methods that hit a code-uniqueness conflict return ErrDuplicateCode
// so the caller can regenerate and retry. Compound transitions whose
// compare-and-set loses a race return the taxonomy error describing the
// state the winner left behind.
type Store interface {
	// Households
	CreateHousehold(code, name string, ownerUserID int64, now time.Time) (*model.Household, error)
	GetHousehold(id int64) (*model.Household, error)
	GetHouseholdByCode(code string) (*model.Household, error)

	// Memberships
	GetMembership(householdID, userID int64) (*model.Membership, error)
	ActiveMembership(userID int64) (*model.Membership, error)
	ListUserHouseholds(userID int64) ([]model.UserHousehold, error)
	SetActiveMembership(userID, householdID int64) (*model.Membership, error)
	LeaveHousehold(userID, householdID int64, now time.Time, notif *model.Notification) (*model.Membership, *model.Notification, error)

	// Member records
	CreateMemberRecord(rec *model.MemberRecord) (*model.MemberRecord, error)
	GetMemberRecord(id int64) (*model.MemberRecord, error)
	ListMemberRecords(householdID int64) ([]model.MemberRecord, error)
	UpdateMemberRecord(rec *model.MemberRecord) (*model.MemberRecord, error)
	DeleteMemberRecord(id int64) error

	// Invitations
	GetInvitation(id int64) (*model.Invitation, error)
	GetInvitationByCode(code string) (*model.Invitation, error)
	PendingInvitation(householdID, memberRecordID int64) (*model.Invitation, error)
	ListInvitations(householdID int64) ([]model.Invitation, error)
	CreateInvitation(inv *model.Invitation) (*model.Invitation, error)
	SupersedeInvitation(revokeID int64, inv *model.Invitation, now time.Time) (*model.Invitation, error)
	RevokeInvitation(id int64, now time.Time) (bool, error)
	ExpireInvitation(id int64) (bool, error)
	RedeemInvitation(id, userID int64, now time.Time, notif *model.Notification) (*model.Membership, *model.Notification, error)

	// Join requests
	GetJoinRequest(id int64) (*model.JoinRequest, error)
	ListPendingJoinRequests(householdID int64) ([]model.JoinRequest, error)
	CreateJoinRequest(req *model.JoinRequest, notif *model.Notification) (*model.JoinRequest, *model.Notification, error)
	ResolveJoinRequest(id, resolverID int64, approve bool, now time.Time, notif *model.Notification) (*model.JoinRequest, *model.Membership, *model.Notification, error)

	// Notifications
	GetNotification(id int64) (*model.Notification, error)
	ListNotifications(userID int64, limit int) ([]model.Notification, error)
	CreateNotification(n *model.Notification) (*model.Notification, error)
	MarkNotificationRead(id int64, now time.Time) error

	// Maintenance
	ExpireOverdueInvitations(now time.Time) (int64, error)
	DeleteReadNotificationsBefore(cutoff time.Time) (int64, error)
}
