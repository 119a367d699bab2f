package model

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// Terminal reports whether the status can never change again.
func (s InvitationStatus) Terminal() bool {
	return s != InvitationPending
}

type Invitation struct {
	ID             int64            `json:"id"`
	HouseholdID    int64            `json:"household_id"`
	MemberRecordID int64            `json:"member_record_id"`
	Code           string           `json:"code"`
	InviteePhone   string           `json:"invitee_phone,omitempty"`
	Status         InvitationStatus `json:"status"`
	CreatedBy      int64            `json:"created_by"`
	ExpiresAt      time.Time        `json:"expires_at"`
	RedeemedBy     *int64           `json:"redeemed_by,omitempty"`
	RedeemedAt     *time.Time       `json:"redeemed_at,omitempty"`
	RevokedAt      *time.Time       `json:"revoked_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// EffectiveStatus folds lazy expiry into reads: a pending invitation past its
// deadline reports as expired even before the persisted flip happens.
func (i Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && now.After(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}
