package model

import "time"

// Notification type constants
const (
	NotifTypeInvitationRedeemed  = "invitation_redeemed"
	NotifTypeJoinRequest         = "join_request"
	NotifTypeJoinRequestApproved = "join_request_approved"
	NotifTypeJoinRequestRejected = "join_request_rejected"
	NotifTypeMemberLeft          = "member_left"
)

// Notification is a payload-light record: RefType/RefID point at the entity
// that changed, and recipients re-fetch it for current state.
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	RefType   string     `json:"ref_type,omitempty"`
	RefID     int64      `json:"ref_id,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (n Notification) Read() bool {
	return n.ReadAt != nil
}
