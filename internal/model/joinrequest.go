package model

import "time"

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

func (s JoinRequestStatus) Terminal() bool {
	return s != JoinRequestPending
}

type JoinRequest struct {
	ID          int64             `json:"id"`
	HouseholdID int64             `json:"household_id"`
	UserID      int64             `json:"user_id"`
	Message     string            `json:"message,omitempty"`
	Status      JoinRequestStatus `json:"status"`
	ResolvedBy  *int64            `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
