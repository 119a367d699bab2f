package model

import "time"

// MemberRecord is a roster entry for a person in a household. It exists
// independently of any account; LinkedUserID is set once the person redeems
// an invitation bound to this record.
type MemberRecord struct {
	ID           int64     `json:"id"`
	HouseholdID  int64     `json:"household_id"`
	Name         string    `json:"name"`
	Relation     string    `json:"relation,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	LinkedUserID *int64    `json:"linked_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
