package model

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

type Household struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	OwnerUserID int64     `json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership links a user to a household. A row with a nil LeftAt is a held
// membership; at most one held membership per user has IsActive set.
type Membership struct {
	ID          int64      `json:"id"`
	HouseholdID int64      `json:"household_id"`
	UserID      int64      `json:"user_id"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"is_active"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

func (m Membership) Held() bool {
	return m.LeftAt == nil
}

// UserHousehold is the household-switcher view: one row per held membership,
// annotated with the user's role and whether it is the active household.
type UserHousehold struct {
	Household Household `json:"household"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	JoinedAt  time.Time `json:"joined_at"`
}
