package membership

import (
	"errors"
	"fmt"

	"github.com/tuckborough/burrow/internal/model"
)

// Sentinel errors returned by the coordinator and its managers. Callers
// classify failures with errors.Is; every kind maps to a distinct recovery
// action, so none of them collapse into a generic failure.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrAlreadyInHousehold = errors.New("already in a household")
	ErrNotAMember         = errors.New("not a household member")
	ErrNotHouseholdOwner  = errors.New("not the household owner")
	ErrNotOwner           = errors.New("not the owner")
	ErrExpired            = errors.New("invitation expired")
	ErrAlreadyRedeemed    = errors.New("invitation already redeemed")
	ErrAlreadyResolved    = errors.New("join request already resolved")
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidCode        = errors.New("invalid code")
)

// ErrDuplicateCode is returned by stores when a generated code collides with
// an existing one. Managers regenerate and retry; it never reaches callers.
var ErrDuplicateCode = errors.New("code already in use")

// ErrDuplicateName reports a roster name collision within a household.
var ErrDuplicateName = errors.New("member name already in use")

// InvitationStateError reports a redemption attempt against an invitation
// that is no longer pending. It matches ErrExpired or ErrAlreadyRedeemed
// under errors.Is, and carries the exact status so callers can tell a
// revoked code from an accepted or expired one.
type InvitationStateError struct {
	Code   string
	Status model.InvitationStatus
}

func (e *InvitationStateError) Error() string {
	return fmt.Sprintf("invitation %s is %s", e.Code, e.Status)
}

func (e *InvitationStateError) Is(target error) bool {
	switch target {
	case ErrExpired:
		return e.Status == model.InvitationExpired
	case ErrAlreadyRedeemed:
		return e.Status == model.InvitationAccepted || e.Status == model.InvitationRevoked
	}
	return false
}
