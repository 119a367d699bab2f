package membership

import (
	"fmt"
	"strings"

	"github.com/tuckborough/burrow/internal/model"
)

// AddMemberRecord creates a roster entry describing a household member who
// may not have an account yet ("Grandma"). Owner only. Names are unique per
// household, case-insensitively.
func (c *Coordinator) AddMemberRecord(callerID, householdID int64, name, relation, phone string) (*model.MemberRecord, error) {
	if _, err := c.requireOwner(householdID, callerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if phone != "" && !ValidPhone(phone) {
		return nil, fmt.Errorf("phone %q: %w", phone, ErrInvalidPhone)
	}
	rec, err := c.store.CreateMemberRecord(&model.MemberRecord{
		HouseholdID: householdID,
		Name:        name,
		Relation:    strings.TrimSpace(relation),
		Phone:       phone,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("member record created", "household_id", householdID, "member_record_id", rec.ID)
	return rec, nil
}

// ListMemberRecords returns the household roster. Any current member may
// read it.
func (c *Coordinator) ListMemberRecords(callerID, householdID int64) ([]model.MemberRecord, error) {
	m, err := c.store.GetMembership(householdID, callerID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Held() {
		return nil, fmt.Errorf("household %d: %w", householdID, ErrNotAMember)
	}
	return c.store.ListMemberRecords(householdID)
}

// UpdateMemberRecord edits a roster entry. Owner only.
func (c *Coordinator) UpdateMemberRecord(callerID, recordID int64, name, relation, phone string) (*model.MemberRecord, error) {
	rec, err := c.store.GetMemberRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("member record %d: %w", recordID, ErrNotFound)
	}
	if _, err := c.requireOwner(rec.HouseholdID, callerID); err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if phone != "" && !ValidPhone(phone) {
		return nil, fmt.Errorf("phone %q: %w", phone, ErrInvalidPhone)
	}
	rec.Name = strings.TrimSpace(name)
	rec.Relation = strings.TrimSpace(relation)
	rec.Phone = phone
	updated, err := c.store.UpdateMemberRecord(rec)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("member record %d: %w", recordID, ErrNotFound)
	}
	return updated, nil
}

// RemoveMemberRecord deletes a roster entry along with any invitations
// bound to it, so their codes stop resolving. Owner only.
func (c *Coordinator) RemoveMemberRecord(callerID, recordID int64) error {
	rec, err := c.store.GetMemberRecord(recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("member record %d: %w", recordID, ErrNotFound)
	}
	if _, err := c.requireOwner(rec.HouseholdID, callerID); err != nil {
		return err
	}
	if err := c.store.DeleteMemberRecord(recordID); err != nil {
		return err
	}
	c.logger.Info("member record deleted", "household_id", rec.HouseholdID, "member_record_id", recordID)
	return nil
}
