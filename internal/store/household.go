package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

func scanHousehold(scanner interface{ Scan(...any) error }) (*model.Household, error) {
	var h model.Household
	err := scanner.Scan(&h.ID, &h.Code, &h.Name, &h.OwnerUserID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	var leftAt sql.NullTime
	err := scanner.Scan(&m.ID, &m.HouseholdID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt, &leftAt)
	if err != nil {
		return nil, err
	}
	if leftAt.Valid {
		m.LeftAt = &leftAt.Time
	}
	return &m, nil
}

const householdCols = `id, code, name, owner_user_id, created_at, updated_at`
const membershipCols = `id, household_id, user_id, role, is_active, joined_at, left_at`

// CreateHousehold inserts the household and its owner membership in one
// transaction. The new household becomes the owner's active household.
// Returns membership.ErrDuplicateCode if the code is already taken.
func (s *Store) CreateHousehold(code, name string, ownerUserID int64, now time.Time) (*model.Household, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT OR IGNORE INTO households (code, name, owner_user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		code, name, ownerUserID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, membership.ErrDuplicateCode
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE memberships SET is_active = 0 WHERE user_id = ? AND is_active = 1`,
		ownerUserID,
	); err != nil {
		return nil, fmt.Errorf("clear active membership: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO memberships (household_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, 1, ?)`,
		id, ownerUserID, model.RoleOwner, now,
	); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetHousehold(id)
}

func (s *Store) GetHousehold(id int64) (*model.Household, error) {
	row := s.db.QueryRow(`SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *Store) GetHouseholdByCode(code string) (*model.Household, error) {
	row := s.db.QueryRow(`SELECT `+householdCols+` FROM households WHERE code = ?`, code)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household by code: %w", err)
	}
	return h, nil
}

// GetMembership returns the membership row linking the user to the
// household, held or not, or nil if the user was never a member.
func (s *Store) GetMembership(householdID, userID int64) (*model.Membership, error) {
	row := s.db.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE household_id = ? AND user_id = ?`,
		householdID, userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *Store) getMembershipByID(id int64) (*model.Membership, error) {
	row := s.db.QueryRow(`SELECT `+membershipCols+` FROM memberships WHERE id = ?`, id)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership by id: %w", err)
	}
	return m, nil
}

func (s *Store) ActiveMembership(userID int64) (*model.Membership, error) {
	row := s.db.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE user_id = ? AND is_active = 1`,
		userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active membership: %w", err)
	}
	return m, nil
}

func (s *Store) ListUserHouseholds(userID int64) ([]model.UserHousehold, error) {
	rows, err := s.db.Query(
		`SELECT h.id, h.code, h.name, h.owner_user_id, h.created_at, h.updated_at, m.role, m.is_active, m.joined_at
		 FROM households h
		 JOIN memberships m ON h.id = m.household_id
		 WHERE m.user_id = ? AND m.left_at IS NULL
		 ORDER BY m.joined_at ASC, h.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user households: %w", err)
	}
	defer rows.Close()

	var listings []model.UserHousehold
	for rows.Next() {
		var uh model.UserHousehold
		h := &uh.Household
		if err := rows.Scan(
			&h.ID, &h.Code, &h.Name, &h.OwnerUserID, &h.CreatedAt, &h.UpdatedAt,
			&uh.Role, &uh.IsActive, &uh.JoinedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user household: %w", err)
		}
		listings = append(listings, uh)
	}
	return listings, rows.Err()
}

// SetActiveMembership repoints the user's active household. Returns nil
// without error if the user holds no membership in the household.
func (s *Store) SetActiveMembership(userID, householdID int64) (*model.Membership, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE household_id = ? AND user_id = ? AND left_at IS NULL`,
		householdID, userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE memberships SET is_active = 0 WHERE user_id = ? AND is_active = 1`,
		userID,
	); err != nil {
		return nil, fmt.Errorf("clear active membership: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE memberships SET is_active = 1 WHERE id = ?`,
		m.ID,
	); err != nil {
		return nil, fmt.Errorf("set active membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.getMembershipByID(m.ID)
}

// LeaveHousehold marks the membership left and, when it was the active one,
// falls back to the most recently joined remaining membership. An owner's
// row is only deactivated, never marked left: the household keeps its owner
// of record. A non-nil notif is inserted in the same transaction. Returns
// the resulting active membership, nil when none remains, and nil without
// error if the user holds no membership in the household.
func (s *Store) LeaveHousehold(userID, householdID int64, now time.Time, notif *model.Notification) (*model.Membership, *model.Notification, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE household_id = ? AND user_id = ? AND left_at IS NULL`,
		householdID, userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get membership: %w", err)
	}

	if m.Role == model.RoleOwner {
		_, err = tx.Exec(`UPDATE memberships SET is_active = 0 WHERE id = ?`, m.ID)
	} else {
		_, err = tx.Exec(`UPDATE memberships SET is_active = 0, left_at = ? WHERE id = ?`, now, m.ID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("mark membership left: %w", err)
	}

	if m.IsActive {
		var nextID int64
		err := tx.QueryRow(
			`SELECT id FROM memberships
			 WHERE user_id = ? AND left_at IS NULL AND household_id != ?
			 ORDER BY joined_at DESC, id DESC LIMIT 1`,
			userID, householdID,
		).Scan(&nextID)
		if err != nil && err != sql.ErrNoRows {
			return nil, nil, fmt.Errorf("find fallback membership: %w", err)
		}
		if err == nil {
			if _, err := tx.Exec(`UPDATE memberships SET is_active = 1 WHERE id = ?`, nextID); err != nil {
				return nil, nil, fmt.Errorf("set fallback membership active: %w", err)
			}
		}
	}

	var notifID int64
	if notif != nil {
		notifID, err = insertNotificationTx(tx, notif)
		if err != nil {
			return nil, nil, fmt.Errorf("insert notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	active, err := s.ActiveMembership(userID)
	if err != nil {
		return nil, nil, err
	}
	var stored *model.Notification
	if notif != nil {
		if stored, err = s.GetNotification(notifID); err != nil {
			return nil, nil, err
		}
	}
	return active, stored, nil
}
