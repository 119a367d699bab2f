package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

func scanInvitation(scanner interface{ Scan(...any) error }) (*model.Invitation, error) {
	var inv model.Invitation
	var redeemedBy sql.NullInt64
	var redeemedAt, revokedAt sql.NullTime
	err := scanner.Scan(
		&inv.ID, &inv.HouseholdID, &inv.MemberRecordID, &inv.Code, &inv.InviteePhone,
		&inv.Status, &inv.CreatedBy, &inv.ExpiresAt, &redeemedBy, &redeemedAt, &revokedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if redeemedBy.Valid {
		inv.RedeemedBy = &redeemedBy.Int64
	}
	if redeemedAt.Valid {
		inv.RedeemedAt = &redeemedAt.Time
	}
	if revokedAt.Valid {
		inv.RevokedAt = &revokedAt.Time
	}
	return &inv, nil
}

const invitationCols = `id, household_id, member_record_id, code, invitee_phone, status, created_by, expires_at, redeemed_by, redeemed_at, revoked_at, created_at`

func (s *Store) GetInvitation(id int64) (*model.Invitation, error) {
	row := s.db.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE id = ?`, id)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

func (s *Store) GetInvitationByCode(code string) (*model.Invitation, error) {
	row := s.db.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE code = ?`, code)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation by code: %w", err)
	}
	return inv, nil
}

func (s *Store) PendingInvitation(householdID, memberRecordID int64) (*model.Invitation, error) {
	row := s.db.QueryRow(
		`SELECT `+invitationCols+` FROM invitations WHERE household_id = ? AND member_record_id = ? AND status = 'pending'`,
		householdID, memberRecordID,
	)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending invitation: %w", err)
	}
	return inv, nil
}

func (s *Store) ListInvitations(householdID int64) ([]model.Invitation, error) {
	rows, err := s.db.Query(
		`SELECT `+invitationCols+` FROM invitations WHERE household_id = ? ORDER BY created_at DESC, id DESC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, *inv)
	}
	return invitations, rows.Err()
}

// CreateInvitation inserts a pending invitation. If the member slot already
// has a pending invitation the existing one is returned (issuance converges
// rather than forking codes); a bare code collision returns
// membership.ErrDuplicateCode so the caller can pick another suffix.
func (s *Store) CreateInvitation(inv *model.Invitation) (*model.Invitation, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO invitations (household_id, member_record_id, code, invitee_phone, status, created_by, expires_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		inv.HouseholdID, inv.MemberRecordID, inv.Code, inv.InviteePhone, inv.CreatedBy, inv.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		pending, err := s.PendingInvitation(inv.HouseholdID, inv.MemberRecordID)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			return pending, nil
		}
		return nil, membership.ErrDuplicateCode
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetInvitation(id)
}

// SupersedeInvitation revokes the previous pending invitation for a member
// slot and inserts its replacement atomically.
func (s *Store) SupersedeInvitation(revokeID int64, inv *model.Invitation, now time.Time) (*model.Invitation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE invitations SET status = 'revoked', revoked_at = ? WHERE id = ? AND status = 'pending'`,
		now, revokeID,
	); err != nil {
		return nil, fmt.Errorf("revoke superseded invitation: %w", err)
	}

	result, err := tx.Exec(
		`INSERT OR IGNORE INTO invitations (household_id, member_record_id, code, invitee_phone, status, created_by, expires_at)
		 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		inv.HouseholdID, inv.MemberRecordID, inv.Code, inv.InviteePhone, inv.CreatedBy, inv.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert replacement invitation: %w", err)
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

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetInvitation(id)
}

// RevokeInvitation flips pending to revoked. Returns false when the
// invitation was not pending, so the caller can report the actual state.
func (s *Store) RevokeInvitation(id int64, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE invitations SET status = 'revoked', revoked_at = ? WHERE id = ? AND status = 'pending'`,
		now, id,
	)
	if err != nil {
		return false, fmt.Errorf("revoke invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// ExpireInvitation persists a lazy expiry flip.
func (s *Store) ExpireInvitation(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE invitations SET status = 'expired' WHERE id = ? AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("expire invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// RedeemInvitation performs the accept transition: exactly one concurrent
// redeemer wins the compare-and-set; everyone else gets the error describing
// the state the winner left behind. The winner's transaction also grants the
// membership (reactivating a previously left row if one exists), links the
// roster record to the redeeming user, makes the household active when the
// user had none, and writes the owner's notification.
func (s *Store) RedeemInvitation(id, userID int64, now time.Time, notif *model.Notification) (*model.Membership, *model.Notification, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE invitations SET status = 'accepted', redeemed_by = ?, redeemed_at = ?
		 WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		userID, now, id, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redeem invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		row := tx.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE id = ?`, id)
		inv, err := scanInvitation(row)
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("invitation %d: %w", id, membership.ErrNotFound)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reread invitation: %w", err)
		}
		if inv.Status == model.InvitationPending {
			// Pending but past its deadline: persist the lazy expiry.
			if _, err := tx.Exec(`UPDATE invitations SET status = 'expired' WHERE id = ?`, id); err != nil {
				return nil, nil, fmt.Errorf("expire invitation: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return nil, nil, fmt.Errorf("commit expiry: %w", err)
			}
			return nil, nil, &membership.InvitationStateError{Code: inv.Code, Status: model.InvitationExpired}
		}
		return nil, nil, &membership.InvitationStateError{Code: inv.Code, Status: inv.Status}
	}

	row := tx.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE id = ?`, id)
	inv, err := scanInvitation(row)
	if err != nil {
		return nil, nil, fmt.Errorf("reread invitation: %w", err)
	}

	memberID, err := grantMembershipTx(tx, inv.HouseholdID, userID, now, false)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(
		`UPDATE member_records SET linked_user_id = ?, updated_at = datetime('now') WHERE id = ?`,
		userID, inv.MemberRecordID,
	); err != nil {
		return nil, nil, fmt.Errorf("link member record: %w", err)
	}

	notifID, err := insertNotificationTx(tx, notif)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	m, err := s.getMembershipByID(memberID)
	if err != nil {
		return nil, nil, err
	}
	n, err := s.GetNotification(notifID)
	if err != nil {
		return nil, nil, err
	}
	return m, n, nil
}

func (s *Store) ExpireOverdueInvitations(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE invitations SET status = 'expired' WHERE status = 'pending' AND expires_at <= ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue invitations: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// grantMembershipTx inserts or reactivates the membership row for the user
// in the household. With forceActive the membership becomes the user's
// active household; otherwise it becomes active only when the user has none.
// Returns the membership row id.
func grantMembershipTx(tx *sql.Tx, householdID, userID int64, now time.Time, forceActive bool) (int64, error) {
	active := forceActive
	if !forceActive {
		var n int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM memberships WHERE user_id = ? AND is_active = 1`,
			userID,
		).Scan(&n); err != nil {
			return 0, fmt.Errorf("count active memberships: %w", err)
		}
		active = n == 0
	} else {
		if _, err := tx.Exec(
			`UPDATE memberships SET is_active = 0 WHERE user_id = ? AND is_active = 1`,
			userID,
		); err != nil {
			return 0, fmt.Errorf("clear active membership: %w", err)
		}
	}

	row := tx.QueryRow(
		`SELECT `+membershipCols+` FROM memberships WHERE household_id = ? AND user_id = ?`,
		householdID, userID,
	)
	existing, err := scanMembership(row)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("get membership: %w", err)
	}

	if existing == nil {
		result, err := tx.Exec(
			`INSERT INTO memberships (household_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, ?, ?)`,
			householdID, userID, model.RoleMember, active, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert membership: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		return id, nil
	}

	if existing.LeftAt != nil {
		if _, err := tx.Exec(
			`UPDATE memberships SET left_at = NULL, joined_at = ?, is_active = ? WHERE id = ?`,
			now, active, existing.ID,
		); err != nil {
			return 0, fmt.Errorf("reactivate membership: %w", err)
		}
		return existing.ID, nil
	}

	// Already a held membership; only the active flag may need raising.
	if active && !existing.IsActive {
		if _, err := tx.Exec(`UPDATE memberships SET is_active = 1 WHERE id = ?`, existing.ID); err != nil {
			return 0, fmt.Errorf("activate membership: %w", err)
		}
	}
	return existing.ID, nil
}
