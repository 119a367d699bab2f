package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/model"
)

func scanJoinRequest(scanner interface{ Scan(...any) error }) (*model.JoinRequest, error) {
	var jr model.JoinRequest
	var resolvedBy sql.NullInt64
	var resolvedAt sql.NullTime
	err := scanner.Scan(
		&jr.ID, &jr.HouseholdID, &jr.UserID, &jr.Message, &jr.Status,
		&resolvedBy, &resolvedAt, &jr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedBy.Valid {
		jr.ResolvedBy = &resolvedBy.Int64
	}
	if resolvedAt.Valid {
		jr.ResolvedAt = &resolvedAt.Time
	}
	return &jr, nil
}

const joinRequestCols = `id, household_id, user_id, message, status, resolved_by, resolved_at, created_at`

func (s *Store) GetJoinRequest(id int64) (*model.JoinRequest, error) {
	row := s.db.QueryRow(`SELECT `+joinRequestCols+` FROM join_requests WHERE id = ?`, id)
	jr, err := scanJoinRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get join request: %w", err)
	}
	return jr, nil
}

func (s *Store) ListPendingJoinRequests(householdID int64) ([]model.JoinRequest, error) {
	rows, err := s.db.Query(
		`SELECT `+joinRequestCols+` FROM join_requests WHERE household_id = ? AND status = 'pending' ORDER BY created_at ASC, id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending join requests: %w", err)
	}
	defer rows.Close()

	var requests []model.JoinRequest
	for rows.Next() {
		jr, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		requests = append(requests, *jr)
	}
	return requests, rows.Err()
}

// CreateJoinRequest inserts a pending request and the owner's notification
// in one transaction, stamping the new request's id into notif.RefID. A
// duplicate pending request for the same user and household returns the
// existing row with a nil notification, so resubmits neither fork requests
// nor renotify the owner.
func (s *Store) CreateJoinRequest(req *model.JoinRequest, notif *model.Notification) (*model.JoinRequest, *model.Notification, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT OR IGNORE INTO join_requests (household_id, user_id, message, status) VALUES (?, ?, ?, 'pending')`,
		req.HouseholdID, req.UserID, req.Message,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert join request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		row := tx.QueryRow(
			`SELECT `+joinRequestCols+` FROM join_requests WHERE household_id = ? AND user_id = ? AND status = 'pending'`,
			req.HouseholdID, req.UserID,
		)
		existing, err := scanJoinRequest(row)
		if err != nil {
			return nil, nil, fmt.Errorf("get existing join request: %w", err)
		}
		return existing, nil, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	notif.RefID = id
	notifID, err := insertNotificationTx(tx, notif)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	jr, err := s.GetJoinRequest(id)
	if err != nil {
		return nil, nil, err
	}
	n, err := s.GetNotification(notifID)
	if err != nil {
		return nil, nil, err
	}
	return jr, n, nil
}

// ResolveJoinRequest performs the single pending -> approved/rejected
// transition. Approval also grants the membership and makes it the user's
// active household; rejection only records the outcome. A non-nil notif is
// written in the same transaction. A request that is no longer pending
// returns membership.ErrAlreadyResolved.
func (s *Store) ResolveJoinRequest(id, resolverID int64, approve bool, now time.Time, notif *model.Notification) (*model.JoinRequest, *model.Membership, *model.Notification, error) {
	status := model.JoinRequestRejected
	if approve {
		status = model.JoinRequestApproved
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE join_requests SET status = ?, resolved_by = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`,
		status, resolverID, now, id,
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve join request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM join_requests WHERE id = ?`, id).Scan(&n); err != nil {
			return nil, nil, nil, fmt.Errorf("check join request: %w", err)
		}
		if n == 0 {
			return nil, nil, nil, fmt.Errorf("join request %d: %w", id, membership.ErrNotFound)
		}
		return nil, nil, nil, fmt.Errorf("join request %d: %w", id, membership.ErrAlreadyResolved)
	}

	row := tx.QueryRow(`SELECT `+joinRequestCols+` FROM join_requests WHERE id = ?`, id)
	jr, err := scanJoinRequest(row)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reread join request: %w", err)
	}

	var memberID int64
	if approve {
		memberID, err = grantMembershipTx(tx, jr.HouseholdID, jr.UserID, now, true)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var notifID int64
	if notif != nil {
		if notifID, err = insertNotificationTx(tx, notif); err != nil {
			return nil, nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("commit: %w", err)
	}

	var m *model.Membership
	if approve {
		if m, err = s.getMembershipByID(memberID); err != nil {
			return nil, nil, nil, err
		}
	}
	var n *model.Notification
	if notif != nil {
		if n, err = s.GetNotification(notifID); err != nil {
			return nil, nil, nil, err
		}
	}
	return jr, m, n, nil
}
