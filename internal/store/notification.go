package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tuckborough/burrow/internal/model"
)

func scanNotification(scanner interface{ Scan(...any) error }) (*model.Notification, error) {
	var n model.Notification
	var readAt sql.NullTime
	err := scanner.Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.RefType, &n.RefID,
		&readAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	return &n, nil
}

const notificationCols = `id, user_id, type, title, body, ref_type, ref_id, read_at, created_at`

func insertNotificationTx(tx *sql.Tx, n *model.Notification) (int64, error) {
	result, err := tx.Exec(
		`INSERT INTO notifications (user_id, type, title, body, ref_type, ref_id) VALUES (?, ?, ?, ?, ?, ?)`,
		n.UserID, n.Type, n.Title, n.Body, n.RefType, n.RefID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (s *Store) CreateNotification(n *model.Notification) (*model.Notification, error) {
	result, err := s.db.Exec(
		`INSERT INTO notifications (user_id, type, title, body, ref_type, ref_id) VALUES (?, ?, ?, ?, ?, ?)`,
		n.UserID, n.Type, n.Title, n.Body, n.RefType, n.RefID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetNotification(id)
}

func (s *Store) GetNotification(id int64) (*model.Notification, error) {
	row := s.db.QueryRow(`SELECT `+notificationCols+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(userID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+notificationCols+` FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead is idempotent: the first flip wins and repeats are
// no-ops.
func (s *Store) MarkNotificationRead(id int64, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (s *Store) DeleteReadNotificationsBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
