package store

import (
	"database/sql"
	"fmt"

	"github.com/tuckborough/burrow/internal/model"
)

// PushStore persists browser push subscriptions, keyed by user. Separate
// from the membership seam: only the push sender touches it.
type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey,
		&sub.DeviceName, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const pushSubscriptionCols = `id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at`

// CreateSubscription registers a subscription. Re-registering an existing
// endpoint refreshes its keys and owner rather than duplicating it.
func (s *PushStore) CreateSubscription(userID int64, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	result, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		userID, endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	id, _ := result.LastInsertId()

	// LastInsertId may be 0 on conflict update; re-query by endpoint
	if id == 0 {
		return s.getByEndpoint(endpoint)
	}
	return s.GetByID(id)
}

func (s *PushStore) GetByID(id int64) (*model.PushSubscription, error) {
	row := s.db.QueryRow(`SELECT `+pushSubscriptionCols+` FROM push_subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) getByEndpoint(endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRow(`SELECT `+pushSubscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(userID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+pushSubscriptionCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) Delete(id, userID int64) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// DeleteByEndpoint removes a subscription the push service reports dead.
func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}
