package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tuckborough/burrow/internal/model"
)

// BackupStore tracks database snapshot uploads. Separate from the
// membership seam: only the backup manager touches it.
type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

func scanBackup(scanner interface{ Scan(...any) error }) (*model.Backup, error) {
	var b model.Backup
	var startedAt, completedAt sql.NullTime
	err := scanner.Scan(
		&b.ID, &b.Filename, &b.S3Key, &b.SizeBytes, &b.Status, &b.ErrorMessage,
		&startedAt, &completedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}

const backupCols = `id, filename, s3_key, size_bytes, status, error_message, started_at, completed_at, created_at, updated_at`

func (s *BackupStore) Create(filename, s3Key string) (*model.Backup, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO backups (filename, s3_key, status, started_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		filename, s3Key, model.BackupStatusPending, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *BackupStore) GetByID(id int64) (*model.Backup, error) {
	row := s.db.QueryRow(`SELECT `+backupCols+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

func (s *BackupStore) List(limit int) ([]model.Backup, error) {
	rows, err := s.db.Query(
		`SELECT `+backupCols+` FROM backups ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (s *BackupStore) UpdateStatus(id int64, status model.BackupStatus, errorMsg string) error {
	_, err := s.db.Exec(
		`UPDATE backups SET status = ?, error_message = ?, updated_at = datetime('now') WHERE id = ?`,
		status, errorMsg, id,
	)
	if err != nil {
		return fmt.Errorf("update backup status: %w", err)
	}
	return nil
}

func (s *BackupStore) UpdateCompleted(id, sizeBytes int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE backups SET status = ?, size_bytes = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		model.BackupStatusCompleted, sizeBytes, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update backup completed: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes backup rows older than the given time and returns
// the S3 keys of the deleted backups so the caller can prune the bucket.
func (s *BackupStore) DeleteOlderThan(before time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT s3_key FROM backups WHERE created_at < ?`, before)
	if err != nil {
		return nil, fmt.Errorf("select old backups: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan s3 key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM backups WHERE created_at < ?`, before); err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	return keys, nil
}

func (s *BackupStore) LatestCompleted() (*model.Backup, error) {
	row := s.db.QueryRow(
		`SELECT `+backupCols+` FROM backups WHERE status = ? ORDER BY completed_at DESC LIMIT 1`,
		model.BackupStatusCompleted,
	)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed backup: %w", err)
	}
	return b, nil
}
