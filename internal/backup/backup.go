// Package backup snapshots the SQLite database, encrypts the copy, and
// uploads it to S3-compatible storage on a daily schedule. Restores pull a
// snapshot back down, verify its integrity, and swap the database file; the
// process must be restarted afterwards so every connection sees the restored
// state.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tuckborough/burrow/internal/model"
	"github.com/tuckborough/burrow/internal/store"
)

// s3Client is the slice of the S3 API the manager uses, kept narrow so tests
// can substitute an in-memory fake.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration. Endpoint is optional
// and overrides the AWS default for providers like MinIO or R2.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds backup manager configuration. Backups are enabled only when
// the S3 credentials and the passphrase are all present.
type Config struct {
	S3            S3Config
	DBPath        string
	Passphrase    string
	ScheduleHour  int // UTC hour of the daily run
	RetentionDays int
}

func (c Config) enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// Manager runs scheduled encrypted backups and serves restores.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status

	db          *sql.DB
	backupStore *store.BackupStore
	client      s3Client
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. With incomplete configuration the
// manager stays in the disabled state and Start is a no-op.
func NewManager(cfg Config, db *sql.DB, bs *store.BackupStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:         cfg,
		db:          db,
		backupStore: bs,
		logger:      logger,
		status:      Status{State: StateDisabled},
	}

	if cfg.enabled() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
		if bs != nil {
			if last, err := bs.LatestCompleted(); err == nil && last != nil {
				m.status.LastBackup = last.CompletedAt
			}
		}
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled backup loop. The loop wakes once a minute and
// runs a backup when the clock reaches the configured UTC hour.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) checkSchedule(ctx context.Context) {
	now := time.Now().UTC()
	if now.Hour() != m.cfg.ScheduleHour || now.Minute() != 0 {
		return
	}

	if _, err := m.runBackup(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}

	retention := m.cfg.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	if err := m.Cleanup(ctx, retention); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow runs a backup immediately and returns the backup record ID.
func (m *Manager) RunNow(ctx context.Context) (int64, error) {
	return m.runBackup(ctx)
}

func (m *Manager) runBackup(ctx context.Context) (int64, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return 0, fmt.Errorf("backup not configured")
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("backup-%s.db.enc", timestamp)

	record, err := m.backupStore.Create(filename, filename)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("create backup record: %w", err)
	}

	m.backupStore.UpdateStatus(record.ID, model.BackupStatusUploading, "")

	tmpDir := os.TempDir()
	dbCopy := filepath.Join(tmpDir, fmt.Sprintf("burrow-backup-%d.db", record.ID))
	encFile := filepath.Join(tmpDir, fmt.Sprintf("burrow-backup-%d.db.enc", record.ID))
	defer os.Remove(dbCopy)
	defer os.Remove(encFile)

	fail := func(stage string, err error) (int64, error) {
		m.backupStore.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error())
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("%s: %w", stage, err)
	}

	// Flush the WAL into the main file so the copy is a complete snapshot.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fail("wal checkpoint", err)
	}

	if err := copyFile(m.cfg.DBPath, dbCopy); err != nil {
		return fail("copy database", err)
	}

	// A fresh salt per snapshot; it travels in the file header, so restoring
	// an old snapshot needs only the passphrase.
	salt, err := GenerateSalt()
	if err != nil {
		return fail("generate salt", err)
	}
	if err := EncryptFile(dbCopy, encFile, m.cfg.Passphrase, salt); err != nil {
		return fail("encrypt", err)
	}

	encData, err := os.Open(encFile)
	if err != nil {
		return fail("open encrypted file", err)
	}
	defer encData.Close()

	stat, err := encData.Stat()
	if err != nil {
		return fail("stat encrypted file", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(record.S3Key),
		Body:          encData,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return fail("upload to s3", err)
	}

	m.backupStore.UpdateCompleted(record.ID, stat.Size())

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastBackup: &now})
	m.logger.Info("backup completed", "backup_id", record.ID, "size_bytes", stat.Size())

	return record.ID, nil
}

// Restore downloads a backup, decrypts it, verifies SQLite integrity, and
// replaces the database file. The caller must exit without closing the old
// database handle afterwards; a close-time WAL checkpoint from that handle
// would write stale pages over the restored file.
func (m *Manager) Restore(ctx context.Context, backupID int64) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("backup not configured")
	}

	record, err := m.backupStore.GetByID(backupID)
	if err != nil {
		return fmt.Errorf("get backup: %w", err)
	}
	if record == nil {
		return fmt.Errorf("backup %d not found", backupID)
	}

	tmpDir := os.TempDir()
	encFile := filepath.Join(tmpDir, fmt.Sprintf("burrow-restore-%d.db.enc", backupID))
	decFile := filepath.Join(tmpDir, fmt.Sprintf("burrow-restore-%d.db", backupID))
	defer os.Remove(encFile)
	defer os.Remove(decFile)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	outFile, err := os.Create(encFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(outFile, result.Body); err != nil {
		outFile.Close()
		return fmt.Errorf("write downloaded file: %w", err)
	}
	outFile.Close()

	if err := DecryptFile(encFile, decFile, m.cfg.Passphrase); err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	// Refuse to swap in a snapshot SQLite itself rejects.
	tmpDB, err := sql.Open("sqlite", decFile)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	var integrity string
	if err := tmpDB.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		tmpDB.Close()
		return fmt.Errorf("integrity check: %w", err)
	}
	tmpDB.Close()
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}

	if err := copyFile(decFile, m.cfg.DBPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}

	// Stale WAL and SHM files would shadow the restored content.
	os.Remove(m.cfg.DBPath + "-wal")
	os.Remove(m.cfg.DBPath + "-shm")

	m.logger.Info("restore complete, restart required", "backup_id", backupID)
	return nil
}

// Cleanup deletes backups older than the retention period, both the rows and
// the bucket objects.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -retentionDays)
	keys, err := m.backupStore.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old backups: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete s3 object", "key", key, "error", err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
