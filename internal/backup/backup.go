// Package backup takes encrypted snapshots of the database and keeps them in
// S3-compatible object storage.
package backup

import (
	"context"
	"database/sql"
	"errors"
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
	_ "modernc.org/sqlite"

	"github.com/dukerupert/checkin/internal/model"
	"github.com/dukerupert/checkin/internal/store"
)

var (
	// ErrDisabled is returned when storage or the passphrase is not configured.
	ErrDisabled = errors.New("backups not configured")
	// ErrNotFound is returned for an unknown backup id.
	ErrNotFound = errors.New("backup not found")
)

// s3Client is the subset of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3 S3Config
	// Passphrase encrypts every snapshot. Losing it makes backups unreadable.
	Passphrase string
	// Prefix is prepended to every object key, e.g. "checkin/".
	Prefix string
}

// Enabled reports whether storage credentials and a passphrase are set.
func (c Config) Enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

// Manager runs backups, prunes old ones and restores snapshots.
type Manager struct {
	cfg     Config
	db      *sql.DB
	backups *store.BackupStore
	client  s3Client
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes backup runs.
	mu sync.Mutex
}

// NewManager returns a manager. When cfg is not Enabled every operation
// returns ErrDisabled.
func NewManager(cfg Config, db *sql.DB, backups *store.BackupStore, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		db:      db,
		backups: backups,
		logger:  logger.With("component", "backup"),
		now:     time.Now,
	}
	if cfg.Enabled() {
		m.client = newS3Client(cfg.S3)
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

func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Run snapshots the database with VACUUM INTO, encrypts the copy and uploads
// it. The backup row records the outcome either way.
func (m *Manager) Run(ctx context.Context) (*model.Backup, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%scheckin-%s.db.enc", m.cfg.Prefix, m.now().UTC().Format("2006-01-02T150405.000Z"))
	record, err := m.backups.Create(key)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With("backup_id", record.ID, "key", key)

	size, err := m.upload(ctx, record.ID, key)
	if err != nil {
		if uerr := m.backups.UpdateStatus(record.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			logger.Error("record backup failure", "error", uerr)
		}
		logger.Error("backup failed", "error", err)
		return nil, err
	}
	if err := m.backups.MarkCompleted(record.ID, size); err != nil {
		return nil, err
	}
	logger.Info("backup completed", "size_bytes", size)
	return m.backups.GetByID(record.ID)
}

func (m *Manager) upload(ctx context.Context, id int64, key string) (int64, error) {
	dir, err := os.MkdirTemp("", "checkin-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "snapshot.db")
	encrypted := snapshot + ".enc"

	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return 0, fmt.Errorf("snapshot database: %w", err)
	}
	if err := EncryptFile(snapshot, encrypted, m.cfg.Passphrase); err != nil {
		return 0, fmt.Errorf("encrypt: %w", err)
	}

	if err := m.backups.UpdateStatus(id, model.BackupStatusUploading, ""); err != nil {
		return 0, err
	}
	f, err := os.Open(encrypted)
	if err != nil {
		return 0, fmt.Errorf("open encrypted file: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat encrypted file: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return stat.Size(), nil
}

// Prune deletes backups older than retention, rows first, then objects.
// It returns the number of rows removed.
func (m *Manager) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if !m.Enabled() {
		return 0, ErrDisabled
	}
	keys, err := m.backups.DeleteOlderThan(m.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			m.logger.Warn("delete backup object", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		m.logger.Info("pruned backups", "count", len(keys))
	}
	return len(keys), nil
}

// RunAndPrune is the scheduled job: a fresh backup followed by pruning.
func (m *Manager) RunAndPrune(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := m.Run(ctx); err != nil {
			return err
		}
		_, err := m.Prune(ctx, retention)
		return err
	}
}

// List returns the newest backups first.
func (m *Manager) List(limit int) ([]model.Backup, error) {
	return m.backups.List(limit)
}

// Restore downloads backup id, decrypts it, checks its integrity and writes
// it to dest. The live database is never touched; dest must not exist.
func (m *Manager) Restore(ctx context.Context, id int64, dest string) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("restore target %s already exists", dest)
	}

	record, err := m.backups.GetByID(id)
	if err != nil {
		return err
	}
	if record == nil || record.Status != model.BackupStatusCompleted {
		return ErrNotFound
	}

	dir, err := os.MkdirTemp("", "checkin-restore-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	encrypted := filepath.Join(dir, "download.db.enc")
	decrypted := filepath.Join(dir, "restored.db")

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.ObjectKey),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()
	if err := writeFile(encrypted, result.Body); err != nil {
		return err
	}

	if err := DecryptFile(encrypted, decrypted, m.cfg.Passphrase); err != nil {
		return err
	}
	if err := checkIntegrity(ctx, decrypted); err != nil {
		return err
	}

	in, err := os.Open(decrypted)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := writeFile(dest, in); err != nil {
		return err
	}
	m.logger.Info("backup restored", "backup_id", id, "dest", dest)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
