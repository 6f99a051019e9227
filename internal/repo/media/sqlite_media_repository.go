package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

// SQLiteRepositoryConfig holds configuration for the SQLite media repository.
type SQLiteRepositoryConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/mediavault.db"`
}

// SQLiteRepository implements Repository and ClaimStore using SQLite.
// The UNIQUE constraint on sha256 is the final arbiter of deduplication.
type SQLiteRepository struct {
	db        *sql.DB
	log       logging.Logger
	writeLock *sync.Mutex // go-sqlite does not support concurrent writes
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ ClaimStore = (*SQLiteRepository)(nil)
)

const mediaColumns = `id, uuid, disk_path, original_name, mime_type, size_bytes, sha256,
	uploaded_by, created_at, status, quarantine_path, is_public, public_token`

// NewSQLiteRepository opens the database and creates the schema if needed.
func NewSQLiteRepository(cfg SQLiteRepositoryConfig) (*SQLiteRepository, error) {
	log := logging.GetLogger("repo.media.sqlite_media_repository").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir all: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+cfg.DatabasePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := initializeDB(db); err != nil {
		return nil, fmt.Errorf("initialize db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteRepository{
		db:        db,
		log:       log,
		writeLock: new(sync.Mutex),
	}, nil
}

func initializeDB(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS media_files (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid            TEXT    UNIQUE NOT NULL,
			disk_path       TEXT    UNIQUE NOT NULL,
			original_name   TEXT    NOT NULL,
			mime_type       TEXT    NOT NULL,
			size_bytes      INTEGER NOT NULL,
			sha256          TEXT    UNIQUE NOT NULL,
			uploaded_by     TEXT,
			created_at      INTEGER NOT NULL,
			status          TEXT    NOT NULL DEFAULT 'ready',
			quarantine_path TEXT,
			is_public       INTEGER NOT NULL DEFAULT 0,
			public_token    TEXT    UNIQUE
		);
		CREATE INDEX IF NOT EXISTS media_files_created_at ON media_files (created_at);
		CREATE TABLE IF NOT EXISTS media_claims (
			sha256     TEXT    PRIMARY KEY,
			owner      TEXT    NOT NULL,
			expires_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Create implements Repository.Create using SQLite.
func (r *SQLiteRepository) Create(ctx context.Context, file *domain.MediaFile) (err error) {
	defer func() {
		if err != nil {
			r.log.DebugContext(ctx, "insert media failed", "sha256", file.SHA256, "error", err)
		}
	}()

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO media_files (uuid, disk_path, original_name, mime_type, size_bytes, sha256,
			uploaded_by, created_at, status, quarantine_path, is_public, public_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.UUID,
		file.DiskPath,
		file.OriginalName,
		file.MIMEType,
		file.SizeBytes,
		file.SHA256,
		nullString(file.UploadedBy),
		file.CreatedAt.UnixMilli(),
		string(file.Status),
		nullString(file.QuarantinePath),
		file.IsPublic,
		nullString(file.PublicToken),
	)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				fallthrough
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				err = errors.Join(domain.ErrDuplicateHash, err)
			default:
				break
			}
		}

		return fmt.Errorf("insert media: %w", err)
	}

	if file.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	return nil
}

// FindBySHA256 implements Repository.FindBySHA256 using SQLite.
func (r *SQLiteRepository) FindBySHA256(ctx context.Context, sha256 string) (*domain.MediaFile, bool, error) {
	return r.findOne(ctx, "sha256 = ?", sha256)
}

// FindByUUID implements Repository.FindByUUID using SQLite.
func (r *SQLiteRepository) FindByUUID(ctx context.Context, uuid string) (*domain.MediaFile, bool, error) {
	return r.findOne(ctx, "uuid = ?", uuid)
}

// FindByPublicToken implements Repository.FindByPublicToken using SQLite.
func (r *SQLiteRepository) FindByPublicToken(ctx context.Context, token string) (*domain.MediaFile, bool, error) {
	return r.findOne(ctx, "public_token = ? AND is_public = 1", token)
}

func (r *SQLiteRepository) findOne(ctx context.Context, where string, arg any) (*domain.MediaFile, bool, error) {
	//nolint:gosec
	row := r.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media_files WHERE "+where, arg)

	file, err := scanMediaFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("query media: %w", err)
	}

	return file, true, nil
}

// List implements Repository.List using SQLite.
func (r *SQLiteRepository) List(ctx context.Context, afterID int64, limit int) ([]domain.MediaFile, error) {
	return r.query(ctx,
		"SELECT "+mediaColumns+" FROM media_files WHERE id > ? ORDER BY id LIMIT ?",
		afterID, limit,
	)
}

// ListCreatedBefore implements Repository.ListCreatedBefore using SQLite.
func (r *SQLiteRepository) ListCreatedBefore(
	ctx context.Context,
	cutoff time.Time,
	afterID int64,
	limit int,
) ([]domain.MediaFile, error) {
	return r.query(ctx,
		"SELECT "+mediaColumns+" FROM media_files WHERE created_at < ? AND id > ? ORDER BY id LIMIT ?",
		cutoff.UnixMilli(), afterID, limit,
	)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]domain.MediaFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query media: %w", err)
	}
	defer rows.Close()

	var files []domain.MediaFile

	for rows.Next() {
		file, err := scanMediaFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}

		files = append(files, *file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}

	return files, nil
}

// UpdateStatus implements Repository.UpdateStatus using SQLite.
func (r *SQLiteRepository) UpdateStatus(
	ctx context.Context,
	uuid string,
	status domain.MediaStatus,
	quarantinePath *string,
) error {
	return r.update(ctx,
		"UPDATE media_files SET status = ?, quarantine_path = ? WHERE uuid = ?",
		string(status), nullString(quarantinePath), uuid,
	)
}

// SetPublic implements Repository.SetPublic using SQLite.
func (r *SQLiteRepository) SetPublic(ctx context.Context, uuid string, public bool, token *string) error {
	return r.update(ctx,
		"UPDATE media_files SET is_public = ?, public_token = ? WHERE uuid = ?",
		public, nullString(token), uuid,
	)
}

func (r *SQLiteRepository) update(ctx context.Context, query string, args ...any) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update media: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return domain.ErrMediaNotFound
	}

	return nil
}

// Delete implements Repository.Delete using SQLite.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx, "DELETE FROM media_files WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}

	return nil
}

// TryClaim implements ClaimStore.TryClaim using SQLite. The upsert only
// overwrites a claim that expired or belongs to owner.
func (r *SQLiteRepository) TryClaim(ctx context.Context, sha256, owner string, ttl time.Duration) (bool, error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	now := time.Now()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO media_claims (sha256, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (sha256) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE media_claims.expires_at <= ? OR media_claims.owner = excluded.owner`,
		sha256, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert claim: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

// Release implements ClaimStore.Release using SQLite.
func (r *SQLiteRepository) Release(ctx context.Context, sha256, owner string) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM media_claims WHERE sha256 = ? AND owner = ?",
		sha256, owner,
	); err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}

	return nil
}

// Close implements Repository.Close by closing the database connection.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMediaFile(row scanner) (*domain.MediaFile, error) {
	var (
		file           domain.MediaFile
		uploadedBy     sql.NullString
		quarantinePath sql.NullString
		publicToken    sql.NullString
		status         string
		createdAt      int64
	)

	if err := row.Scan(
		&file.ID,
		&file.UUID,
		&file.DiskPath,
		&file.OriginalName,
		&file.MIMEType,
		&file.SizeBytes,
		&file.SHA256,
		&uploadedBy,
		&createdAt,
		&status,
		&quarantinePath,
		&file.IsPublic,
		&publicToken,
	); err != nil {
		return nil, err //nolint:wrapcheck
	}

	file.UploadedBy = stringPtr(uploadedBy)
	file.QuarantinePath = stringPtr(quarantinePath)
	file.PublicToken = stringPtr(publicToken)
	file.Status = domain.MediaStatus(status)
	file.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &file, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}

	return &value.String
}
