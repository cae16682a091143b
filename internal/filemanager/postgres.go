package filemanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserFiles is the Postgres-backed UserFileRepository, grounded on
// internal/ledger's pgxpool query idiom.
type PostgresUserFiles struct {
	pool *pgxpool.Pool
}

// NewPostgresUserFiles builds a PostgresUserFiles backed by pool.
func NewPostgresUserFiles(pool *pgxpool.Pool) *PostgresUserFiles {
	return &PostgresUserFiles{pool: pool}
}

// Init creates the user_files table if it does not already exist.
func (r *PostgresUserFiles) Init(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_files (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    filename TEXT NOT NULL,
    mime_type TEXT NOT NULL DEFAULT '',
    file_size INT NOT NULL DEFAULT 0,
    file_type TEXT NOT NULL DEFAULT '',
    claude_file_id TEXT NOT NULL DEFAULT '',
    telegram_file_id TEXT NOT NULL DEFAULT '',
    telegram_file_unique_id TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_user_files_claude_file_id ON user_files (claude_file_id) WHERE claude_file_id <> '';
CREATE INDEX IF NOT EXISTS idx_user_files_telegram_file_id ON user_files (telegram_file_id) WHERE telegram_file_id <> '';
`)
	if err != nil {
		return fmt.Errorf("filemanager: init user_files: %w", err)
	}
	return nil
}

const userFileColumns = `filename, mime_type, file_size, file_type, claude_file_id, telegram_file_id, telegram_file_unique_id`

func scanUserFile(row pgx.Row) (UserFile, error) {
	var uf UserFile
	err := row.Scan(&uf.Filename, &uf.MimeType, &uf.FileSize, &uf.FileType, &uf.ClaudeFileID, &uf.TelegramFileID, &uf.TelegramFileUniqueID)
	return uf, err
}

// GetByClaudeFileID implements UserFileRepository.
func (r *PostgresUserFiles) GetByClaudeFileID(ctx context.Context, claudeFileID string) (UserFile, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userFileColumns+` FROM user_files WHERE claude_file_id = $1 ORDER BY id DESC LIMIT 1`, claudeFileID)
	uf, err := scanUserFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserFile{}, false, nil
	}
	if err != nil {
		return UserFile{}, false, fmt.Errorf("filemanager: get by claude_file_id: %w", err)
	}
	return uf, true, nil
}

// GetByTelegramFileID implements UserFileRepository.
func (r *PostgresUserFiles) GetByTelegramFileID(ctx context.Context, telegramFileID string) (UserFile, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userFileColumns+` FROM user_files WHERE telegram_file_id = $1 ORDER BY id DESC LIMIT 1`, telegramFileID)
	uf, err := scanUserFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserFile{}, false, nil
	}
	if err != nil {
		return UserFile{}, false, fmt.Errorf("filemanager: get by telegram_file_id: %w", err)
	}
	return uf, true, nil
}

// Record inserts a new user_files row, e.g. after an upload to the files API
// or a tool-generated attachment. ttl is the files-API retention window
// (spec's FilesAPITTLHours); zero means the row never expires.
func (r *PostgresUserFiles) Record(ctx context.Context, userID int64, uf UserFile, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO user_files (user_id, filename, mime_type, file_size, file_type, claude_file_id, telegram_file_id, telegram_file_unique_id, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		userID, uf.Filename, uf.MimeType, uf.FileSize, uf.FileType, uf.ClaudeFileID, uf.TelegramFileID, uf.TelegramFileUniqueID, expiresAt)
	if err != nil {
		return fmt.Errorf("filemanager: record user file: %w", err)
	}
	return nil
}
