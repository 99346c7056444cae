package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements CredentialStore on a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps an open database handle. Call Migrate before use.
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// Open opens (or creates) the SQLite database at path with pool settings
// suited to sqlite's single-writer model.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path cannot be empty", ErrInvalidInput)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; a small pool avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Replace atomically removes any existing credential and inserts the new one.
// The delete+insert pair runs in a transaction so readers never observe zero
// or two credentials.
func (s *SQLiteStorage) Replace(ctx context.Context, accessToken, refreshToken, instanceURL string) (int64, error) {
	if err := validateCredentialInput(accessToken, refreshToken, instanceURL); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return 0, fmt.Errorf("failed to clear credentials: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO credentials (access_token, refresh_token, instance_url)
		VALUES (?, ?, ?)
	`, accessToken, refreshToken, instanceURL)
	if err != nil {
		return 0, fmt.Errorf("failed to insert credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted credential id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit credential replace: %w", err)
	}
	return id, nil
}

// Current returns the most recently created credential.
func (s *SQLiteStorage) Current(ctx context.Context) (*Credential, error) {
	cred := &Credential{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, access_token, refresh_token, instance_url, created_at, updated_at
		FROM credentials
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(
		&cred.ID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.InstanceURL,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// UpdateAccessToken replaces the access token on the row matching id.
func (s *SQLiteStorage) UpdateAccessToken(ctx context.Context, id int64, accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET access_token = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, accessToken, id)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNoCredential
	}
	return nil
}

// Clear deletes all stored credentials.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Exists reports whether a credential is stored.
func (s *SQLiteStorage) Exists(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count credentials: %w", err)
	}
	return count > 0, nil
}

func validateCredentialInput(accessToken, refreshToken, instanceURL string) error {
	if accessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}
	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token cannot be empty", ErrInvalidInput)
	}
	if instanceURL == "" {
		return fmt.Errorf("%w: instance URL cannot be empty", ErrInvalidInput)
	}
	return nil
}
