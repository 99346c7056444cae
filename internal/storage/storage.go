package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoCredential is returned when an operation requires a stored
	// credential and none exists.
	ErrNoCredential = errors.New("no credential stored")
)

// Credential is the single stored CRM connection: the bearer tokens from the
// authorization-code exchange plus the instance URL all API calls are issued
// against. At most one credential exists at a time.
type Credential struct {
	ID           int64
	AccessToken  string
	RefreshToken string
	InstanceURL  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore defines durable persistence for the connection credential.
type CredentialStore interface {
	// Replace atomically clears any existing credential and inserts the new
	// one, returning the new row's id.
	Replace(ctx context.Context, accessToken, refreshToken, instanceURL string) (int64, error)
	// Current returns the stored credential, or ErrNoCredential if the store
	// is empty.
	Current(ctx context.Context) (*Credential, error)
	// UpdateAccessToken mutates only the access token (and updated_at) of the
	// row matching id. The refresh token and instance URL are untouched.
	UpdateAccessToken(ctx context.Context, id int64, accessToken string) error
	// Clear deletes all credentials. Idempotent.
	Clear(ctx context.Context) error
	// Exists reports whether a credential is stored.
	Exists(ctx context.Context) (bool, error)
}
