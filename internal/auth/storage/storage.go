// Package storage defines persistence contracts for users and credentials.
package storage

import (
	"context"
	"time"

	"github.com/jimmythecoder/passkeys/internal/auth/user"
	"github.com/jimmythecoder/passkeys/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates a uniqueness constraint violation. The store's
// unique user_name and credential_id constraints are the only concurrency
// control this system relies on: concurrent ceremonies race between lookup
// and write, and the constraint violation at write time is the authoritative
// verdict.
var ErrAlreadyExists = errors.New(errors.CodeAlreadyExists, "record already exists")

// UserStore persists account records.
type UserStore interface {
	// CreateUser persists a new user. Returns ErrAlreadyExists when the
	// user name is taken.
	CreateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUserName(ctx context.Context, userName string) (user.User, error)
	// IncrementFailedAttempts bumps the failed login counter and returns the
	// new value.
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	// DeleteUser removes a user record. Used to compensate a failed
	// credential write during registration.
	DeleteUser(ctx context.Context, userID string) error
}

// Credential stores a registered authenticator for a user.
type Credential struct {
	CredentialID     string
	UserID           string
	Name             string
	PublicKey        []byte
	AttestationType  string
	AAGUID           []byte
	SignatureCounter uint32
	DeviceType       string
	BackedUp         bool
	Transports       []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastUsedAt       *time.Time
}

// CredentialStore persists registered authenticators.
type CredentialStore interface {
	// CreateCredential persists a new credential. Returns ErrAlreadyExists
	// when the credential id is taken, across all users.
	CreateCredential(ctx context.Context, credential Credential) error
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// FindCredentialByIDs returns the first stored credential matching any of
	// the given ids, or ErrNotFound.
	FindCredentialByIDs(ctx context.Context, credentialIDs []string) (Credential, error)
	// UpdateSignatureCounter records the counter observed on a successful
	// authentication and stamps last use.
	UpdateSignatureCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error
}
