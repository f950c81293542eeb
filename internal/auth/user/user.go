// Package user provides account records and the lockout policy.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/jimmythecoder/passkeys/internal/platform/errors"
	"github.com/jimmythecoder/passkeys/internal/platform/id"
)

// LockoutThreshold is the failed-attempt count at which an account locks.
const LockoutThreshold = 5

var (
	// ErrEmptyUserName indicates a missing user name.
	ErrEmptyUserName = apperrors.New(apperrors.CodeValidation, "user name is required")
	// ErrEmptyDisplayName indicates a missing display name.
	ErrEmptyDisplayName = apperrors.New(apperrors.CodeValidation, "display name is required")
	// ErrInvalidUserName indicates a user name that does not match the required format.
	ErrInvalidUserName = apperrors.New(apperrors.CodeValidation, "user name must be 3-254 printable characters without spaces")

	userNamePattern = regexp.MustCompile(`^[^\s]{3,254}$`)
)

// User represents an account that authenticates with passkey credentials.
type User struct {
	ID                  string
	UserName            string
	DisplayName         string
	Roles               []string
	IsVerified          bool
	FailedLoginAttempts int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is locked out of authentication.
func (u User) IsLocked() bool {
	return Locked(u.FailedLoginAttempts)
}

// Locked is the lockout policy: an account locks once failed attempts reach
// the threshold. There is no time-based decay; only a successful
// verification resets the counter.
func Locked(failedLoginAttempts int) bool {
	return failedLoginAttempts >= LockoutThreshold
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	UserName    string
	DisplayName string
	Roles       []string
}

// ValidateUserName enforces canonical user name constraints. User names are
// commonly email addresses but any compact printable token is accepted.
func ValidateUserName(s string) error {
	if !userNamePattern.MatchString(s) {
		return ErrInvalidUserName
	}
	return nil
}

// CreateUser creates a candidate user identity from validated input.
//
// The record is not persisted here: registration persists it only after the
// attestation response verifies.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	roles := normalized.Roles
	if len(roles) == 0 {
		roles = []string{"user"}
	}

	createdAt := now().UTC()
	return User{
		ID:          userID,
		UserName:    normalized.UserName,
		DisplayName: normalized.DisplayName,
		Roles:       roles,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.UserName = strings.ToLower(strings.TrimSpace(input.UserName))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.UserName == "" {
		return CreateUserInput{}, ErrEmptyUserName
	}
	if input.DisplayName == "" {
		return CreateUserInput{}, ErrEmptyDisplayName
	}
	if err := ValidateUserName(input.UserName); err != nil {
		return CreateUserInput{}, err
	}
	return input, nil
}
