// Package ceremony drives the two-phase registration and authentication
// protocol. The orchestrator holds no state between requests: every ceremony
// step reads the claims carried by the client's session token and returns
// the claims the next token must carry.
package ceremony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jimmythecoder/passkeys/internal/auth/challenge"
	"github.com/jimmythecoder/passkeys/internal/auth/session"
	"github.com/jimmythecoder/passkeys/internal/auth/storage"
	"github.com/jimmythecoder/passkeys/internal/auth/user"
	"github.com/jimmythecoder/passkeys/internal/auth/verifier"
	apperrors "github.com/jimmythecoder/passkeys/internal/platform/errors"
	"github.com/jimmythecoder/passkeys/internal/platform/id"
)

// DefaultAuthenticatorName labels a credential when the client offers none.
const DefaultAuthenticatorName = "Passkey"

var (
	// ErrUserAlreadyExists indicates the user name is taken.
	ErrUserAlreadyExists = apperrors.New(apperrors.CodeUserAlreadyExists, "user name is already registered")
	// ErrUserNotFound indicates no account matches.
	ErrUserNotFound = apperrors.New(apperrors.CodeUserNotFound, "user not found")
	// ErrNoPendingUser indicates a verify step with no ceremony in flight.
	ErrNoPendingUser = apperrors.New(apperrors.CodeUserNotFound, "no pending user in session")
	// ErrAuthenticatorNotFound indicates no registered credential matches.
	ErrAuthenticatorNotFound = apperrors.New(apperrors.CodeAuthenticatorNotFound, "no registered authenticator matches")
	// ErrAuthenticatorAlreadyExists indicates the credential id is taken.
	ErrAuthenticatorAlreadyExists = apperrors.New(apperrors.CodeAuthenticatorAlreadyExists, "authenticator is already registered")
	// ErrAuthenticatorMismatch indicates a credential owned by another user.
	ErrAuthenticatorMismatch = apperrors.New(apperrors.CodeAuthenticatorMismatch, "credential does not belong to the pending user")
	// ErrUserLocked indicates too many failed attempts.
	ErrUserLocked = apperrors.New(apperrors.CodeUserLocked, "account is locked after too many failed attempts")
	// ErrChallengeMissing indicates a verify step without a usable challenge.
	// A replayed session token fails here: the first verify consumed the
	// challenge by rotating the token.
	ErrChallengeMissing = apperrors.New(apperrors.CodeChallengeInvalid, "session challenge is missing or expired")
	// ErrCounterRegression indicates a signature counter that did not
	// strictly increase, a signal of a possibly cloned credential.
	ErrCounterRegression = apperrors.New(apperrors.CodeVerificationFailed, "signature counter did not increase")
)

// Verifier is the WebAuthn boundary the orchestrator drives.
type Verifier interface {
	BeginRegistration(u user.User, credentials []storage.Credential) (*protocol.CredentialCreation, string, error)
	FinishRegistration(u user.User, ch challenge.Challenge, responseJSON []byte) (verifier.Registration, error)
	BeginLogin(u user.User, credentials []storage.Credential) (*protocol.CredentialAssertion, string, error)
	FinishLogin(u user.User, credentials []storage.Credential, ch challenge.Challenge, responseJSON []byte) (verifier.Assertion, error)
	CredentialIDFromAssertion(responseJSON []byte) (string, error)
}

var _ Verifier = (*verifier.Verifier)(nil)

// Config wires the orchestrator's collaborators.
type Config struct {
	Users        storage.UserStore
	Credentials  storage.CredentialStore
	Verifier     Verifier
	ChallengeTTL time.Duration
	Clock        func() time.Time
	IDGenerator  func() (string, error)
}

// Orchestrator executes ceremony steps. It performs no locking of its own:
// the store's uniqueness constraints are the only concurrency control.
type Orchestrator struct {
	users        storage.UserStore
	credentials  storage.CredentialStore
	verifier     Verifier
	challengeTTL time.Duration
	clock        func() time.Time
	idGenerator  func() (string, error)
}

// New validates the configuration and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = challenge.DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	return &Orchestrator{
		users:        cfg.Users,
		credentials:  cfg.Credentials,
		verifier:     cfg.Verifier,
		challengeTTL: cfg.ChallengeTTL,
		clock:        cfg.Clock,
		idGenerator:  cfg.IDGenerator,
	}, nil
}

// BeginRegistration starts a registration ceremony for a new account. The
// candidate user is not persisted; it travels in the returned claims and is
// written only after the attestation response verifies.
func (o *Orchestrator) BeginRegistration(ctx context.Context, userName, displayName string) (*protocol.CredentialCreation, session.Claims, error) {
	candidate, err := user.CreateUser(user.CreateUserInput{
		UserName:    userName,
		DisplayName: displayName,
	}, o.clock, o.idGenerator)
	if err != nil {
		return nil, session.Claims{}, err
	}

	_, err = o.users.GetUserByUserName(ctx, candidate.UserName)
	switch {
	case err == nil:
		return nil, session.Claims{}, ErrUserAlreadyExists
	case !errors.Is(err, storage.ErrNotFound):
		return nil, session.Claims{}, fmt.Errorf("look up user name: %w", err)
	}

	creation, challengeValue, err := o.verifier.BeginRegistration(candidate, nil)
	if err != nil {
		return nil, session.Claims{}, fmt.Errorf("begin registration ceremony: %w", err)
	}

	ch := challenge.New(challengeValue, o.clock(), o.challengeTTL, nil)
	claims := session.Claims{
		PendingUser: &session.PendingUser{
			ID:          candidate.ID,
			UserName:    candidate.UserName,
			DisplayName: candidate.DisplayName,
			Roles:       candidate.Roles,
		},
		Challenge: &ch,
	}
	return creation, claims, nil
}

// FinishRegistration verifies the attestation response and persists the user
// with their first credential. The challenge is cleared from the returned
// claims before anything else happens, so every exit path consumes it.
func (o *Orchestrator) FinishRegistration(ctx context.Context, claims session.Claims, responseJSON []byte, authenticatorName string) (user.User, session.Claims, error) {
	next := claims
	next.Challenge = nil

	if claims.PendingUser == nil || claims.PendingUser.ID == "" {
		return user.User{}, next, ErrNoPendingUser
	}
	if claims.PendingUser.UserName == "" {
		return user.User{}, next, apperrors.New(apperrors.CodeValidation, "session does not carry a registration ceremony")
	}
	if claims.Challenge == nil || !claims.Challenge.Valid(o.clock()) {
		return user.User{}, next, ErrChallengeMissing
	}

	candidate := user.User{
		ID:          claims.PendingUser.ID,
		UserName:    claims.PendingUser.UserName,
		DisplayName: claims.PendingUser.DisplayName,
		Roles:       claims.PendingUser.Roles,
	}

	registration, err := o.verifier.FinishRegistration(candidate, *claims.Challenge, responseJSON)
	if err != nil {
		return user.User{}, next, err
	}

	now := o.clock().UTC()
	candidate.IsVerified = true
	candidate.CreatedAt = now
	candidate.UpdatedAt = now
	if err := o.users.CreateUser(ctx, candidate); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return user.User{}, next, ErrUserAlreadyExists
		}
		return user.User{}, next, fmt.Errorf("create user: %w", err)
	}

	name := strings.TrimSpace(authenticatorName)
	if name == "" {
		name = DefaultAuthenticatorName
	}
	credential := storage.Credential{
		CredentialID:     registration.CredentialID,
		UserID:           candidate.ID,
		Name:             name,
		PublicKey:        registration.PublicKey,
		AttestationType:  registration.AttestationType,
		AAGUID:           registration.AAGUID,
		SignatureCounter: registration.SignatureCounter,
		DeviceType:       registration.DeviceType,
		BackedUp:         registration.BackedUp,
		Transports:       registration.Transports,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.credentials.CreateCredential(ctx, credential); err != nil {
		// Compensate the user write so a retry does not hit UserAlreadyExists.
		_ = o.users.DeleteUser(ctx, candidate.ID)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return user.User{}, next, ErrAuthenticatorAlreadyExists
		}
		return user.User{}, next, fmt.Errorf("create credential: %w", err)
	}

	next = session.Claims{
		Subject:  candidate.ID,
		Roles:    candidate.Roles,
		SignedIn: true,
	}
	return candidate, next, nil
}

// BeginAuthentication starts an authentication ceremony for a known user
// name. Lockout is enforced here and only here; a ceremony already in
// flight is allowed to finish.
func (o *Orchestrator) BeginAuthentication(ctx context.Context, userName string) (*protocol.CredentialAssertion, session.Claims, error) {
	normalized := strings.ToLower(strings.TrimSpace(userName))
	if normalized == "" {
		return nil, session.Claims{}, apperrors.New(apperrors.CodeValidation, "user name is required")
	}

	u, err := o.users.GetUserByUserName(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, session.Claims{}, ErrUserNotFound
		}
		return nil, session.Claims{}, fmt.Errorf("look up user: %w", err)
	}
	return o.beginLogin(ctx, u)
}

// BeginAuthenticationByCredentials starts an authentication ceremony from
// credential identifiers the client discovered, resolving the owning user
// without requiring the user name up front.
func (o *Orchestrator) BeginAuthenticationByCredentials(ctx context.Context, credentialIDs []string) (*protocol.CredentialAssertion, session.Claims, error) {
	ids := make([]string, 0, len(credentialIDs))
	for _, credentialID := range credentialIDs {
		if trimmed := strings.TrimSpace(credentialID); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil, session.Claims{}, apperrors.New(apperrors.CodeValidation, "at least one credential id is required")
	}

	credential, err := o.credentials.FindCredentialByIDs(ctx, ids)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, session.Claims{}, ErrAuthenticatorNotFound
		}
		return nil, session.Claims{}, fmt.Errorf("look up credential: %w", err)
	}

	u, err := o.users.GetUser(ctx, credential.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, session.Claims{}, ErrUserNotFound
		}
		return nil, session.Claims{}, fmt.Errorf("look up user: %w", err)
	}
	return o.beginLogin(ctx, u)
}

func (o *Orchestrator) beginLogin(ctx context.Context, u user.User) (*protocol.CredentialAssertion, session.Claims, error) {
	credentials, err := o.credentials.ListCredentialsByUser(ctx, u.ID)
	if err != nil {
		return nil, session.Claims{}, fmt.Errorf("list credentials: %w", err)
	}
	if len(credentials) == 0 {
		return nil, session.Claims{}, ErrAuthenticatorNotFound
	}
	if u.IsLocked() {
		return nil, session.Claims{}, ErrUserLocked
	}

	assertion, challengeValue, err := o.verifier.BeginLogin(u, credentials)
	if err != nil {
		return nil, session.Claims{}, fmt.Errorf("begin authentication ceremony: %w", err)
	}

	allowed := make([]string, 0, len(credentials))
	for _, credential := range credentials {
		allowed = append(allowed, credential.CredentialID)
	}
	ch := challenge.New(challengeValue, o.clock(), o.challengeTTL, allowed)
	claims := session.Claims{
		PendingUser: &session.PendingUser{ID: u.ID},
		Challenge:   &ch,
	}
	return assertion, claims, nil
}

// FinishAuthentication verifies the assertion response for the pending
// user. Failed verification increments the failed-attempt counter; success
// resets it and records the new signature counter, which must strictly
// exceed the stored one. The challenge is cleared on every exit path.
func (o *Orchestrator) FinishAuthentication(ctx context.Context, claims session.Claims, responseJSON []byte) (user.User, session.Claims, error) {
	next := claims
	next.Challenge = nil

	if claims.PendingUser == nil || claims.PendingUser.ID == "" {
		return user.User{}, next, ErrNoPendingUser
	}
	if claims.Challenge == nil || !claims.Challenge.Valid(o.clock()) {
		return user.User{}, next, ErrChallengeMissing
	}

	credentialID, err := o.verifier.CredentialIDFromAssertion(responseJSON)
	if err != nil {
		return user.User{}, next, err
	}

	u, err := o.users.GetUser(ctx, claims.PendingUser.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, next, ErrUserNotFound
		}
		return user.User{}, next, fmt.Errorf("look up user: %w", err)
	}

	credentials, err := o.credentials.ListCredentialsByUser(ctx, u.ID)
	if err != nil {
		return user.User{}, next, fmt.Errorf("list credentials: %w", err)
	}
	stored, owned := findCredential(credentials, credentialID)
	if !owned || !claims.Challenge.Allows(credentialID) {
		return user.User{}, next, ErrAuthenticatorMismatch
	}

	assertion, err := o.verifier.FinishLogin(u, credentials, *claims.Challenge, responseJSON)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeVerificationFailed {
			o.recordFailedAttempt(ctx, u.ID)
		}
		return user.User{}, next, err
	}

	if assertion.SignatureCounter <= stored.SignatureCounter {
		o.recordFailedAttempt(ctx, u.ID)
		return user.User{}, next, ErrCounterRegression
	}

	if err := o.users.ResetFailedAttempts(ctx, u.ID); err != nil {
		return user.User{}, next, fmt.Errorf("reset failed attempts: %w", err)
	}
	if err := o.credentials.UpdateSignatureCounter(ctx, credentialID, assertion.SignatureCounter, o.clock().UTC()); err != nil {
		return user.User{}, next, fmt.Errorf("update signature counter: %w", err)
	}
	u.FailedLoginAttempts = 0

	next = session.Claims{
		Subject:  u.ID,
		Roles:    u.Roles,
		SignedIn: true,
	}
	return u, next, nil
}

// SignOut terminates the session. The boundary clears the cookie; the
// returned claims are empty so any token issued from them is anonymous.
func (o *Orchestrator) SignOut(session.Claims) session.Claims {
	return session.Claims{}
}

// recordFailedAttempt is best effort: the caller already holds a
// verification failure to surface, and a lockout that crosses the threshold
// here is only enforced on the next begin step.
func (o *Orchestrator) recordFailedAttempt(ctx context.Context, userID string) {
	_, _ = o.users.IncrementFailedAttempts(ctx, userID)
}

func findCredential(credentials []storage.Credential, credentialID string) (storage.Credential, bool) {
	for _, credential := range credentials {
		if credential.CredentialID == credentialID {
			return credential, true
		}
	}
	return storage.Credential{}, false
}
