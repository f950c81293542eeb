// Package verifier wraps the WebAuthn attestation and assertion checks
// behind a boundary the ceremony orchestrator can drive with stateless
// challenge claims. Wire-format parsing and cryptographic verification are
// delegated entirely to github.com/go-webauthn/webauthn.
package verifier

import (
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jimmythecoder/passkeys/internal/auth/challenge"
	"github.com/jimmythecoder/passkeys/internal/auth/storage"
	"github.com/jimmythecoder/passkeys/internal/auth/user"
	apperrors "github.com/jimmythecoder/passkeys/internal/platform/errors"
)

// Device type labels recorded on credentials, from the WebAuthn backup
// eligibility flag.
const (
	DeviceTypeSingle = "singleDevice"
	DeviceTypeMulti  = "multiDevice"
)

// Registration is the verified outcome of a registration ceremony, ready to
// persist as a credential record.
type Registration struct {
	CredentialID     string
	PublicKey        []byte
	AttestationType  string
	AAGUID           []byte
	SignatureCounter uint32
	DeviceType       string
	BackedUp         bool
	Transports       []string
}

// Assertion is the verified outcome of an authentication ceremony.
type Assertion struct {
	CredentialID     string
	SignatureCounter uint32
	UserVerified     bool
}

// Verifier validates WebAuthn ceremony responses for a single relying party.
type Verifier struct {
	webAuthn *webauthn.WebAuthn
	rpID     string
}

// New builds a verifier for the configured relying party.
func New(cfg Config) (*Verifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Verifier{webAuthn: wa, rpID: cfg.RPID}, nil
}

// BeginRegistration generates credential creation options for the user. The
// returned challenge value is what the authenticator will sign; the caller
// wraps it with an expiry and embeds it in the session token. Existing
// credentials are excluded so an authenticator never re-registers itself.
func (v *Verifier) BeginRegistration(u user.User, credentials []storage.Credential) (*protocol.CredentialCreation, string, error) {
	waUser, err := newWebAuthnUser(u, credentials)
	if err != nil {
		return nil, "", err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := v.webAuthn.BeginRegistration(waUser, options...)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	return creation, sessionData.Challenge, nil
}

// FinishRegistration verifies an attestation response against the challenge
// the session token carried and returns the credential to persist.
func (v *Verifier) FinishRegistration(u user.User, ch challenge.Challenge, responseJSON []byte) (Registration, error) {
	waUser, err := newWebAuthnUser(u, nil)
	if err != nil {
		return Registration{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return Registration{}, apperrors.Wrap(apperrors.CodeValidation, "malformed credential creation response", err)
	}

	credential, err := v.webAuthn.CreateCredential(waUser, v.sessionData(u.ID, ch), parsed)
	if err != nil {
		return Registration{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "attestation verification failed", err)
	}

	deviceType := DeviceTypeSingle
	if credential.Flags.BackupEligible {
		deviceType = DeviceTypeMulti
	}
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}

	return Registration{
		CredentialID:     EncodeCredentialID(credential.ID),
		PublicKey:        credential.PublicKey,
		AttestationType:  credential.AttestationType,
		AAGUID:           credential.Authenticator.AAGUID,
		SignatureCounter: credential.Authenticator.SignCount,
		DeviceType:       deviceType,
		BackedUp:         credential.Flags.BackupState,
		Transports:       transports,
	}, nil
}

// BeginLogin generates assertion options bound to the user's registered
// credentials.
func (v *Verifier) BeginLogin(u user.User, credentials []storage.Credential) (*protocol.CredentialAssertion, string, error) {
	waUser, err := newWebAuthnUser(u, credentials)
	if err != nil {
		return nil, "", err
	}

	assertion, sessionData, err := v.webAuthn.BeginLogin(waUser)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	return assertion, sessionData.Challenge, nil
}

// FinishLogin verifies an assertion response for a known user.
func (v *Verifier) FinishLogin(u user.User, credentials []storage.Credential, ch challenge.Challenge, responseJSON []byte) (Assertion, error) {
	waUser, err := newWebAuthnUser(u, credentials)
	if err != nil {
		return Assertion{}, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return Assertion{}, apperrors.Wrap(apperrors.CodeValidation, "malformed credential assertion response", err)
	}

	credential, err := v.webAuthn.ValidateLogin(waUser, v.sessionData(u.ID, ch), parsed)
	if err != nil {
		return Assertion{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "assertion verification failed", err)
	}
	return newAssertion(credential), nil
}

// CredentialIDFromAssertion extracts the credential identifier from an
// assertion response without verifying it. The orchestrator uses it to
// check credential ownership before running signature verification.
func (v *Verifier) CredentialIDFromAssertion(responseJSON []byte) (string, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeValidation, "malformed credential assertion response", err)
	}
	if len(parsed.RawID) == 0 {
		return "", apperrors.New(apperrors.CodeValidation, "assertion response carries no credential id")
	}
	return EncodeCredentialID(parsed.RawID), nil
}

// sessionData reconstructs WebAuthn session state from the challenge claims
// the client carried. Nothing was stored server-side between ceremony steps.
func (v *Verifier) sessionData(userID string, ch challenge.Challenge) webauthn.SessionData {
	sessionData := webauthn.SessionData{
		Challenge:        ch.Value,
		RelyingPartyID:   v.rpID,
		Expires:          ch.ExpiresAt,
		UserVerification: protocol.VerificationPreferred,
	}
	if userID != "" {
		sessionData.UserID = []byte(userID)
	}
	for _, encoded := range ch.AllowedCredentialIDs {
		decoded, err := DecodeCredentialID(encoded)
		if err != nil {
			continue
		}
		sessionData.AllowedCredentialIDs = append(sessionData.AllowedCredentialIDs, decoded)
	}
	return sessionData
}

func newAssertion(credential *webauthn.Credential) Assertion {
	return Assertion{
		CredentialID:     EncodeCredentialID(credential.ID),
		SignatureCounter: credential.Authenticator.SignCount,
		UserVerified:     credential.Flags.UserVerified,
	}
}

// EncodeCredentialID renders a raw credential id in the URL-safe form used
// for storage keys and wire payloads.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCredentialID reverses EncodeCredentialID.
func DecodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}

// webAuthnUser adapts a user and their stored credentials to the interface
// the WebAuthn library drives.
type webAuthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func newWebAuthnUser(u user.User, credentials []storage.Credential) (*webAuthnUser, error) {
	decoded, err := decodeStoredCredentials(credentials)
	if err != nil {
		return nil, err
	}
	return &webAuthnUser{user: u, credentials: decoded}, nil
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.UserName
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		rawID, err := DecodeCredentialID(record.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("decode credential id %s: %w", record.CredentialID, err)
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
		for _, transport := range record.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(transport))
		}
		credentials = append(credentials, webauthn.Credential{
			ID:              rawID,
			PublicKey:       record.PublicKey,
			AttestationType: record.AttestationType,
			Transport:       transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: record.DeviceType == DeviceTypeMulti,
				BackupState:    record.BackedUp,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    record.AAGUID,
				SignCount: record.SignatureCounter,
			},
		})
	}
	return credentials, nil
}
