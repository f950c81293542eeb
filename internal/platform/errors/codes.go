// Package errors provides structured error handling with HTTP status mapping.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidation Code = "VALIDATION_ERROR"

	// User errors
	CodeUserNotFound      Code = "USER_NOT_FOUND"
	CodeUserAlreadyExists Code = "USER_ALREADY_EXISTS"
	CodeUserLocked        Code = "USER_ACCOUNT_LOCKED"

	// Authenticator errors
	CodeAuthenticatorNotFound      Code = "AUTHENTICATOR_NOT_FOUND"
	CodeAuthenticatorAlreadyExists Code = "AUTHENTICATOR_ALREADY_EXISTS"
	CodeAuthenticatorMismatch      Code = "AUTHENTICATOR_MISMATCH"

	// Ceremony errors
	CodeChallengeInvalid   Code = "CHALLENGE_ERROR"
	CodeVerificationFailed Code = "VERIFICATION_ERROR"

	// Session errors
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodeTokenInvalid          Code = "TOKEN_INVALID"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeTokenIssuerMismatch   Code = "TOKEN_ISSUER_MISMATCH"
	CodeTokenAudienceMismatch Code = "TOKEN_AUDIENCE_MISMATCH"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// UnprocessableEntity - validation and verification failures
	case CodeValidation,
		CodeVerificationFailed,
		CodeAuthenticatorMismatch:
		return http.StatusUnprocessableEntity

	// NotFound - resource doesn't exist
	case CodeUserNotFound,
		CodeAuthenticatorNotFound,
		CodeNotFound:
		return http.StatusNotFound

	// Conflict - uniqueness violations
	case CodeUserAlreadyExists,
		CodeAuthenticatorAlreadyExists,
		CodeAlreadyExists:
		return http.StatusConflict

	// Forbidden - challenge missing or expired
	case CodeChallengeInvalid:
		return http.StatusForbidden

	// Unauthorized - locked accounts and session failures
	case CodeUserLocked,
		CodeUnauthorized,
		CodeSessionNotFound,
		CodeTokenInvalid,
		CodeTokenExpired,
		CodeTokenIssuerMismatch,
		CodeTokenAudienceMismatch:
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}
