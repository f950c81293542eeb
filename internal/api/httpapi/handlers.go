// Package httpapi maps HTTP requests and the session cookie onto ceremony
// orchestrator calls. The boundary is deliberately thin: every request
// reconstructs session state from the incoming cookie and every response
// that changes claims carries a fresh cookie.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jimmythecoder/passkeys/internal/auth/session"
	"github.com/jimmythecoder/passkeys/internal/auth/user"
	apperrors "github.com/jimmythecoder/passkeys/internal/platform/errors"
)

// Ceremonies is the orchestrator surface the boundary drives.
type Ceremonies interface {
	BeginRegistration(ctx context.Context, userName, displayName string) (*protocol.CredentialCreation, session.Claims, error)
	FinishRegistration(ctx context.Context, claims session.Claims, responseJSON []byte, authenticatorName string) (user.User, session.Claims, error)
	BeginAuthentication(ctx context.Context, userName string) (*protocol.CredentialAssertion, session.Claims, error)
	BeginAuthenticationByCredentials(ctx context.Context, credentialIDs []string) (*protocol.CredentialAssertion, session.Claims, error)
	FinishAuthentication(ctx context.Context, claims session.Claims, responseJSON []byte) (user.User, session.Claims, error)
	SignOut(claims session.Claims) session.Claims
}

// Handler serves the passkey authentication API.
type Handler struct {
	ceremonies Ceremonies
	codec      *session.Codec
	cookies    CookieConfig
	now        func() time.Time
}

// NewHandler wires the boundary.
func NewHandler(ceremonies Ceremonies, codec *session.Codec, cookies CookieConfig, now func() time.Time) (*Handler, error) {
	if ceremonies == nil {
		return nil, fmt.Errorf("ceremony orchestrator is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("session codec is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Handler{ceremonies: ceremonies, codec: codec, cookies: cookies, now: now}, nil
}

// Register mounts the API routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/auth/register", Chain(http.HandlerFunc(h.beginRegistration), RequireMethod(http.MethodPost)))
	mux.Handle("/api/auth/register/verify", Chain(http.HandlerFunc(h.verifyRegistration), RequireMethod(http.MethodPost)))
	mux.Handle("/api/auth/signin", Chain(http.HandlerFunc(h.beginSignIn), RequireMethod(http.MethodPost)))
	mux.Handle("/api/auth/signin/conditional-ui", Chain(http.HandlerFunc(h.beginConditionalSignIn), RequireMethod(http.MethodPost)))
	mux.Handle("/api/auth/signin/verify", Chain(http.HandlerFunc(h.verifySignIn), RequireMethod(http.MethodPost)))
	mux.Handle("/api/auth/signout", Chain(http.HandlerFunc(h.signOut), RequireMethod(http.MethodPost)))
	mux.Handle("/api/auth/session", Chain(http.HandlerFunc(h.session), RequireMethod(http.MethodGet)))
	mux.Handle("/api/health", Chain(http.HandlerFunc(h.health), RequireMethod(http.MethodGet)))
}

type registerRequest struct {
	UserName    string `json:"user_name"`
	DisplayName string `json:"display_name"`
}

type signInRequest struct {
	UserName string `json:"user_name"`
}

type conditionalSignInRequest struct {
	CredentialIDs []string `json:"credential_ids"`
}

type verifyRequest struct {
	Response          json.RawMessage `json:"response"`
	AuthenticatorName string          `json:"authenticator_name"`
}

type userView struct {
	ID          string   `json:"id"`
	UserName    string   `json:"user_name"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	IsVerified  bool     `json:"is_verified"`
}

type sessionView struct {
	SignedIn  bool      `json:"signed_in"`
	UserID    string    `json:"user_id,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type authResponse struct {
	User    userView    `json:"user"`
	Session sessionView `json:"session"`
}

func newUserView(u user.User) userView {
	return userView{
		ID:          u.ID,
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		Roles:       u.Roles,
		IsVerified:  u.IsVerified,
	}
}

func (h *Handler) beginRegistration(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteProblem(w, err)
		return
	}

	creation, claims, err := h.ceremonies.BeginRegistration(r.Context(), req.UserName, req.DisplayName)
	if err != nil {
		WriteProblem(w, err)
		return
	}
	if _, err := h.setSession(w, claims); err != nil {
		WriteProblem(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, creation)
}

func (h *Handler) verifyRegistration(w http.ResponseWriter, r *http.Request) {
	claims := h.claimsFromRequest(r)
	req, err := decodeVerifyRequest(r)
	if err != nil {
		WriteProblem(w, err)
		return
	}

	created, next, ceremonyErr := h.ceremonies.FinishRegistration(r.Context(), claims, req.Response, req.AuthenticatorName)
	expiresAt, err := h.setSession(w, next)
	if err != nil {
		WriteProblem(w, err)
		return
	}
	if ceremonyErr != nil {
		WriteProblem(w, ceremonyErr)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, authResponse{
		User:    newUserView(created),
		Session: sessionView{SignedIn: true, UserID: created.ID, Roles: created.Roles, ExpiresAt: expiresAt},
	})
}

func (h *Handler) beginSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteProblem(w, err)
		return
	}

	assertion, claims, err := h.ceremonies.BeginAuthentication(r.Context(), req.UserName)
	if err != nil {
		WriteProblem(w, err)
		return
	}
	if _, err := h.setSession(w, claims); err != nil {
		WriteProblem(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, assertion)
}

func (h *Handler) beginConditionalSignIn(w http.ResponseWriter, r *http.Request) {
	var req conditionalSignInRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteProblem(w, err)
		return
	}

	assertion, claims, err := h.ceremonies.BeginAuthenticationByCredentials(r.Context(), req.CredentialIDs)
	if err != nil {
		WriteProblem(w, err)
		return
	}
	if _, err := h.setSession(w, claims); err != nil {
		WriteProblem(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, assertion)
}

func (h *Handler) verifySignIn(w http.ResponseWriter, r *http.Request) {
	claims := h.claimsFromRequest(r)
	req, err := decodeVerifyRequest(r)
	if err != nil {
		WriteProblem(w, err)
		return
	}

	signedIn, next, ceremonyErr := h.ceremonies.FinishAuthentication(r.Context(), claims, req.Response)
	expiresAt, err := h.setSession(w, next)
	if err != nil {
		WriteProblem(w, err)
		return
	}
	if ceremonyErr != nil {
		WriteProblem(w, ceremonyErr)
		return
	}
	_ = WriteJSON(w, http.StatusOK, authResponse{
		User:    newUserView(signedIn),
		Session: sessionView{SignedIn: true, UserID: signedIn.ID, Roles: signedIn.Roles, ExpiresAt: expiresAt},
	})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	claims := h.claimsFromRequest(r)
	_ = h.ceremonies.SignOut(claims)
	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	claims := h.claimsFromRequest(r)
	if !claims.SignedIn {
		WriteProblem(w, apperrors.New(apperrors.CodeSessionNotFound, "no active session"))
		return
	}
	_ = WriteJSON(w, http.StatusOK, sessionView{SignedIn: true, UserID: claims.Subject, Roles: claims.Roles})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// claimsFromRequest reconstructs session state from the cookie. Any
// verification failure degrades to an anonymous session, never an error.
func (h *Handler) claimsFromRequest(r *http.Request) session.Claims {
	token, ok := h.cookies.Read(r)
	if !ok {
		return session.Claims{}
	}
	claims, err := h.codec.Verify(token)
	if err != nil {
		return session.Claims{}
	}
	return claims
}

// setSession issues a token for the claims and mirrors it in the cookie.
// Anonymous claims clear the cookie instead of carrying an empty token.
func (h *Handler) setSession(w http.ResponseWriter, claims session.Claims) (time.Time, error) {
	if claims.Anonymous() {
		h.cookies.Clear(w)
		return time.Time{}, nil
	}
	token, expiresAt, err := h.codec.Issue(claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("issue session token: %w", err)
	}
	h.cookies.Write(w, token, expiresAt, h.now())
	return expiresAt, nil
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperrors.New(apperrors.CodeValidation, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "malformed request body", err)
	}
	return nil
}

func decodeVerifyRequest(r *http.Request) (verifyRequest, error) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		return verifyRequest{}, err
	}
	if len(req.Response) == 0 {
		return verifyRequest{}, apperrors.New(apperrors.CodeValidation, "credential response is required")
	}
	return req, nil
}
