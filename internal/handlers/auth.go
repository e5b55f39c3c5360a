package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/httpx"
	"github.com/seoulthread/api/internal/services"
)

const maxAuthBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds limit")
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// AuthHandlers exposes signup, login, and the authenticated profile endpoint.
// Credential endpoints are rate limited per client address.
type AuthHandlers struct {
	authn   *auth.Authenticator
	users   services.UserService
	limiter rateLimiter
}

// NewAuthHandlers wires the account endpoints with their dependencies.
func NewAuthHandlers(authn *auth.Authenticator, users services.UserService) *AuthHandlers {
	return &AuthHandlers{
		authn:   authn,
		users:   users,
		limiter: newSimpleRateLimiter(loginRateLimit, loginRateWindow, nil),
	}
}

// Routes registers the /auth endpoints on the provided router.
func (h *AuthHandlers) Routes(r chi.Router) {
	r.Post("/signup", h.handleSignUp)
	r.Post("/login", h.handleLogin)
	r.With(h.authn.RequireAuth()).Get("/me", h.handleMe)
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at"`
	User      userPayload `json:"user"`
}

type userResponse struct {
	User userPayload `json:"user"`
}

type userPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func (h *AuthHandlers) handleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many attempts, retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req signUpRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	session, err := h.users.SignUp(ctx, services.SignUpCommand{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildSessionResponse(session))
}

func (h *AuthHandlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many attempts, retry later", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxAuthBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	session, err := h.users.Login(ctx, services.LoginCommand{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSessionResponse(session))
}

func (h *AuthHandlers) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	user, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(user)})
}

func buildSessionResponse(session services.AuthSession) sessionResponse {
	return sessionResponse{
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		User:      buildUserPayload(session.User),
	}
}

func buildUserPayload(user services.User) userPayload {
	return userPayload{
		ID:        strings.TrimSpace(user.ID),
		Email:     strings.TrimSpace(user.Email),
		Name:      strings.TrimSpace(user.Name),
		Phone:     strings.TrimSpace(user.Phone),
		Role:      strings.TrimSpace(string(user.Role)),
		CreatedAt: formatTime(user.CreatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password is incorrect", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserConflict):
		httpx.WriteError(ctx, w, httpx.NewError("user_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process account request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxAuthBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func clientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
