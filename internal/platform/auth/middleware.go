package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultVerifyTimeout = 5 * time.Second

// authError carries the HTTP response for a failed authentication attempt.
type authError struct {
	status  int
	code    string
	message string
}

// Authenticator wires bearer-token verification into HTTP middleware.
type Authenticator struct {
	verifier TokenVerifier

	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithFallbackRole sets the default role when the token carries no role claim.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds how long token verification may take.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		fallbackRole: RoleCustomer,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and, when roles are
// listed, rejects identities holding none of them. With no roles listed any
// authenticated identity passes.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := a.authenticate(r)
			if failure == nil && len(allowed) > 0 && !identity.hasAnyRole(allowed) {
				failure = &authError{http.StatusForbidden, "insufficient_role", "identity does not have required role"}
			}
			if failure != nil {
				writeAuthError(w, *failure)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// authenticate turns the request's bearer token into an Identity.
func (a *Authenticator) authenticate(r *http.Request) (*Identity, *authError) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, &authError{http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid"}
	}
	if a == nil || a.verifier == nil {
		return nil, &authError{http.StatusUnauthorized, "unauthenticated", "authorization service unavailable"}
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	claims, err := a.verifier.VerifyToken(ctx, token)
	if err != nil {
		return nil, verificationError(err)
	}

	identity := &Identity{
		UID:    claims.Subject,
		Email:  strings.TrimSpace(claims.Email),
		claims: claims,
	}
	switch role := normaliseRole(claims.Role); {
	case role != "":
		identity.Roles = []string{role}
	case a.fallbackRole != "":
		identity.Roles = []string{a.fallbackRole}
	default:
		return nil, &authError{http.StatusUnauthorized, "missing_role", "no roles associated with identity"}
	}
	return identity, nil
}

func verificationError(err error) *authError {
	code := "invalid_token"
	message := "bearer token verification failed"
	switch {
	case errors.Is(err, ErrTokenExpired):
		code, message = "token_expired", "bearer token expired"
	case errors.Is(err, ErrTokenInvalid):
		message = "bearer token invalid"
	}
	return &authError{http.StatusUnauthorized, code, message}
}

func (i *Identity) hasAnyRole(allowed map[string]struct{}) bool {
	if i == nil {
		return false
	}
	for _, role := range i.Roles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// bearerToken extracts the credential from an "Authorization: Bearer x" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, failure authError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(failure.status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   failure.code,
		"message": failure.message,
		"status":  failure.status,
	})
}
