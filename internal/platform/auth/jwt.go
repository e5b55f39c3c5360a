package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the provided bearer token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the JWT payload issued at login and verified on every request.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier resolves a bearer credential to its decoded claims.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}

// TokenIssuer mints signed bearer tokens for authenticated users.
type TokenIssuer interface {
	IssueToken(ctx context.Context, userID, email, role string) (string, time.Time, error)
}

// JWTCodec issues and verifies HS256 tokens with a shared signing key.
type JWTCodec struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// JWTOption customises JWTCodec construction.
type JWTOption func(*JWTCodec)

// WithTokenTTL overrides the default token lifetime.
func WithTokenTTL(ttl time.Duration) JWTOption {
	return func(c *JWTCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithIssuer sets the iss claim stamped on issued tokens.
func WithIssuer(issuer string) JWTOption {
	return func(c *JWTCodec) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock injects the time source (primarily for tests).
func WithClock(now func() time.Time) JWTOption {
	return func(c *JWTCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWTCodec constructs a codec from the shared HS256 signing key.
func NewJWTCodec(signingKey string, opts ...JWTOption) (*JWTCodec, error) {
	key := strings.TrimSpace(signingKey)
	if key == "" {
		return nil, errors.New("auth: signing key is required")
	}

	codec := &JWTCodec{
		key:    []byte(key),
		issuer: "seoulthread",
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(codec)
		}
	}
	return codec, nil
}

// IssueToken mints a signed token carrying the user id, email, and role.
func (c *JWTCodec) IssueToken(_ context.Context, userID, email, role string) (string, time.Time, error) {
	if c == nil {
		return "", time.Time{}, errors.New("auth: codec not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}

	now := c.now().UTC()
	expiresAt := now.Add(c.ttl)
	claims := Claims{
		Email: strings.TrimSpace(email),
		Role:  strings.ToLower(strings.TrimSpace(role)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a bearer token, returning its claims.
func (c *JWTCodec) VerifyToken(_ context.Context, tokenStr string) (*Claims, error) {
	if c == nil {
		return nil, ErrTokenInvalid
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

var _ TokenVerifier = (*JWTCodec)(nil)
var _ TokenIssuer = (*JWTCodec)(nil)
