package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	userIDPrefix = "usr_"

	minPasswordLength = 8
	maxPasswordLength = 72
	maxUserNameLength = 100
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid account data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserUnauthorized indicates the credentials did not match.
	ErrUserUnauthorized = errors.New("user: unauthorized")
	// ErrUserConflict indicates the email address is already registered.
	ErrUserConflict = errors.New("user: conflict")
)

// UserServiceDeps bundles collaborators required to construct the user service.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Tokens      auth.TokenIssuer
	Clock       func() time.Time
	IDGenerator func() string
	HashCost    int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users    repositories.UserRepository
	tokens   auth.TokenIssuer
	clock    func() time.Time
	newID    func() string
	hashCost int
	logger   func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service: token issuer is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	cost := deps.HashCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:    deps.Users,
		tokens:   deps.Tokens,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		hashCost: cost,
		logger:   logger,
	}, nil
}

func (s *userService) SignUp(ctx context.Context, cmd SignUpCommand) (AuthSession, error) {
	email, err := normaliseEmail(cmd.Email)
	if err != nil {
		return AuthSession{}, err
	}
	if err := validatePassword(cmd.Password); err != nil {
		return AuthSession{}, err
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" || len(name) > maxUserNameLength {
		return AuthSession{}, fmt.Errorf("%w: name is required and at most %d characters", ErrUserInvalidInput, maxUserNameLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.hashCost)
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: hash password: %w", err)
	}

	now := s.clock()
	user := User{
		ID:           userIDPrefix + s.newID(),
		Email:        email,
		Name:         name,
		Phone:        strings.TrimSpace(cmd.Phone),
		Role:         domain.RoleCustomer,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Insert(ctx, user); err != nil {
		return AuthSession{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "user.signup", map[string]any{"user": user.ID})

	return s.issueSession(ctx, user)
}

func (s *userService) Login(ctx context.Context, cmd LoginCommand) (AuthSession, error) {
	email, err := normaliseEmail(cmd.Email)
	if err != nil {
		return AuthSession{}, err
	}
	if strings.TrimSpace(cmd.Password) == "" {
		return AuthSession{}, fmt.Errorf("%w: password is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			// Indistinguishable from a wrong password on purpose.
			return AuthSession{}, fmt.Errorf("%w: invalid credentials", ErrUserUnauthorized)
		}
		return AuthSession{}, s.mapRepositoryError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)); err != nil {
		return AuthSession{}, fmt.Errorf("%w: invalid credentials", ErrUserUnauthorized)
	}

	return s.issueSession(ctx, user)
}

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, filter UserListFilter) (domain.Page[User], error) {
	role := domain.Role(strings.TrimSpace(filter.Role))
	if role != "" && !role.Valid() {
		return domain.Page[User]{}, fmt.Errorf("%w: unknown role %q", ErrUserInvalidInput, filter.Role)
	}

	page, err := s.users.List(ctx, repositories.UserListFilter{
		Role:       role,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.Page[User]{}, s.mapRepositoryError(err)
	}

	for i := range page.Items {
		page.Items[i].PasswordHash = ""
	}
	return page, nil
}

func (s *userService) issueSession(ctx context.Context, user User) (AuthSession, error) {
	token, expiresAt, err := s.tokens.IssueToken(ctx, user.ID, user.Email, string(user.Role))
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: issue token: %w", err)
	}
	user.PasswordHash = ""
	return AuthSession{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: email is already registered", ErrUserConflict)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}

	return err
}

func normaliseEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrUserInvalidInput)
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", fmt.Errorf("%w: malformed email address", ErrUserInvalidInput)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrUserInvalidInput, maxPasswordLength)
	}
	return nil
}
