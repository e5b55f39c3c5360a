package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/repositories"
)

type stubUserRepository struct {
	insertFunc                  func(ctx context.Context, user domain.User) error
	updateFunc                  func(ctx context.Context, user domain.User) error
	findByIDFunc                func(ctx context.Context, userID string) (domain.User, error)
	findByEmailFunc             func(ctx context.Context, email string) (domain.User, error)
	listFunc                    func(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error)
	countCustomersFunc          func(ctx context.Context) (int64, error)
	countCustomersCreatedInFunc func(ctx context.Context, window repositories.SalesWindow) (int64, error)
}

func (s *stubUserRepository) Insert(ctx context.Context, user domain.User) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, user)
	}
	return errStubNotImplemented
}

func (s *stubUserRepository) Update(ctx context.Context, user domain.User) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, user)
	}
	return errStubNotImplemented
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, userID)
	}
	return domain.User{}, errStubNotImplemented
}

func (s *stubUserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if s.findByEmailFunc != nil {
		return s.findByEmailFunc(ctx, email)
	}
	return domain.User{}, errStubNotImplemented
}

func (s *stubUserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.Page[domain.User]{}, errStubNotImplemented
}

func (s *stubUserRepository) CountCustomers(ctx context.Context) (int64, error) {
	if s.countCustomersFunc != nil {
		return s.countCustomersFunc(ctx)
	}
	return 0, errStubNotImplemented
}

func (s *stubUserRepository) CountCustomersCreatedIn(ctx context.Context, window repositories.SalesWindow) (int64, error) {
	if s.countCustomersCreatedInFunc != nil {
		return s.countCustomersCreatedInFunc(ctx, window)
	}
	return 0, errStubNotImplemented
}

type stubTokenIssuer struct {
	token     string
	expiresAt time.Time
	err       error
	lastUID   string
	lastRole  string
}

func (s *stubTokenIssuer) IssueToken(ctx context.Context, userID, email, role string) (string, time.Time, error) {
	s.lastUID = userID
	s.lastRole = role
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return s.token, s.expiresAt, nil
}

func newTestUserService(t *testing.T, users *stubUserRepository, tokens *stubTokenIssuer, clock func() time.Time) UserService {
	t.Helper()
	if tokens == nil {
		tokens = &stubTokenIssuer{token: "jwt"}
	}
	svc, err := NewUserService(UserServiceDeps{
		Users:       users,
		Tokens:      tokens,
		Clock:       clock,
		IDGenerator: func() string { return "01HUSER" },
		HashCost:    bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	return svc
}

func TestUserSignUpCreatesCustomerAccount(t *testing.T) {
	now := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)

	var inserted domain.User
	users := &stubUserRepository{
		insertFunc: func(ctx context.Context, user domain.User) error {
			inserted = user
			return nil
		},
	}
	tokens := &stubTokenIssuer{token: "jwt-token", expiresAt: expires}

	svc := newTestUserService(t, users, tokens, fixedClock(now))

	session, err := svc.SignUp(context.Background(), SignUpCommand{
		Email:    "jiwoo@example.com",
		Password: "correct horse",
		Name:     "  Kim Jiwoo  ",
		Phone:    "010-1234-5678",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if inserted.ID != "usr_01HUSER" || inserted.Role != domain.RoleCustomer {
		t.Fatalf("unexpected account: %+v", inserted)
	}
	if inserted.Name != "Kim Jiwoo" {
		t.Fatalf("name not trimmed: %q", inserted.Name)
	}
	if inserted.PasswordHash == "" || inserted.PasswordHash == "correct horse" {
		t.Fatalf("password stored without hashing")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(inserted.PasswordHash), []byte("correct horse")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	if session.Token != "jwt-token" || !session.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.User.PasswordHash != "" {
		t.Fatalf("password hash leaked in session")
	}
	if tokens.lastUID != "usr_01HUSER" || tokens.lastRole != "customer" {
		t.Fatalf("token minted for wrong subject: %q/%q", tokens.lastUID, tokens.lastRole)
	}
}

func TestUserSignUpValidation(t *testing.T) {
	svc := newTestUserService(t, &stubUserRepository{}, nil, nil)

	cases := []struct {
		name string
		cmd  SignUpCommand
	}{
		{name: "missing email", cmd: SignUpCommand{Password: "longenough", Name: "Kim"}},
		{name: "malformed email", cmd: SignUpCommand{Email: "not-an-email", Password: "longenough", Name: "Kim"}},
		{name: "short password", cmd: SignUpCommand{Email: "a@example.com", Password: "short", Name: "Kim"}},
		{name: "missing name", cmd: SignUpCommand{Email: "a@example.com", Password: "longenough"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SignUp(context.Background(), tc.cmd); !errors.Is(err, ErrUserInvalidInput) {
				t.Fatalf("expected ErrUserInvalidInput, got %v", err)
			}
		})
	}
}

func TestUserSignUpDuplicateEmail(t *testing.T) {
	users := &stubUserRepository{
		insertFunc: func(ctx context.Context, user domain.User) error {
			return repositoryErrorStub{conflict: true}
		},
	}
	svc := newTestUserService(t, users, nil, nil)

	_, err := svc.SignUp(context.Background(), SignUpCommand{
		Email:    "a@example.com",
		Password: "longenough",
		Name:     "Kim",
	})
	if !errors.Is(err, ErrUserConflict) {
		t.Fatalf("expected ErrUserConflict, got %v", err)
	}
}

func TestUserLoginSuccess(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	users := &stubUserRepository{
		findByEmailFunc: func(ctx context.Context, email string) (domain.User, error) {
			if email != "jiwoo@example.com" {
				t.Fatalf("unexpected email %q", email)
			}
			return domain.User{
				ID:           "usr_1",
				Email:        email,
				Role:         domain.RoleCustomer,
				PasswordHash: string(hash),
			}, nil
		},
	}
	svc := newTestUserService(t, users, &stubTokenIssuer{token: "jwt-token"}, nil)

	session, err := svc.Login(context.Background(), LoginCommand{
		Email:    "jiwoo@example.com",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Token != "jwt-token" || session.User.ID != "usr_1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.User.PasswordHash != "" {
		t.Fatalf("password hash leaked in session")
	}
}

func TestUserLoginFailuresAreIndistinguishable(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	unknown := &stubUserRepository{
		findByEmailFunc: func(ctx context.Context, email string) (domain.User, error) {
			return domain.User{}, repositoryErrorStub{notFound: true}
		},
	}
	wrongPassword := &stubUserRepository{
		findByEmailFunc: func(ctx context.Context, email string) (domain.User, error) {
			return domain.User{ID: "usr_1", PasswordHash: string(hash)}, nil
		},
	}

	for name, users := range map[string]*stubUserRepository{
		"unknown account": unknown,
		"wrong password":  wrongPassword,
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestUserService(t, users, nil, nil)
			_, err := svc.Login(context.Background(), LoginCommand{
				Email:    "jiwoo@example.com",
				Password: "wrong guess",
			})
			if !errors.Is(err, ErrUserUnauthorized) {
				t.Fatalf("expected ErrUserUnauthorized, got %v", err)
			}
		})
	}
}

func TestUserGetProfileStripsHash(t *testing.T) {
	users := &stubUserRepository{
		findByIDFunc: func(ctx context.Context, userID string) (domain.User, error) {
			return domain.User{ID: userID, Name: "Kim", PasswordHash: "secret"}, nil
		},
	}
	svc := newTestUserService(t, users, nil, nil)

	user, err := svc.GetProfile(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if user.PasswordHash != "" {
		t.Fatalf("password hash leaked from profile")
	}
}

func TestUserGetProfileUnknownAccount(t *testing.T) {
	users := &stubUserRepository{
		findByIDFunc: func(ctx context.Context, userID string) (domain.User, error) {
			return domain.User{}, repositoryErrorStub{notFound: true}
		},
	}
	svc := newTestUserService(t, users, nil, nil)

	if _, err := svc.GetProfile(context.Background(), "usr_missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserListUsersFiltersByRole(t *testing.T) {
	users := &stubUserRepository{
		listFunc: func(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error) {
			if filter.Role != domain.RoleAdmin {
				t.Fatalf("unexpected role filter %q", filter.Role)
			}
			return domain.Page[domain.User]{
				Items: []domain.User{{ID: "usr_admin", PasswordHash: "secret"}},
			}, nil
		},
	}
	svc := newTestUserService(t, users, nil, nil)

	page, err := svc.ListUsers(context.Background(), UserListFilter{Role: "admin"})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].PasswordHash != "" {
		t.Fatalf("hash not stripped from listing: %+v", page.Items)
	}
}

func TestUserListUsersRejectsUnknownRole(t *testing.T) {
	svc := newTestUserService(t, &stubUserRepository{}, nil, nil)

	if _, err := svc.ListUsers(context.Background(), UserListFilter{Role: "superuser"}); !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput, got %v", err)
	}
}
