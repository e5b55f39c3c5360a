package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/seoulthread/api/internal/domain"
	pfirestore "github.com/seoulthread/api/internal/platform/firestore"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	usersCollection      = "users"
	userEmailsCollection = "userEmails"
)

type userDocument struct {
	Email        string    `firestore:"email"`
	EmailLower   string    `firestore:"emailLower"`
	PasswordHash string    `firestore:"passwordHash"`
	Name         string    `firestore:"name"`
	Phone        string    `firestore:"phone,omitempty"`
	Role         string    `firestore:"role"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// userEmailClaim reserves a lowercased email address. Creating the claim in
// the same transaction as the account write makes signup race-safe: the
// second writer hits AlreadyExists and surfaces a conflict.
type userEmailClaim struct {
	UserID    string    `firestore:"userId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// UserRepository persists accounts in Firestore. Email uniqueness rides on a
// marker document keyed by the lowercased address.
type UserRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.BaseRepository[userDocument]
	emails   *pfirestore.BaseRepository[userEmailClaim]
}

// NewUserRepository constructs a Firestore-backed account repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		provider: provider,
		users:    pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil),
		emails:   pfirestore.NewBaseRepository[userEmailClaim](provider, userEmailsCollection, nil, nil),
	}, nil
}

// Insert creates the account and claims its email address in one transaction.
// A taken address fails with a conflict.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}

	emailLower := strings.ToLower(strings.TrimSpace(user.Email))
	if emailLower == "" {
		return pfirestore.WrapError("users.insert", errors.New("email is required"))
	}

	userRef, err := r.users.DocumentRef(ctx, user.ID)
	if err != nil {
		return err
	}
	emailRef, err := r.emails.DocumentRef(ctx, emailLower)
	if err != nil {
		return err
	}
	claim := userEmailClaim{UserID: user.ID, ClaimedAt: user.CreatedAt}

	write := func(tx *firestore.Transaction) error {
		if err := tx.Create(emailRef, claim); err != nil {
			return err
		}
		return tx.Create(userRef, encodeUser(user))
	}

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("users.insert", write(tx))
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return write(tx)
	})
	return pfirestore.WrapError("users.insert", err)
}

// Update replaces the account document. Email changes are not supported here;
// the stored address stays authoritative.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	if _, err := r.FindByID(ctx, user.ID); err != nil {
		return err
	}
	ref, err := r.users.DocumentRef(ctx, user.ID)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, encodeUser(user))
	return pfirestore.WrapError("users.update", err)
}

// FindByID loads one account by id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, pfirestore.WrapError("users.get", status.Error(codes.NotFound, "user id is required"))
	}
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(doc.ID, doc.Data), nil
}

// FindByEmail loads one account by its lowercased email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.provider == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}

	emailLower := strings.ToLower(strings.TrimSpace(email))
	docs, err := r.users.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("emailLower", "==", emailLower).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.by_email", status.Error(codes.NotFound, "user not found"))
	}
	return decodeUser(docs[0].ID, docs[0].Data), nil
}

// List returns one page of accounts for the admin console, newest first.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.User]{}, errors.New("user repository not initialised")
	}

	pager := normalisePagination(filter.Pagination, defaultOrderPageSize, maxOrderPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.User]{}, err
	}

	base := client.Collection(usersCollection).Query
	if filter.Role != "" {
		base = base.Where("role", "==", string(filter.Role))
	}

	total, err := aggregateCount(ctx, base, "users.count")
	if err != nil {
		return domain.Page[domain.User]{}, err
	}

	query := base.OrderBy("createdAt", firestore.Desc).
		Offset(pager.Offset()).
		Limit(pager.PageSize)

	docs, err := r.users.Query(ctx, func(firestore.Query) firestore.Query { return query })
	if err != nil {
		return domain.Page[domain.User]{}, err
	}

	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, decodeUser(doc.ID, doc.Data))
	}

	return domain.Page[domain.User]{
		Items:      users,
		Page:       pager.Page,
		PageSize:   pager.PageSize,
		TotalCount: total,
		HasMore:    int64(pager.Offset()+len(users)) < total,
	}, nil
}

// CountCustomers counts accounts holding the customer role.
func (r *UserRepository) CountCustomers(ctx context.Context) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("user repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(usersCollection).Query.
		Where("role", "==", string(domain.RoleCustomer))
	return aggregateCount(ctx, query, "users.count_customers")
}

// CountCustomersCreatedIn counts customer accounts registered inside
// [Start, End).
func (r *UserRepository) CountCustomersCreatedIn(ctx context.Context, window repositories.SalesWindow) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("user repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(usersCollection).Query.
		Where("role", "==", string(domain.RoleCustomer)).
		Where("createdAt", ">=", window.Start).
		Where("createdAt", "<", window.End)
	return aggregateCount(ctx, query, "users.count_customers_created_in")
}

func encodeUser(user domain.User) userDocument {
	email := strings.TrimSpace(user.Email)
	return userDocument{
		Email:        email,
		EmailLower:   strings.ToLower(email),
		PasswordHash: user.PasswordHash,
		Name:         strings.TrimSpace(user.Name),
		Phone:        strings.TrimSpace(user.Phone),
		Role:         string(user.Role),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}

func decodeUser(id string, doc userDocument) domain.User {
	return domain.User{
		ID:           id,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		Name:         doc.Name,
		Phone:        doc.Phone,
		Role:         domain.Role(doc.Role),
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
