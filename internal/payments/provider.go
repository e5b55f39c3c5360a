package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised charge states shared across providers.
type Status string

const (
	// StatusPending indicates the charge is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the charge as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the charge has been refunded.
	StatusRefunded Status = "refunded"
)

var (
	// ErrChargeNotFound is returned when the PSP has no record of the transaction.
	ErrChargeNotFound = errors.New("payments: charge not found")
	// ErrChargeNotSettled is returned when the PSP reports the charge as not captured.
	ErrChargeNotSettled = errors.New("payments: charge not settled")
	// ErrAmountMismatch is returned when the settled amount differs from the order total.
	ErrAmountMismatch = errors.New("payments: amount mismatch")
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
)

// ChargeDetails normalises PSP specific fields for reconciliation.
type ChargeDetails struct {
	Provider      string
	TransactionID string
	Status        Status
	Amount        int64
	Currency      string
	PaidAt        *time.Time
	Raw           map[string]any
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	LookupCharge(ctx context.Context, transactionID string) (ChargeDetails, error)
}

// Manager routes store payment methods to PSP adapters and verifies gateway
// confirmations before an order is marked paid. Methods without a route are
// trusted as-is; bank transfers have no gateway record to check.
type Manager struct {
	providers    map[string]Provider
	methodRoutes map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithMethodRoutes configures static payment-method to provider mappings.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
		}
	}
}

// NewManager constructs a Manager over the supplied providers. When a stripe
// provider is registered, card payments route to it by default.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}

	m := &Manager{providers: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.methodRoutes = map[string]string{"card": "stripe"}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(method string) (Provider, bool) {
	if m == nil || len(m.providers) == 0 {
		return nil, false
	}
	key, ok := m.methodRoutes[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		return nil, false
	}
	provider, ok := m.providers[key]
	return provider, ok
}

// VerifyCharge checks the gateway's record of the transaction against the
// expected order total. Methods without a registered route verify trivially.
func (m *Manager) VerifyCharge(ctx context.Context, method string, transactionID string, expectedAmount int64) error {
	provider, ok := m.resolveProvider(method)
	if !ok {
		return nil
	}

	details, err := provider.LookupCharge(ctx, strings.TrimSpace(transactionID))
	if err != nil {
		return err
	}
	if details.Status != StatusSucceeded {
		return fmt.Errorf("%w: status %s", ErrChargeNotSettled, details.Status)
	}
	if details.Amount != expectedAmount {
		return fmt.Errorf("%w: gateway settled %d, order total %d", ErrAmountMismatch, details.Amount, expectedAmount)
	}
	return nil
}

// LookupCharge fetches the gateway record for a transaction via the routed
// provider.
func (m *Manager) LookupCharge(ctx context.Context, method string, transactionID string) (ChargeDetails, error) {
	provider, ok := m.resolveProvider(method)
	if !ok {
		return ChargeDetails{}, ErrUnsupportedProvider
	}
	return provider.LookupCharge(ctx, strings.TrimSpace(transactionID))
}
