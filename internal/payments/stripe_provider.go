package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Intents   stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface using Stripe APIs.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// LookupCharge retrieves a Stripe Payment Intent for reconciliation.
func (p *StripeProvider) LookupCharge(ctx context.Context, transactionID string) (ChargeDetails, error) {
	if p == nil {
		return ChargeDetails{}, errors.New("stripe: provider is nil")
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return ChargeDetails{}, fmt.Errorf("%w: empty transaction id", ErrChargeNotFound)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	intent, err := p.intents.Get(transactionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ChargeDetails{}, fmt.Errorf("%w: %s", ErrChargeNotFound, transactionID)
		}
		return ChargeDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	details := stripeChargeDetails(intent)
	p.logger(ctx, "payments.stripe.intent.lookup", map[string]any{
		"paymentIntent": details.TransactionID,
		"status":        string(details.Status),
	})
	return details, nil
}

func stripeChargeDetails(intent *stripe.PaymentIntent) ChargeDetails {
	if intent == nil {
		return ChargeDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var paidAt *time.Time
	if charge := intent.LatestCharge; charge != nil {
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			paidAt = &t
		}
		if charge.Refunded || (charge.AmountRefunded >= charge.Amount && charge.Amount > 0) {
			status = StatusRefunded
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return ChargeDetails{
		Provider:      "stripe",
		TransactionID: intent.ID,
		Status:        status,
		Amount:        intent.Amount,
		Currency:      currency,
		PaidAt:        paidAt,
		Raw:           raw,
	}
}
