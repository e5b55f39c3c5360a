package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntentAPI struct {
	intent *stripe.PaymentIntent
	err    error
	lastID string
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func TestStripeProviderLookupChargeSucceeded(t *testing.T) {
	created := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	api := &fakeIntentAPI{
		intent: &stripe.PaymentIntent{
			ID:       "pi_123",
			Amount:   28000,
			Currency: "krw",
			Status:   stripe.PaymentIntentStatusSucceeded,
			LatestCharge: &stripe.Charge{
				Paid:    true,
				Created: created.Unix(),
			},
		},
	}

	provider, err := NewStripeProvider(StripeProviderConfig{Intents: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	details, err := provider.LookupCharge(context.Background(), " pi_123 ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if api.lastID != "pi_123" {
		t.Fatalf("transaction id not trimmed: %q", api.lastID)
	}
	if details.Status != StatusSucceeded || details.Amount != 28000 || details.Currency != "KRW" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.PaidAt == nil || !details.PaidAt.Equal(created) {
		t.Fatalf("paidAt not derived from the charge: %v", details.PaidAt)
	}
}

func TestStripeProviderLookupChargeRefunded(t *testing.T) {
	api := &fakeIntentAPI{
		intent: &stripe.PaymentIntent{
			ID:     "pi_123",
			Amount: 28000,
			Status: stripe.PaymentIntentStatusSucceeded,
			LatestCharge: &stripe.Charge{
				Paid:           true,
				Amount:         28000,
				AmountRefunded: 28000,
				Refunded:       true,
			},
		},
	}

	provider, err := NewStripeProvider(StripeProviderConfig{Intents: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	details, err := provider.LookupCharge(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Status != StatusRefunded {
		t.Fatalf("expected refunded status, got %q", details.Status)
	}
}

func TestStripeProviderLookupChargeMissing(t *testing.T) {
	api := &fakeIntentAPI{
		err: &stripe.Error{Code: stripe.ErrorCodeResourceMissing},
	}

	provider, err := NewStripeProvider(StripeProviderConfig{Intents: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if _, err := provider.LookupCharge(context.Background(), "pi_gone"); !errors.Is(err, ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestStripeProviderLookupChargeEmptyID(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{Intents: &fakeIntentAPI{}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	if _, err := provider.LookupCharge(context.Background(), "  "); !errors.Is(err, ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestNewStripeProviderRequiresKeyOrAPI(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
