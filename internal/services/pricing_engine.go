package services

import (
	domain "github.com/seoulthread/api/internal/domain"
)

// Default fee schedule, in KRW.
const (
	DefaultShippingFlatFee       int64 = 3000
	DefaultFreeShippingThreshold int64 = 50000
)

// PricingEngine computes the monetary breakdown of an order on the server.
// Client-submitted totals are never consulted.
type PricingEngine struct {
	flatFee   int64
	threshold int64
}

// PricingEngineConfig overrides the default fee schedule. Zero values keep
// the defaults.
type PricingEngineConfig struct {
	ShippingFlatFee       int64
	FreeShippingThreshold int64
}

// NewPricingEngine constructs a pricing engine with the given fee schedule.
func NewPricingEngine(cfg PricingEngineConfig) *PricingEngine {
	flatFee := cfg.ShippingFlatFee
	if flatFee <= 0 {
		flatFee = DefaultShippingFlatFee
	}
	threshold := cfg.FreeShippingThreshold
	if threshold <= 0 {
		threshold = DefaultFreeShippingThreshold
	}
	return &PricingEngine{flatFee: flatFee, threshold: threshold}
}

// Quote prices an order whose item subtotals sum to totalAmount. Shipping is
// the flat fee, waived at the free-shipping threshold and for store pickup.
func (e *PricingEngine) Quote(totalAmount int64, channel domain.FulfilmentChannel) PricingQuote {
	fee := e.flatFee
	free := false
	if channel == domain.FulfilmentPickup || totalAmount >= e.threshold {
		fee = 0
		free = true
	}

	var discount int64

	return PricingQuote{
		TotalAmount:    totalAmount,
		ShippingFee:    fee,
		DiscountAmount: discount,
		FinalAmount:    totalAmount + fee - discount,
		FreeShipping:   free,
	}
}
