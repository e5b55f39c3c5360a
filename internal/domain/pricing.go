package domain

// PricingQuote captures the server-computed monetary breakdown of an order.
// FinalAmount always equals TotalAmount + ShippingFee - DiscountAmount;
// callers persist the quote as-is and never edit the fields independently.
type PricingQuote struct {
	TotalAmount    int64
	ShippingFee    int64
	DiscountAmount int64
	FinalAmount    int64
	FreeShipping   bool
}
