package domain

const (
	BatchKindOrder           = "order"
	BatchKindDigitalPurchase = "digital_purchase"

	ProviderStripe   = "stripe"
	ProviderPaystack = "paystack"

	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"

	// Batch payout statuses
	BatchStatusPending         = "pending"
	BatchStatusInitiated       = "initiated"
	BatchStatusCompleted       = "completed"
	BatchStatusPartiallyFailed = "partially_failed"

	// Ledger item payout statuses
	ItemStatusPending   = "pending"
	ItemStatusInitiated = "initiated"
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
	ItemStatusSkipped   = "skipped"

	// External payout status for batches that ended with at least one failed item.
	ExternalStatusFailed = "failed"
)

// ExternalPayoutStatus maps an internal batch status onto the status exposed to reporting.
func ExternalPayoutStatus(status string) string {
	if status == BatchStatusPartiallyFailed {
		return ExternalStatusFailed
	}
	return status
}

// IsKnownProvider reports whether payouts can be routed through provider.
func IsKnownProvider(provider string) bool {
	switch provider {
	case ProviderStripe, ProviderPaystack:
		return true
	default:
		return false
	}
}
