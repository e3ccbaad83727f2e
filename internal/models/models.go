package models

import (
	"time"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/google/uuid"
)

// Recipient is an author or publisher that receives payouts.
type Recipient struct {
	ID                    uuid.UUID `json:"id"`
	DisplayName           string    `json:"display_name"`
	StripeAccountID       *string   `json:"stripe_account_id,omitempty"`
	PaystackRecipientCode *string   `json:"paystack_recipient_code,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ProviderIdentity returns the destination identifier for the given provider.
func (r Recipient) ProviderIdentity(provider string) string {
	var v *string
	switch provider {
	case domain.ProviderStripe:
		v = r.StripeAccountID
	case domain.ProviderPaystack:
		v = r.PaystackRecipientCode
	}
	if v == nil {
		return ""
	}
	return *v
}

type BatchView struct {
	ID                       uuid.UUID  `json:"id"`
	Kind                     string     `json:"kind"`
	Provider                 string     `json:"provider"`
	Currency                 string     `json:"currency"`
	TotalAmount              string     `json:"total_amount"`
	PlatformFeeAmount        string     `json:"platform_fee_amount"`
	PayoutStatus             string     `json:"payout_status"`
	PayoutStatusDetail       string     `json:"payout_status_detail"`
	PaymentStatus            string     `json:"payment_status"`
	ExternalPaymentReference string     `json:"external_payment_reference"`
	Items                    []ItemView `json:"items"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

type ItemView struct {
	ID                 uuid.UUID `json:"id"`
	RecipientID        uuid.UUID `json:"recipient_id"`
	Quantity           int64     `json:"quantity"`
	UnitPrice          string    `json:"unit_price"`
	AuthorPayoutAmount string    `json:"author_payout_amount"`
	PlatformFeeAmount  string    `json:"platform_fee_amount"`
	PayoutStatus       string    `json:"payout_status"`
	PayoutError        *string   `json:"payout_error,omitempty"`
	ProviderTransferID *string   `json:"provider_transfer_id,omitempty"`
	Attempt            int32     `json:"attempt"`
	Retryable          bool      `json:"retryable"`
}

// AuditEntry is one immutable row of the audit trail.
type AuditEntry struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  *string    `json:"prev_state,omitempty"`
	NextState  *string    `json:"next_state,omitempty"`
	Metadata   *string    `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
