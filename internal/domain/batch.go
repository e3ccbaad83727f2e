package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnknownBatchKind = errors.New("unknown batch kind")

// LedgerItem is one line of a batch with its own payout state.
type LedgerItem struct {
	ID                 uuid.UUID
	BatchID            uuid.UUID
	RecipientID        uuid.UUID
	Quantity           int64
	UnitPrice          decimal.Decimal
	Currency           string
	AuthorPayoutAmount decimal.Decimal
	PlatformFeeAmount  decimal.Decimal
	PayoutStatus       string
	PayoutError        *string
	ProviderTransferID *string
	// Attempt is bumped every time a failed item is put back in the queue.
	Attempt   int32
	Retryable bool
	// ClaimToken identifies the run that moved the item to initiated.
	ClaimToken string
	ClaimedAt  *time.Time
}

// IsTerminal reports whether the item needs no further payout work.
func (i *LedgerItem) IsTerminal() bool {
	switch i.PayoutStatus {
	case ItemStatusCompleted, ItemStatusSkipped:
		return true
	case ItemStatusFailed:
		return !i.Retryable
	default:
		return false
	}
}

// IsStaleClaim reports whether an initiated item was claimed before cutoff.
func (i *LedgerItem) IsStaleClaim(cutoff time.Time) bool {
	if i.PayoutStatus != ItemStatusInitiated {
		return false
	}
	return i.ClaimedAt == nil || i.ClaimedAt.Before(cutoff)
}

// BatchRecord is the persisted state shared by every kind of batch.
type BatchRecord struct {
	ID                       uuid.UUID
	Kind                     string
	Provider                 string
	Currency                 string
	TotalAmount              decimal.Decimal
	PlatformFeeAmount        decimal.Decimal
	PayoutStatus             string
	PaymentStatus            string
	ExternalPaymentReference string
	Items                    []*LedgerItem
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Item returns the item with the given id, or nil.
func (b *BatchRecord) Item(id uuid.UUID) *LedgerItem {
	for _, item := range b.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// AllTerminal reports whether no item in the batch needs payout work.
func (b *BatchRecord) AllTerminal() bool {
	for _, item := range b.Items {
		if !item.IsTerminal() {
			return false
		}
	}
	return true
}

// InFlight reports whether any item is still pending or initiated.
func (b *BatchRecord) InFlight() bool {
	for _, item := range b.Items {
		if item.PayoutStatus == ItemStatusPending || item.PayoutStatus == ItemStatusInitiated {
			return true
		}
	}
	return false
}

// HasFailures reports whether any item ended in failed.
func (b *BatchRecord) HasFailures() bool {
	for _, item := range b.Items {
		if item.PayoutStatus == ItemStatusFailed {
			return true
		}
	}
	return false
}

// PlatformFeeTotal sums the platform fee of every item, skipped ones included.
func (b *BatchRecord) PlatformFeeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.Items {
		total = total.Add(item.PlatformFeeAmount)
	}
	return total
}

// SplitPolicy holds the author revenue share for each kind of batch.
type SplitPolicy struct {
	OrderShareRatio   decimal.Decimal
	DigitalShareRatio decimal.Decimal
}

// DefaultSplitPolicy pays authors 70% of orders and 80% of digital purchases.
func DefaultSplitPolicy() SplitPolicy {
	return SplitPolicy{
		OrderShareRatio:   decimal.RequireFromString("0.70"),
		DigitalShareRatio: decimal.RequireFromString("0.80"),
	}
}

// Validate checks both ratios.
func (p SplitPolicy) Validate() error {
	if err := ValidateShareRatio(p.OrderShareRatio); err != nil {
		return fmt.Errorf("order share ratio: %w", err)
	}
	if err := ValidateShareRatio(p.DigitalShareRatio); err != nil {
		return fmt.Errorf("digital share ratio: %w", err)
	}
	return nil
}

// Batch is a checkout event whose items are paid out to their recipients.
type Batch interface {
	Record() *BatchRecord
	Items() []*LedgerItem
	Kind() string
	// LineTotal is the revenue a single item contributes, in major units.
	LineTotal(item *LedgerItem) decimal.Decimal
	ShareRatio(policy SplitPolicy) decimal.Decimal
}

// Order is a physical book order; each line may carry several copies.
type Order struct {
	*BatchRecord
}

func (o *Order) Record() *BatchRecord { return o.BatchRecord }
func (o *Order) Items() []*LedgerItem { return o.BatchRecord.Items }
func (o *Order) Kind() string { return BatchKindOrder }
func (o *Order) ShareRatio(p SplitPolicy) decimal.Decimal { return p.OrderShareRatio }

func (o *Order) LineTotal(item *LedgerItem) decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
}

// DigitalPurchase is a digital book purchase. Lines are single licences, so
// registration stores quantity 1, but the line total still honours quantity.
type DigitalPurchase struct {
	*BatchRecord
}

func (d *DigitalPurchase) Record() *BatchRecord { return d.BatchRecord }
func (d *DigitalPurchase) Items() []*LedgerItem { return d.BatchRecord.Items }
func (d *DigitalPurchase) Kind() string { return BatchKindDigitalPurchase }
func (d *DigitalPurchase) ShareRatio(p SplitPolicy) decimal.Decimal { return p.DigitalShareRatio }

func (d *DigitalPurchase) LineTotal(item *LedgerItem) decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
}

// NewBatch wraps a record in the Batch implementation matching its kind.
func NewBatch(rec *BatchRecord) (Batch, error) {
	switch rec.Kind {
	case BatchKindOrder:
		return &Order{BatchRecord: rec}, nil
	case BatchKindDigitalPurchase:
		return &DigitalPurchase{BatchRecord: rec}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBatchKind, rec.Kind)
	}
}
