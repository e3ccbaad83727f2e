package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// AggregatedTransfer is the sum owed to one recipient within one batch run.
type AggregatedTransfer struct {
	RecipientID uuid.UUID
	Currency    string
	AmountMinor int64
	ItemIDs     []uuid.UUID
}

// AggregationResult lists the transfers to issue and the groups left unpaid.
type AggregationResult struct {
	Transfers []AggregatedTransfer
	Skipped   []AggregatedTransfer
}

type recipientKey struct {
	recipientID uuid.UUID
	currency    string
}

// Aggregate groups initiated items by recipient and currency so that one
// transfer is issued per recipient. Groups keep the order in which their
// recipient first appears in items. Groups summing to zero or less are
// returned in Skipped. A group whose total does not fit in int64 minor units
// fails the whole aggregation with ErrAmountOutOfRange.
func Aggregate(items []*LedgerItem) (AggregationResult, error) {
	index := make(map[recipientKey]int)
	groups := make([]AggregatedTransfer, 0)

	for _, item := range items {
		if item.PayoutStatus != ItemStatusInitiated {
			continue
		}
		currency := NormalizeCurrency(item.Currency)
		key := recipientKey{recipientID: item.RecipientID, currency: currency}
		pos, ok := index[key]
		if !ok {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, AggregatedTransfer{
				RecipientID: item.RecipientID,
				Currency:    currency,
			})
		}
		amount, err := MinorUnits(item.AuthorPayoutAmount, currency)
		if err != nil {
			return AggregationResult{}, fmt.Errorf("item %s: %w", item.ID, err)
		}
		if groups[pos].AmountMinor, err = AddMinor(groups[pos].AmountMinor, amount); err != nil {
			return AggregationResult{}, fmt.Errorf("recipient %s: %w", item.RecipientID, err)
		}
		groups[pos].ItemIDs = append(groups[pos].ItemIDs, item.ID)
	}

	var result AggregationResult
	for _, group := range groups {
		if group.AmountMinor <= 0 {
			result.Skipped = append(result.Skipped, group)
			continue
		}
		result.Transfers = append(result.Transfers, group)
	}
	return result, nil
}
