package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/observability"
	"go.uber.org/zap"
)

// IntegrityReport counts the rows that failed each check.
type IntegrityReport struct {
	ItemsChecked    int
	SplitMismatches int
	FeeMismatches   int
}

func (r IntegrityReport) Clean() bool {
	return r.SplitMismatches == 0 && r.FeeMismatches == 0
}

// IntegrityService verifies that persisted splits and batch fees still add up.
type IntegrityService struct {
	store QueryStore
}

func NewIntegrityService(store QueryStore) *IntegrityService {
	return &IntegrityService{store: store}
}

// Run checks author + fee == line total on every split item and that each
// settled batch records the sum of its item fees.
func (s *IntegrityService) Run(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport
	queries := s.store.Queries()

	rows, err := queries.ListSplitItems(ctx)
	if err != nil {
		return report, fmt.Errorf("run split item query: %w", err)
	}
	for _, row := range rows {
		report.ItemsChecked++
		expected, err := lineTotalMinor(row.Kind, row.Currency, row.Quantity, row.UnitPriceMinor)
		if err != nil {
			return report, err
		}
		if row.AuthorPayoutMinor+row.PlatformFeeMinor == expected && row.AuthorPayoutMinor >= 0 {
			continue
		}
		report.SplitMismatches++
		observability.IncrementIntegrityViolation("item_split")
		zap.L().Error("CRITICAL: item split does not reconcile",
			zap.String("batch_id", row.BatchID.String()),
			zap.String("item_id", row.ItemID.String()),
			zap.Int64("line_total_minor", expected),
			zap.Int64("author_payout_minor", row.AuthorPayoutMinor),
			zap.Int64("platform_fee_minor", row.PlatformFeeMinor))
	}

	mismatches, err := queries.ListBatchFeeMismatches(ctx)
	if err != nil {
		return report, fmt.Errorf("run batch fee query: %w", err)
	}
	for _, m := range mismatches {
		report.FeeMismatches++
		observability.IncrementIntegrityViolation("batch_fee")
		zap.L().Error("CRITICAL: batch platform fee does not match its items",
			zap.String("batch_id", m.BatchID.String()),
			zap.String("currency", m.Currency),
			zap.Int64("recorded_minor", m.RecordedMinor),
			zap.Int64("items_minor", m.ItemsMinor))
	}

	if report.Clean() {
		zap.L().Info("payout ledger consistent", zap.Int("items_checked", report.ItemsChecked))
	}
	return report, nil
}

func lineTotalMinor(kind, currency string, quantity, unitPriceMinor int64) (int64, error) {
	batch, err := domain.NewBatch(&domain.BatchRecord{Kind: kind, Currency: currency})
	if err != nil {
		return 0, err
	}
	item := &domain.LedgerItem{
		Quantity:  quantity,
		UnitPrice: domain.FromMinorUnits(unitPriceMinor, currency),
		Currency:  currency,
	}
	return domain.MinorUnits(batch.LineTotal(item), currency)
}
