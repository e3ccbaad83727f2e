package service

import (
	"context"
	"testing"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrityService_CleanLedger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")
	batchID := f.batch(t, domain.BatchKindDigitalPurchase, true,
		line{recipient: a, price: "33.33"},
		line{recipient: a, price: "19.99"},
	)
	_, err := f.job(newFakeDispatcher()).Run(ctx, batchID)
	require.NoError(t, err)

	report, err := NewIntegrityService(f.store).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 2, report.ItemsChecked)
}

func TestIntegrityService_DetectsMismatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")
	batchID := f.batch(t, domain.BatchKindOrder, true, line{recipient: a, qty: 2, price: "5.00"})
	item := f.load(t, batchID).Items[0]

	q := f.store.Queries()
	_, err := q.ClaimItem(ctx, repository.ClaimItemParams{
		ID:                item.ID,
		AuthorPayoutMinor: 700,
		PlatformFeeMinor:  200,
		ClaimToken:        "broken",
	})
	require.NoError(t, err)
	_, err = q.UpdateBatchPayoutStatus(ctx, repository.UpdateBatchPayoutStatusParams{
		ID:               batchID,
		FromStatus:       domain.BatchStatusPending,
		ToStatus:         domain.BatchStatusCompleted,
		PlatformFeeMinor: 1,
	})
	require.NoError(t, err)

	report, err := NewIntegrityService(f.store).Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, 1, report.SplitMismatches)
	assert.Equal(t, 1, report.FeeMismatches)
}
