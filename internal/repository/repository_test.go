package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/ayo6706/author-payouts/internal/testutil/dbtest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forEachBackend(t *testing.T, fn func(t *testing.T, store *repository.Store)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, dbtest.SQLiteStore(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, dbtest.PostgresStore(t))
	})
}

func seedBatch(t *testing.T, q *repository.Queries, paid bool, prices ...int64) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	batchID := uuid.New()
	var total int64
	for _, p := range prices {
		total += p
	}
	require.NoError(t, q.InsertBatch(ctx, repository.InsertBatchParams{
		ID:                       batchID,
		Kind:                     domain.BatchKindOrder,
		Provider:                 domain.ProviderStripe,
		Currency:                 "USD",
		TotalMinor:               total,
		ExternalPaymentReference: "pi_" + batchID.String(),
	}))
	itemIDs := make([]uuid.UUID, 0, len(prices))
	for i, p := range prices {
		id := uuid.New()
		require.NoError(t, q.InsertItem(ctx, repository.InsertItemParams{
			ID:             id,
			BatchID:        batchID,
			Position:       i,
			RecipientID:    uuid.New(),
			Quantity:       1,
			UnitPriceMinor: p,
			Currency:       "USD",
		}))
		itemIDs = append(itemIDs, id)
	}
	if paid {
		n, err := q.MarkBatchPaid(ctx, batchID)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	}
	return batchID, itemIDs
}

func TestLoadBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		batchID, itemIDs := seedBatch(t, q, false, 10000, 3333)

		batch, err := q.LoadBatch(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, domain.BatchStatusPending, batch.PayoutStatus)
		assert.Equal(t, domain.PaymentStatusUnpaid, batch.PaymentStatus)
		assert.Equal(t, "133.33", batch.TotalAmount.StringFixed(2))
		require.Len(t, batch.Items, 2)
		assert.Equal(t, itemIDs[0], batch.Items[0].ID)
		assert.Equal(t, "33.33", batch.Items[1].UnitPrice.StringFixed(2))
		assert.Equal(t, domain.ItemStatusPending, batch.Items[1].PayoutStatus)
		assert.Nil(t, batch.Items[1].ClaimedAt)

		byRef, err := q.GetBatchByReference(ctx, domain.ProviderStripe, batch.ExternalPaymentReference)
		require.NoError(t, err)
		assert.Equal(t, batchID, byRef.ID)

		_, err = q.GetBatch(ctx, uuid.New())
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestMarkBatchPaidOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		batchID, _ := seedBatch(t, q, true, 500)

		n, err := q.MarkBatchPaid(ctx, batchID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})
}

func TestClaimItemIsCompareAndSet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		_, itemIDs := seedBatch(t, q, true, 10000)
		now := time.Now()

		n, err := q.ClaimItem(ctx, repository.ClaimItemParams{ID: itemIDs[0], AuthorPayoutMinor: 7000, PlatformFeeMinor: 3000, ClaimToken: "run-1", ClaimedAt: now})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = q.ClaimItem(ctx, repository.ClaimItemParams{ID: itemIDs[0], AuthorPayoutMinor: 7000, PlatformFeeMinor: 3000, ClaimToken: "run-1", ClaimedAt: now})
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		item, err := q.GetItem(ctx, itemIDs[0])
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusInitiated, item.PayoutStatus)
		assert.Equal(t, "70.00", item.AuthorPayoutAmount.StringFixed(2))
		assert.Equal(t, "30.00", item.PlatformFeeAmount.StringFixed(2))
		require.NotNil(t, item.ClaimedAt)
		assert.Equal(t, now.UnixMilli(), item.ClaimedAt.UnixMilli())

		n, err = q.CompleteItem(ctx, itemIDs[0], "run-1", "tr_123")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		item, err = q.GetItem(ctx, itemIDs[0])
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusCompleted, item.PayoutStatus)
		require.NotNil(t, item.ProviderTransferID)
		assert.Equal(t, "tr_123", *item.ProviderTransferID)
		assert.True(t, item.IsTerminal())
	})
}

func TestFailAndRequeue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		_, itemIDs := seedBatch(t, q, true, 10000, 2000)

		_, err := q.ClaimItem(ctx, repository.ClaimItemParams{ID: itemIDs[0], AuthorPayoutMinor: 7000, PlatformFeeMinor: 3000, ClaimToken: "run-1", ClaimedAt: time.Now()})
		require.NoError(t, err)

		n, err := q.FailItem(ctx, repository.FailItemParams{ID: itemIDs[0], FromStatus: domain.ItemStatusInitiated, ClaimToken: "run-1", Error: "timeout", Retryable: true})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = q.FailItem(ctx, repository.FailItemParams{ID: itemIDs[1], FromStatus: domain.ItemStatusPending, Error: "missing account", Retryable: false})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = q.RequeueFailedItem(ctx, itemIDs[1])
		require.NoError(t, err)
		assert.EqualValues(t, 0, n, "non-retryable failures stay failed")

		n, err = q.RequeueFailedItem(ctx, itemIDs[0])
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		item, err := q.GetItem(ctx, itemIDs[0])
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusPending, item.PayoutStatus)
		assert.EqualValues(t, 1, item.Attempt)
		require.NotNil(t, item.PayoutError)
		assert.Equal(t, "timeout", *item.PayoutError)
	})
}

func TestReclaimStaleClaims(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		batchID, itemIDs := seedBatch(t, q, true, 10000, 5000)
		claimed := time.Now().Add(-time.Hour)

		for _, id := range itemIDs {
			_, err := q.ClaimItem(ctx, repository.ClaimItemParams{ID: id, AuthorPayoutMinor: 700, PlatformFeeMinor: 300, ClaimToken: "run-1", ClaimedAt: claimed})
			require.NoError(t, err)
		}

		n, err := q.ReclaimStaleClaims(ctx, batchID, "run-1", claimed.Add(-time.Minute), time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 0, n, "claims are newer than cutoff")

		now := time.Now()
		n, err = q.ReclaimStaleClaims(ctx, batchID, "run-1", now.Add(-10*time.Minute), now)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n, "the whole claim group moves together")

		n, err = q.ReclaimStaleClaims(ctx, batchID, "run-1", now.Add(-10*time.Minute), now)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n, "second takeover loses")

		item, err := q.GetItem(ctx, itemIDs[1])
		require.NoError(t, err)
		assert.Equal(t, "run-1", item.ClaimToken)
		assert.EqualValues(t, 0, item.Attempt)
	})
}

func TestCompleteItemAfterRetryableFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		_, itemIDs := seedBatch(t, q, true, 10000)

		_, err := q.ClaimItem(ctx, repository.ClaimItemParams{ID: itemIDs[0], AuthorPayoutMinor: 7000, PlatformFeeMinor: 3000, ClaimToken: "run-1", ClaimedAt: time.Now()})
		require.NoError(t, err)
		_, err = q.FailItem(ctx, repository.FailItemParams{ID: itemIDs[0], FromStatus: domain.ItemStatusInitiated, ClaimToken: "run-1", Error: "timeout", Retryable: true})
		require.NoError(t, err)

		n, err := q.CompleteItem(ctx, itemIDs[0], "run-2", "tr_x")
		require.NoError(t, err)
		assert.EqualValues(t, 0, n, "foreign claim token")

		n, err = q.CompleteItem(ctx, itemIDs[0], "run-1", "tr_x")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestListBatchesNeedingPayout(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		paidID, _ := seedBatch(t, q, true, 1000)
		seedBatch(t, q, false, 1000)
		doneID, doneItems := seedBatch(t, q, true, 1000)

		_, err := q.ClaimItem(ctx, repository.ClaimItemParams{ID: doneItems[0], AuthorPayoutMinor: 700, PlatformFeeMinor: 300, ClaimToken: "run-1", ClaimedAt: time.Now()})
		require.NoError(t, err)
		_, err = q.CompleteItem(ctx, doneItems[0], "run-1", "tr_done")
		require.NoError(t, err)

		ids, err := q.ListBatchesNeedingPayout(ctx, time.Now().Add(-10*time.Minute), 50)
		require.NoError(t, err)
		assert.Contains(t, ids, paidID)
		assert.NotContains(t, ids, doneID)
		assert.Len(t, ids, 1)
	})
}

func TestBatchFeeMismatches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		batchID, itemIDs := seedBatch(t, q, true, 10000)

		_, err := q.ClaimItem(ctx, repository.ClaimItemParams{ID: itemIDs[0], AuthorPayoutMinor: 7000, PlatformFeeMinor: 3000, ClaimToken: "run-1", ClaimedAt: time.Now()})
		require.NoError(t, err)
		_, err = q.CompleteItem(ctx, itemIDs[0], "run-1", "tr_1")
		require.NoError(t, err)
		n, err := q.UpdateBatchPayoutStatus(ctx, repository.UpdateBatchPayoutStatusParams{
			ID: batchID, FromStatus: domain.BatchStatusPending, ToStatus: domain.BatchStatusCompleted, PlatformFeeMinor: 2999,
		})
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		mismatches, err := q.ListBatchFeeMismatches(ctx)
		require.NoError(t, err)
		require.Len(t, mismatches, 1)
		assert.Equal(t, batchID, mismatches[0].BatchID)
		assert.EqualValues(t, 2999, mismatches[0].RecordedMinor)
		assert.EqualValues(t, 3000, mismatches[0].ItemsMinor)

		rows, err := q.ListSplitItems(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.EqualValues(t, 7000, rows[0].AuthorPayoutMinor)
	})
}

func TestRecipients(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		id := uuid.New()
		acct := "acct_1"

		r, err := q.UpsertRecipient(ctx, repository.UpsertRecipientParams{ID: id, DisplayName: "Ada", StripeAccountID: &acct})
		require.NoError(t, err)
		assert.Equal(t, "acct_1", r.ProviderIdentity(domain.ProviderStripe))
		assert.Empty(t, r.ProviderIdentity(domain.ProviderPaystack))

		code := "RCP_1"
		r, err = q.UpsertRecipient(ctx, repository.UpsertRecipientParams{ID: id, DisplayName: "Ada L", PaystackRecipientCode: &code})
		require.NoError(t, err)
		assert.Equal(t, "Ada L", r.DisplayName)
		assert.Empty(t, r.ProviderIdentity(domain.ProviderStripe))

		found, err := q.ListRecipientsByIDs(ctx, []uuid.UUID{id, uuid.New()})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "RCP_1", found[id].ProviderIdentity(domain.ProviderPaystack))
	})
}

func TestAuditLog(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		entity := uuid.New()
		prev, next, meta := "pending", "initiated", `{"attempt":0}`

		err := store.RunInTx(ctx, func(q *repository.Queries) error {
			return q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
				EntityType: "payout_item", EntityID: entity, Action: "payout_item.claimed",
				PrevState: &prev, NextState: &next, Metadata: &meta,
			})
		})
		require.NoError(t, err)

		entries, err := store.Queries().ListAuditLog(ctx, entity)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "payout_item.claimed", entries[0].Action)
		assert.Nil(t, entries[0].ActorID)
		require.NotNil(t, entries[0].NextState)
		assert.Equal(t, "initiated", *entries[0].NextState)

		count, err := store.Queries().CountAuditActions(ctx, entity, "payout_item.claimed")
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})
}

func TestIdempotencyKeys(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		params := repository.ReserveIdempotencyKeyParams{IdempotencyKey: "k1", RequestHash: "h1", Method: "POST", Path: "/v1/batches"}

		ok, err := q.ReserveIdempotencyKey(ctx, params)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = q.ReserveIdempotencyKey(ctx, params)
		require.NoError(t, err)
		assert.False(t, ok)

		row, err := q.GetIdempotencyKey(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, row.InProgress)

		row, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
			IdempotencyKey: "k1", RequestHash: "h1", ResponseStatus: 201, ResponseBody: []byte(`{"id":"x"}`), ContentType: "application/json",
		})
		require.NoError(t, err)
		assert.False(t, row.InProgress)
		assert.EqualValues(t, 201, row.ResponseStatus)
		assert.JSONEq(t, `{"id":"x"}`, string(row.ResponseBody))

		_, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{IdempotencyKey: "k1", RequestHash: "other"})
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.WithinDuration(t, time.Now(), row.UpdatedAt, time.Minute)
	})
}

func TestIdempotencyKeyExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		for _, key := range []string{"done", "open"} {
			ok, err := q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h", Method: "POST", Path: "/v1/batches"})
			require.NoError(t, err)
			require.True(t, ok)
		}
		_, err := q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{IdempotencyKey: "done", RequestHash: "h", ResponseStatus: 201, ContentType: "application/json"})
		require.NoError(t, err)

		past := time.Now().Add(-time.Hour)
		removed, err := q.DeleteIdempotencyKeyBefore(ctx, "open", true, past)
		require.NoError(t, err)
		assert.False(t, removed, "fresh reservation must survive")

		future := time.Now().Add(time.Hour)
		removed, err = q.DeleteIdempotencyKeyBefore(ctx, "done", true, future)
		require.NoError(t, err)
		assert.False(t, removed, "finished key does not match in_progress filter")

		n, err := q.PurgeIdempotencyKeys(ctx, future, past)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = q.GetIdempotencyKey(ctx, "done")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		_, err = q.GetIdempotencyKey(ctx, "open")
		require.NoError(t, err)

		n, err = q.PurgeIdempotencyKeys(ctx, future, future)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}
