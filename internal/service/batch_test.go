package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchService_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")

	view, err := f.batches.Register(ctx, RegisterBatchRequest{
		Kind:                     domain.BatchKindOrder,
		Provider:                 domain.ProviderStripe,
		Currency:                 "usd",
		ExternalPaymentReference: "  pi_abc  ",
		Items: []RegisterItemRequest{
			{RecipientID: a, Quantity: 3, UnitPrice: decimal.RequireFromString("9.99")},
			{RecipientID: a, Quantity: 1, UnitPrice: decimal.RequireFromString("0.03")},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "USD", view.Currency)
	assert.Equal(t, "30.00", view.TotalAmount)
	assert.Equal(t, domain.BatchStatusPending, view.PayoutStatus)
	require.Len(t, view.Items, 2)

	rec := f.load(t, view.ID)
	assert.Equal(t, "pi_abc", rec.ExternalPaymentReference)
	assert.Equal(t, domain.PaymentStatusUnpaid, rec.PaymentStatus)
	for _, item := range rec.Items {
		assert.Equal(t, domain.ItemStatusPending, item.PayoutStatus)
	}
}

func TestBatchService_DigitalPurchaseDefaultsQuantity(t *testing.T) {
	f := newFixture(t)
	a := f.author(t, "acct_a")

	view, err := f.batches.Register(context.Background(), RegisterBatchRequest{
		Kind:                     domain.BatchKindDigitalPurchase,
		Provider:                 domain.ProviderPaystack,
		Currency:                 "NGN",
		ExternalPaymentReference: "ref_1",
		Items:                    []RegisterItemRequest{{RecipientID: a, UnitPrice: decimal.RequireFromString("2500")}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.load(t, view.ID).Items[0].Quantity)
}

func TestBatchService_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	a := f.author(t, "acct_a")
	valid := func() RegisterBatchRequest {
		return RegisterBatchRequest{
			Kind:                     domain.BatchKindOrder,
			Provider:                 domain.ProviderStripe,
			Currency:                 "USD",
			ExternalPaymentReference: "pi_" + uuid.NewString(),
			Items:                    []RegisterItemRequest{{RecipientID: a, Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")}},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *RegisterBatchRequest)
	}{
		{"unknown kind", func(r *RegisterBatchRequest) { r.Kind = "subscription" }},
		{"unknown provider", func(r *RegisterBatchRequest) { r.Provider = "paypal" }},
		{"bad currency", func(r *RegisterBatchRequest) { r.Currency = "US" }},
		{"no reference", func(r *RegisterBatchRequest) { r.ExternalPaymentReference = "   " }},
		{"no items", func(r *RegisterBatchRequest) { r.Items = nil }},
		{"order quantity zero", func(r *RegisterBatchRequest) { r.Items[0].Quantity = 0 }},
		{"negative price", func(r *RegisterBatchRequest) { r.Items[0].UnitPrice = decimal.RequireFromString("-1") }},
		{"sub-cent price", func(r *RegisterBatchRequest) { r.Items[0].UnitPrice = decimal.RequireFromString("1.005") }},
		{"missing recipient", func(r *RegisterBatchRequest) { r.Items[0].RecipientID = uuid.Nil }},
		{"digital quantity above one", func(r *RegisterBatchRequest) {
			r.Kind = domain.BatchKindDigitalPurchase
			r.Items[0].Quantity = 3
		}},
		{"quantity above cap", func(r *RegisterBatchRequest) { r.Items[0].Quantity = 1_000_000_000 }},
		{"price above cap", func(r *RegisterBatchRequest) { r.Items[0].UnitPrice = decimal.RequireFromString("10000000000.00") }},
		{"batch total beyond int64", func(r *RegisterBatchRequest) {
			r.Currency = "KWD"
			line := RegisterItemRequest{RecipientID: a, Quantity: 1_000_000, UnitPrice: decimal.NewFromInt(1_000_000_000)}
			r.Items = []RegisterItemRequest{line, line, line, line, line, line, line, line, line, line}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := f.batches.Register(context.Background(), req, nil)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestBatchService_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")
	req := RegisterBatchRequest{
		Kind:                     domain.BatchKindOrder,
		Provider:                 domain.ProviderStripe,
		Currency:                 "USD",
		ExternalPaymentReference: "pi_dup",
		Items:                    []RegisterItemRequest{{RecipientID: a, Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")}},
	}
	_, err := f.batches.Register(ctx, req, nil)
	require.NoError(t, err)
	_, err = f.batches.Register(ctx, req, nil)
	require.ErrorIs(t, err, ErrDuplicateBatch)

	// The same reference under another provider is a different payment.
	req.Provider = domain.ProviderPaystack
	_, err = f.batches.Register(ctx, req, nil)
	require.NoError(t, err)
}

func TestBatchService_MarkPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")
	batchID := f.batch(t, domain.BatchKindOrder, false, line{recipient: a, qty: 1, price: "10.00"})

	res, err := f.batches.MarkPaid(ctx, batchID, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, "paid", res.Status)

	res, err = f.batches.MarkPaid(ctx, batchID, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, "duplicate", res.Status)
	assert.Equal(t, 1, f.enqueuer.count())

	n, err := f.store.Queries().CountAuditActions(ctx, batchID, "payout_batch.paid")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.batches.MarkPaid(ctx, uuid.New(), nil, "test")
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestBatchService_MarkPaidSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = errors.New("redis down")
	a := f.author(t, "acct_a")
	batchID := f.batch(t, domain.BatchKindOrder, false, line{recipient: a, qty: 1, price: "10.00"})

	res, err := f.batches.MarkPaid(context.Background(), batchID, nil, "test")
	require.NoError(t, err)
	assert.Equal(t, "paid", res.Status)
	assert.Equal(t, domain.PaymentStatusPaid, f.load(t, batchID).PaymentStatus)
}

func TestBatchService_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")
	unpaid := f.batch(t, domain.BatchKindOrder, false, line{recipient: a, qty: 1, price: "10.00"})

	require.ErrorIs(t, f.batches.Reconcile(ctx, unpaid), ErrBatchNotEligible)
	require.ErrorIs(t, f.batches.Reconcile(ctx, uuid.New()), ErrBatchNotFound)

	_, err := f.batches.MarkPaid(ctx, unpaid, nil, "test")
	require.NoError(t, err)
	require.NoError(t, f.batches.Reconcile(ctx, unpaid))
	assert.Equal(t, 2, f.enqueuer.count())
}

func TestBatchService_GetReportsExternalStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.author(t, "acct_a")
	b := f.author(t, "")
	batchID := f.batch(t, domain.BatchKindOrder, true,
		line{recipient: a, qty: 1, price: "10.00"},
		line{recipient: b, qty: 1, price: "10.00"},
	)
	_, err := f.job(newFakeDispatcher()).Run(ctx, batchID)
	require.NoError(t, err)

	view, err := f.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalStatusFailed, view.PayoutStatus)
	assert.Equal(t, domain.BatchStatusPartiallyFailed, view.PayoutStatusDetail)
	assert.Equal(t, "3.00", view.PlatformFeeAmount)

	_, err = f.batches.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrBatchNotFound)
}
