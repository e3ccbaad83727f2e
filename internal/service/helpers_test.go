package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/gateway"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/ayo6706/author-payouts/internal/testutil/dbtest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, batchID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, batchID)
	return nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// fakeDispatcher succeeds unless a result is scripted for the recipient.
type fakeDispatcher struct {
	mu       sync.Mutex
	requests []DispatchRequest
	results  map[uuid.UUID]TransferResult
	delay    time.Duration
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{results: make(map[uuid.UUID]TransferResult)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req DispatchRequest) TransferResult {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if r, ok := f.results[req.RecipientID]; ok {
		return r
	}
	return TransferResult{Success: true, ProviderTransferID: fmt.Sprintf("tr_%d", len(f.requests))}
}

func (f *fakeDispatcher) calls() []DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DispatchRequest(nil), f.requests...)
}

func (f *fakeDispatcher) script(recipient uuid.UUID, result TransferResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[recipient] = result
}

func (f *fakeDispatcher) clear(recipient uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.results, recipient)
}

// fakeGateway is a provider double for the real TransferDispatcher.
type fakeGateway struct {
	name string

	mu        sync.Mutex
	disabled  map[string]bool
	hang      bool
	failWith  error
	accounts  int
	transfers []gateway.TransferRequest
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, disabled: make(map[string]bool)}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) RetrieveAccount(ctx context.Context, accountID string) (*gateway.Account, error) {
	g.mu.Lock()
	g.accounts++
	disabled := g.disabled[accountID]
	g.mu.Unlock()
	return &gateway.Account{ID: accountID, PayoutsEnabled: !disabled}, nil
}

func (g *fakeGateway) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error) {
	g.mu.Lock()
	hang, failWith := g.hang, g.failWith
	g.transfers = append(g.transfers, req)
	n := len(g.transfers)
	g.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", gateway.ErrProvider, ctx.Err())
	}
	if failWith != nil {
		return nil, failWith
	}
	return &gateway.Transfer{ID: fmt.Sprintf("tr_fake_%d", n)}, nil
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) transferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transfers)
}

type fixture struct {
	store      *repository.Store
	enqueuer   *fakeEnqueuer
	batches    *BatchService
	recipients *RecipientService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := dbtest.SQLiteStore(t)
	enq := &fakeEnqueuer{}
	return &fixture{
		store:      store,
		enqueuer:   enq,
		batches:    NewBatchService(store, enq),
		recipients: NewRecipientService(store),
	}
}

func (f *fixture) job(d Dispatcher) *ReconciliationJob {
	return NewReconciliationJob(f.store, d, domain.DefaultSplitPolicy(), 10*time.Minute)
}

// author creates a recipient with a Stripe account, or none when acct is empty.
func (f *fixture) author(t *testing.T, acct string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	req := UpsertRecipientRequest{DisplayName: "author " + id.String()[:8]}
	if acct != "" {
		req.StripeAccountID = &acct
	}
	_, err := f.recipients.Upsert(context.Background(), id, req, nil)
	require.NoError(t, err)
	return id
}

type line struct {
	recipient uuid.UUID
	qty       int64
	price     string
}

func (f *fixture) batch(t *testing.T, kind string, paid bool, lines ...line) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	req := RegisterBatchRequest{
		Kind:                     kind,
		Provider:                 domain.ProviderStripe,
		Currency:                 "USD",
		ExternalPaymentReference: "pi_" + uuid.NewString(),
	}
	for _, l := range lines {
		req.Items = append(req.Items, RegisterItemRequest{
			RecipientID: l.recipient,
			Quantity:    l.qty,
			UnitPrice:   decimal.RequireFromString(l.price),
		})
	}
	view, err := f.batches.Register(ctx, req, nil)
	require.NoError(t, err)
	if paid {
		_, err := f.batches.MarkPaid(ctx, view.ID, nil, "test")
		require.NoError(t, err)
	}
	return view.ID
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *domain.BatchRecord {
	t.Helper()
	rec, err := f.store.Queries().LoadBatch(context.Background(), id)
	require.NoError(t, err)
	return rec
}
