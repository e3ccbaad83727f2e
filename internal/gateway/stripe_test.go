package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func newTestStripeGateway(t *testing.T, h http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	return NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestStripeRetrieveAccount(t *testing.T) {
	g := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/accounts/acct_ok":
			w.Write([]byte(`{"id":"acct_ok","object":"account","payouts_enabled":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such account"}}`))
		}
	})

	acct, err := g.RetrieveAccount(context.Background(), "acct_ok")
	require.NoError(t, err)
	assert.Equal(t, "acct_ok", acct.ID)
	assert.True(t, acct.PayoutsEnabled)

	_, err = g.RetrieveAccount(context.Background(), "acct_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStripeCreateTransferSendsIdempotencyKey(t *testing.T) {
	var idemKey, destination, amount string
	g := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		idemKey = r.Header.Get("Idempotency-Key")
		destination = r.PostForm.Get("destination")
		amount = r.PostForm.Get("amount")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"tr_123","object":"transfer","amount":6666,"currency":"usd"}`))
	})

	tr, err := g.CreateTransfer(context.Background(), TransferRequest{
		Destination:    "acct_ok",
		AmountMinor:    6666,
		Currency:       "USD",
		IdempotencyKey: "payout:b:r:0",
		Metadata:       map[string]string{"batch_id": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_123", tr.ID)
	assert.Equal(t, "payout:b:r:0", idemKey)
	assert.Equal(t, "acct_ok", destination)
	assert.Equal(t, "6666", amount)
}

func TestStripeTransferErrorKeepsMessage(t *testing.T) {
	g := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"balance_insufficient","message":"Insufficient funds in Stripe account"}}`))
	})

	_, err := g.CreateTransfer(context.Background(), TransferRequest{Destination: "acct_ok", AmountMinor: 100, Currency: "usd", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "Insufficient funds")
	assert.Contains(t, err.Error(), "balance_insufficient")
}
