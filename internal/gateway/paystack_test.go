package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaystackRetrieveAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/transferrecipient/RCP_active":
			w.Write([]byte(`{"status":true,"message":"ok","data":{"recipient_code":"RCP_active","active":true}}`))
		case "/transferrecipient/RCP_inactive":
			w.Write([]byte(`{"status":true,"message":"ok","data":{"recipient_code":"RCP_inactive","active":false}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":false,"message":"Recipient not found"}`))
		}
	}))
	defer srv.Close()

	g := NewPaystackGateway(srv.URL, "sk_test", srv.Client())
	ctx := context.Background()

	acct, err := g.RetrieveAccount(ctx, "RCP_active")
	require.NoError(t, err)
	assert.True(t, acct.PayoutsEnabled)

	acct, err = g.RetrieveAccount(ctx, "RCP_inactive")
	require.NoError(t, err)
	assert.False(t, acct.PayoutsEnabled)

	_, err = g.RetrieveAccount(ctx, "RCP_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPaystackCreateTransfer(t *testing.T) {
	var got paystackTransferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transfer", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":true,"message":"Transfer has been queued","data":{"transfer_code":"TRF_1","reference":"x","status":"pending"}}`))
	}))
	defer srv.Close()

	g := NewPaystackGateway(srv.URL, "sk_test", srv.Client())
	tr, err := g.CreateTransfer(context.Background(), TransferRequest{
		Destination:    "RCP_active",
		AmountMinor:    666600,
		Currency:       "ngn",
		IdempotencyKey: "payout:b:r:0",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_1", tr.ID)
	assert.Equal(t, "pending", tr.Status)

	assert.Equal(t, "balance", got.Source)
	assert.EqualValues(t, 666600, got.Amount)
	assert.Equal(t, "NGN", got.Currency)
	assert.Equal(t, paystackReference("payout:b:r:0"), got.Reference)
}

func TestPaystackTransferFailureKeepsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":false,"message":"Your balance is not enough to fulfil this request"}`))
	}))
	defer srv.Close()

	g := NewPaystackGateway(srv.URL, "sk_test", srv.Client())
	_, err := g.CreateTransfer(context.Background(), TransferRequest{Destination: "RCP", AmountMinor: 100, Currency: "NGN", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "balance is not enough")
}

func TestPaystackReference(t *testing.T) {
	a := paystackReference("payout:batch:recipient:0")
	b := paystackReference("payout:batch:recipient:1")
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, paystackReference("payout:batch:recipient:0"))
	assert.Regexp(t, `^[a-z0-9_-]+$`, a)
}

func TestPaystackDuplicateReferenceReturnsExistingTransfer(t *testing.T) {
	key := "payout:batch:recipient:token"
	ref := paystackReference(key)
	verifyStatus := "success"
	verifies := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transfer":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":false,"message":"Duplicate Transfer Reference"}`))
		case "/transfer/verify/" + ref:
			verifies++
			w.Write([]byte(`{"status":true,"message":"ok","data":{"transfer_code":"TRF_first","reference":"` + ref + `","status":"` + verifyStatus + `","amount":5000}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":false,"message":"not found"}`))
		}
	}))
	defer srv.Close()

	g := NewPaystackGateway(srv.URL, "sk_test", srv.Client())
	req := TransferRequest{Destination: "RCP_active", AmountMinor: 5000, Currency: "NGN", IdempotencyKey: key}

	tr, err := g.CreateTransfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "TRF_first", tr.ID)
	assert.Equal(t, 1, verifies)

	verifyStatus = "failed"
	_, err = g.CreateTransfer(context.Background(), req)
	require.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "Duplicate Transfer Reference")

	verifyStatus = "success"
	req.AmountMinor = 7000
	_, err = g.CreateTransfer(context.Background(), req)
	require.ErrorIs(t, err, ErrProvider)
}
