package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGatewayReplaysIdempotentTransfers(t *testing.T) {
	g := NewMockGateway("stripe")
	g.FailureRate = 0
	g.MaxDelay = 0

	first, err := g.CreateTransfer(context.Background(), TransferRequest{Destination: "acct_1", AmountMinor: 100, Currency: "USD", IdempotencyKey: "k1"})
	require.NoError(t, err)
	again, err := g.CreateTransfer(context.Background(), TransferRequest{Destination: "acct_1", AmountMinor: 100, Currency: "USD", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestMockGatewayAccounts(t *testing.T) {
	g := NewMockGateway("paystack")
	assert.Equal(t, "paystack", g.Name())

	acct, err := g.RetrieveAccount(context.Background(), "RCP_1")
	require.NoError(t, err)
	assert.True(t, acct.PayoutsEnabled)

	acct, err = g.RetrieveAccount(context.Background(), DisabledAccountPrefix+"RCP_2")
	require.NoError(t, err)
	assert.False(t, acct.PayoutsEnabled)

	_, err = g.RetrieveAccount(context.Background(), "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMockGatewayFailure(t *testing.T) {
	g := NewMockGateway("stripe")
	g.FailureRate = 1
	g.MaxDelay = 0

	_, err := g.CreateTransfer(context.Background(), TransferRequest{Destination: "acct_1", AmountMinor: 100, Currency: "USD", IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrProvider)
}
