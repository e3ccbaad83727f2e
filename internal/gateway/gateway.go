package gateway

import (
	"context"
	"errors"
)

var (
	ErrAccountNotFound = errors.New("provider account not found")
	ErrProvider        = errors.New("provider request failed")
)

// Account is the payout capability of a connected account or transfer recipient.
type Account struct {
	ID             string
	PayoutsEnabled bool
}

// TransferRequest moves AmountMinor from the platform balance to Destination.
type TransferRequest struct {
	Destination    string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	ID     string
	Status string
}

// Gateway is a payment provider able to pay recipients out of the platform balance.
// Implementations must honour IdempotencyKey: a repeated key returns the original transfer.
type Gateway interface {
	Name() string
	RetrieveAccount(ctx context.Context, accountID string) (*Account, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}
