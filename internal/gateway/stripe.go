package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeGateway pays Stripe Connect accounts through the transfers API.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) Name() string { return domain.ProviderStripe }

func (g *StripeGateway) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return nil, stripeError("retrieve account", err)
	}
	return &Account{ID: acct.ID, PayoutsEnabled: acct.PayoutsEnabled}, nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
		Metadata:    req.Metadata,
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if group := req.Metadata["batch_id"]; group != "" {
		params.TransferGroup = stripe.String(group)
	}

	t, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, stripeError("create transfer", err)
	}
	return &Transfer{ID: t.ID}, nil
}

func stripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code != "" {
			return fmt.Errorf("%w: stripe %s: %s (%s)", ErrProvider, op, stripeErr.Msg, stripeErr.Code)
		}
		return fmt.Errorf("%w: stripe %s: %s", ErrProvider, op, stripeErr.Msg)
	}
	return fmt.Errorf("%w: stripe %s: %v", ErrProvider, op, err)
}
