package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/author-payouts/internal/gateway"
	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingPayoutAccount = errors.New("recipient has no payout account")
	ErrNonPositiveAmount    = errors.New("transfer amount must be positive")
	ErrUnknownProvider      = errors.New("no gateway configured for provider")
)

// DispatchRequest is one aggregated transfer to a recipient.
type DispatchRequest struct {
	Provider       string
	BatchID        uuid.UUID
	RecipientID    uuid.UUID
	AccountID      string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
}

// TransferResult is the outcome of a dispatch. Failed results carry the
// provider message and whether a later run may try again.
type TransferResult struct {
	Success            bool
	ProviderTransferID string
	ErrorMessage       string
	Retryable          bool
}

// Dispatcher moves funds for one recipient. It never touches the store.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) TransferResult
}

// TransferDispatcher routes transfers to the gateway of the batch provider.
type TransferDispatcher struct {
	gateways map[string]gateway.Gateway
	timeout  time.Duration
}

func NewTransferDispatcher(timeout time.Duration, gateways ...gateway.Gateway) *TransferDispatcher {
	byName := make(map[string]gateway.Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TransferDispatcher{gateways: byName, timeout: timeout}
}

// Dispatch checks preconditions, verifies the account can receive payouts and
// creates the transfer. Each provider call gets its own timeout and survives
// cancellation of ctx, since a transfer that has started runs to completion.
func (d *TransferDispatcher) Dispatch(ctx context.Context, req DispatchRequest) TransferResult {
	logger := zap.L().With(
		zap.String("batch_id", req.BatchID.String()),
		zap.String("recipient_id", req.RecipientID.String()),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.String("currency", req.Currency),
	)

	if strings.TrimSpace(req.AccountID) == "" {
		return permanentFailure(fmt.Errorf("%w: %s", ErrMissingPayoutAccount, req.RecipientID))
	}
	if req.AmountMinor <= 0 {
		return permanentFailure(fmt.Errorf("%w: %d", ErrNonPositiveAmount, req.AmountMinor))
	}
	gw, ok := d.gateways[req.Provider]
	if !ok {
		// Operator configuration, not recipient data: a later run with the
		// gateway configured must still pay these items.
		logger.Error("no gateway configured for batch provider", zap.String("provider", req.Provider))
		return TransferResult{
			ErrorMessage: fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider).Error(),
			Retryable:    true,
		}
	}

	detached := context.WithoutCancel(ctx)
	start := time.Now()

	acctCtx, cancel := context.WithTimeout(detached, d.timeout)
	acct, err := gw.RetrieveAccount(acctCtx, req.AccountID)
	timedOut := acctCtx.Err() != nil
	cancel()
	if err != nil {
		result := d.providerFailure("retrieve account", err, timedOut)
		observability.ObserveTransfer(req.Provider, "account_error", time.Since(start))
		logger.Warn("payout account lookup failed", zap.String("error", result.ErrorMessage))
		return result
	}
	if !acct.PayoutsEnabled {
		observability.ObserveTransfer(req.Provider, "not_payout_capable", time.Since(start))
		logger.Warn("payout account cannot receive payouts", zap.String("account_id", req.AccountID))
		return TransferResult{
			ErrorMessage: fmt.Sprintf("account %s cannot receive payouts yet", req.AccountID),
			Retryable:    true,
		}
	}

	transferCtx, cancel := context.WithTimeout(detached, d.timeout)
	defer cancel()
	t, err := gw.CreateTransfer(transferCtx, gateway.TransferRequest{
		Destination:    req.AccountID,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: map[string]string{
			"batch_id":     req.BatchID.String(),
			"recipient_id": req.RecipientID.String(),
			"reason":       "author payout " + req.BatchID.String(),
		},
	})
	if err != nil {
		result := d.providerFailure("create transfer", err, transferCtx.Err() != nil)
		observability.ObserveTransfer(req.Provider, "failed", time.Since(start))
		logger.Warn("transfer failed", zap.String("error", result.ErrorMessage))
		return result
	}

	observability.ObserveTransfer(req.Provider, "success", time.Since(start))
	logger.Info("transfer created", zap.String("provider_transfer_id", t.ID))
	return TransferResult{Success: true, ProviderTransferID: t.ID}
}

func (d *TransferDispatcher) providerFailure(op string, err error, timedOut bool) TransferResult {
	msg := err.Error()
	if timedOut {
		msg = fmt.Sprintf("%s timed out after %s: %s", op, d.timeout, msg)
	}
	return TransferResult{ErrorMessage: msg, Retryable: true}
}

func permanentFailure(err error) TransferResult {
	return TransferResult{ErrorMessage: err.Error(), Retryable: false}
}

// transferIdempotencyKey is stable for the items one run claimed for a recipient,
// so a run resuming a stale claim replays the same provider request.
func transferIdempotencyKey(batchID, recipientID uuid.UUID, claimToken string) string {
	return fmt.Sprintf("payout:%s:%s:%s", batchID, recipientID, claimToken)
}
