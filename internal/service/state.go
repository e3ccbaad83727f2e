package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid state transition")

var itemTransitions = map[string]map[string]struct{}{
	domain.ItemStatusPending: {
		domain.ItemStatusInitiated: {},
		domain.ItemStatusFailed:    {},
		domain.ItemStatusSkipped:   {},
	},
	domain.ItemStatusInitiated: {
		domain.ItemStatusCompleted: {},
		domain.ItemStatusFailed:    {},
		domain.ItemStatusSkipped:   {},
	},
	domain.ItemStatusFailed: {
		// retryable failures only
		domain.ItemStatusPending:   {},
		domain.ItemStatusCompleted: {},
	},
	domain.ItemStatusCompleted: {},
	domain.ItemStatusSkipped:   {},
}

var batchTransitions = map[string]map[string]struct{}{
	domain.BatchStatusPending: {
		domain.BatchStatusInitiated: {},
	},
	domain.BatchStatusInitiated: {
		domain.BatchStatusCompleted:       {},
		domain.BatchStatusPartiallyFailed: {},
	},
	domain.BatchStatusPartiallyFailed: {
		domain.BatchStatusInitiated: {},
	},
	domain.BatchStatusCompleted: {},
}

func canTransition(table map[string]map[string]struct{}, current, next string) bool {
	nextStates, ok := table[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionItemState runs apply, a compare-and-set update, and audits the move
// when it wins. It reports false when the item had already left the expected state.
func transitionItemState(ctx context.Context, qtx *repository.Queries, audit *AuditService, item *domain.LedgerItem, nextState, action string, metadata []byte, apply func() (int64, error)) (bool, error) {
	if !canTransition(itemTransitions, item.PayoutStatus, nextState) {
		return false, fmt.Errorf("%w: item %s %s -> %s", ErrInvalidTransition, item.ID, item.PayoutStatus, nextState)
	}

	rows, err := apply()
	if err != nil {
		return false, fmt.Errorf("%s: %w", action, err)
	}
	if rows == 0 {
		return false, nil
	}
	if err := requireExactlyOne(rows, action); err != nil {
		return false, err
	}

	if err := audit.Write(ctx, qtx, entityItem, item.ID, nil, action, item.PayoutStatus, nextState, metadata); err != nil {
		return false, err
	}
	observability.IncrementItemTransition(item.PayoutStatus, nextState)
	return true, nil
}

func transitionBatchState(ctx context.Context, qtx *repository.Queries, audit *AuditService, batchID uuid.UUID, currentState, nextState string, platformFeeMinor int64, actorID *uuid.UUID, action string, metadata []byte) error {
	if !canTransition(batchTransitions, currentState, nextState) {
		return fmt.Errorf("%w: batch %s %s -> %s", ErrInvalidTransition, batchID, currentState, nextState)
	}

	rows, err := qtx.UpdateBatchPayoutStatus(ctx, repository.UpdateBatchPayoutStatusParams{
		ID:               batchID,
		FromStatus:       currentState,
		ToStatus:         nextState,
		PlatformFeeMinor: platformFeeMinor,
	})
	if err != nil {
		return fmt.Errorf("update batch payout status: %w", err)
	}
	if err := requireExactlyOne(rows, "update batch payout status"); err != nil {
		return err
	}

	return audit.Write(ctx, qtx, entityBatch, batchID, actorID, action, currentState, nextState, metadata)
}
