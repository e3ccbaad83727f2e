package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/ayo6706/author-payouts/internal/models"
	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Outcome string

const (
	// OutcomeNotEligible: batch missing or not paid yet. Nothing changed.
	OutcomeNotEligible Outcome = "not_eligible"
	// OutcomeAlreadyProcessed: every item was terminal. No provider calls.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeCompleted        Outcome = "completed"
	OutcomePartiallyFailed  Outcome = "partially_failed"
	// OutcomeInProgress: items are still claimed by another run.
	OutcomeInProgress Outcome = "in_progress"
)

// RunOutcome summarises one reconciliation run.
type RunOutcome struct {
	BatchID     uuid.UUID
	Outcome     Outcome
	BatchStatus string
	Claimed     int
	Reclaimed   int
	Requeued    int
	Completed   int
	Failed      int
	Skipped     int
	Transfers   int
	PlatformFee decimal.Decimal
}

// ReconciliationJob pays out the items of a paid batch. It is safe to run any
// number of times, concurrently, for the same batch: items are claimed with a
// compare-and-set before any money moves.
type ReconciliationJob struct {
	store      QueryStore
	dispatcher Dispatcher
	policy     domain.SplitPolicy
	claimTTL   time.Duration
	audit      *AuditService
	now        func() time.Time
}

func NewReconciliationJob(store QueryStore, dispatcher Dispatcher, policy domain.SplitPolicy, claimTTL time.Duration) *ReconciliationJob {
	return &ReconciliationJob{
		store:      store,
		dispatcher: dispatcher,
		policy:     policy,
		claimTTL:   claimTTL,
		audit:      NewAuditService(store),
		now:        time.Now,
	}
}

// Run reconciles one batch.
func (j *ReconciliationJob) Run(ctx context.Context, batchID uuid.UUID) (*RunOutcome, error) {
	out, err := j.run(ctx, batchID)
	if err != nil {
		observability.IncrementReconciliationRun("error")
		return nil, err
	}
	observability.IncrementReconciliationRun(string(out.Outcome))
	return out, nil
}

func (j *ReconciliationJob) run(ctx context.Context, batchID uuid.UUID) (*RunOutcome, error) {
	logger := zap.L().With(zap.String("batch_id", batchID.String()))
	out := &RunOutcome{BatchID: batchID}

	rec, err := j.store.Queries().LoadBatch(ctx, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Info("batch not found, nothing to reconcile")
		out.Outcome = OutcomeNotEligible
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	out.BatchStatus = rec.PayoutStatus
	out.PlatformFee = rec.PlatformFeeAmount

	if rec.PaymentStatus != domain.PaymentStatusPaid {
		logger.Info("batch not paid, skipping payout", zap.String("payment_status", rec.PaymentStatus))
		out.Outcome = OutcomeNotEligible
		return out, nil
	}

	if rec.AllTerminal() {
		if err := j.settle(ctx, batchID, out); err != nil {
			return nil, err
		}
		logger.Info("batch already processed", zap.String("payout_status", out.BatchStatus))
		out.Outcome = OutcomeAlreadyProcessed
		return out, nil
	}

	now := j.now()
	claimToken := uuid.NewString()

	var claimed []*domain.LedgerItem
	if err := j.resume(ctx, rec, out); err != nil {
		return nil, err
	}
	for _, token := range staleClaimTokens(rec.Items, now.Add(-j.claimTTL)) {
		items, err := j.reclaim(ctx, rec, token, now)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, items...)
		out.Reclaimed += len(items)
	}

	rec, err = j.store.Queries().LoadBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("reload batch: %w", err)
	}
	batch, err := domain.NewBatch(rec)
	if err != nil {
		return nil, err
	}
	if err := j.markInitiated(ctx, batchID); err != nil {
		return nil, err
	}

	recipients, err := j.store.Queries().ListRecipientsByIDs(ctx, recipientIDs(rec.Items))
	if err != nil {
		return nil, err
	}
	ratio := batch.ShareRatio(j.policy)

	for _, item := range batch.Items() {
		if item.PayoutStatus != domain.ItemStatusPending {
			continue
		}
		itemLog := logger.With(zap.String("item_id", item.ID.String()), zap.String("recipient_id", item.RecipientID.String()))

		recipient, known := recipients[item.RecipientID]
		if recipient.ProviderIdentity(rec.Provider) == "" {
			reason := fmt.Sprintf("recipient %s has no %s payout account", item.RecipientID, rec.Provider)
			if !known {
				reason = fmt.Sprintf("recipient %s not found", item.RecipientID)
			}
			if err := j.failMissingIdentity(ctx, item, reason); err != nil {
				return nil, err
			}
			itemLog.Warn("item cannot be paid out", zap.String("reason", reason))
			out.Failed++
			continue
		}

		split, err := domain.Split(batch.LineTotal(item), ratio, item.Currency)
		if err != nil {
			return nil, fmt.Errorf("split item %s: %w", item.ID, err)
		}
		if split.Skip {
			ok, err := j.skip(ctx, item, "zero_amount")
			if err != nil {
				return nil, err
			}
			if ok {
				out.Skipped++
			}
			continue
		}

		ok, err := j.claim(ctx, item, split, claimToken, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			itemLog.Info("item claimed by another run")
			continue
		}
		item.PayoutStatus = domain.ItemStatusInitiated
		item.AuthorPayoutAmount = split.AuthorPayout
		item.PlatformFeeAmount = split.PlatformFee
		item.ClaimToken = claimToken
		claimed = append(claimed, item)
		out.Claimed++
	}

	for _, group := range groupByClaimToken(claimed) {
		if err := j.payOut(ctx, rec, group.token, group.items, recipients, out); err != nil {
			return nil, err
		}
	}

	if err := j.settle(ctx, batchID, out); err != nil {
		return nil, err
	}

	switch out.BatchStatus {
	case domain.BatchStatusCompleted:
		out.Outcome = OutcomeCompleted
	case domain.BatchStatusPartiallyFailed:
		out.Outcome = OutcomePartiallyFailed
	default:
		out.Outcome = OutcomeInProgress
	}
	logger.Info("reconciliation finished",
		zap.String("outcome", string(out.Outcome)),
		zap.Int("claimed", out.Claimed),
		zap.Int("reclaimed", out.Reclaimed),
		zap.Int("completed", out.Completed),
		zap.Int("failed", out.Failed),
		zap.Int("skipped", out.Skipped),
		zap.Int("transfers", out.Transfers),
	)
	return out, nil
}

// resume puts retryable failures back to pending.
func (j *ReconciliationJob) resume(ctx context.Context, rec *domain.BatchRecord, out *RunOutcome) error {
	for _, item := range rec.Items {
		if item.PayoutStatus != domain.ItemStatusFailed || !item.Retryable {
			continue
		}
		var ok bool
		err := j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			var err error
			ok, err = transitionItemState(ctx, qtx, j.audit, item, domain.ItemStatusPending, "payout_item.requeued",
				auditMetadata(map[string]any{"attempt": item.Attempt + 1, "previous_error": deref(item.PayoutError)}),
				func() (int64, error) { return qtx.RequeueFailedItem(ctx, item.ID) })
			return err
		})
		if err != nil {
			return err
		}
		if ok {
			out.Requeued++
		}
	}
	return nil
}

// reclaim takes over the items a crashed run claimed with token.
func (j *ReconciliationJob) reclaim(ctx context.Context, rec *domain.BatchRecord, token string, now time.Time) ([]*domain.LedgerItem, error) {
	var items []*domain.LedgerItem
	err := j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.ReclaimStaleClaims(ctx, rec.ID, token, now.Add(-j.claimTTL), now)
		if err != nil {
			return fmt.Errorf("reclaim stale claims: %w", err)
		}
		if rows == 0 {
			return nil
		}
		for _, item := range rec.Items {
			if item.PayoutStatus != domain.ItemStatusInitiated || item.ClaimToken != token {
				continue
			}
			if err := j.audit.Write(ctx, qtx, entityItem, item.ID, nil, "payout_item.reclaimed",
				domain.ItemStatusInitiated, domain.ItemStatusInitiated,
				auditMetadata(map[string]any{"claim_token": token})); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		zap.L().Warn("reclaimed stale payout claim",
			zap.String("batch_id", rec.ID.String()),
			zap.String("claim_token", token),
			zap.Int("items", len(items)))
	}
	return items, nil
}

func (j *ReconciliationJob) markInitiated(ctx context.Context, batchID uuid.UUID) error {
	return j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.LockBatch(ctx, batchID); err != nil {
			return fmt.Errorf("lock batch: %w", err)
		}
		rec, err := qtx.GetBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get batch: %w", err)
		}
		switch rec.PayoutStatus {
		case domain.BatchStatusInitiated:
			return nil
		case domain.BatchStatusPartiallyFailed:
			return transitionBatchState(ctx, qtx, j.audit, batchID, rec.PayoutStatus, domain.BatchStatusInitiated,
				domain.ToMinorUnits(rec.PlatformFeeAmount, rec.Currency), nil, "payout_batch.resumed", nil)
		default:
			return transitionBatchState(ctx, qtx, j.audit, batchID, rec.PayoutStatus, domain.BatchStatusInitiated,
				domain.ToMinorUnits(rec.PlatformFeeAmount, rec.Currency), nil, "payout_batch.initiated", nil)
		}
	})
}

func (j *ReconciliationJob) failMissingIdentity(ctx context.Context, item *domain.LedgerItem, reason string) error {
	return j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		_, err := transitionItemState(ctx, qtx, j.audit, item, domain.ItemStatusFailed, "payout_item.failed",
			auditMetadata(map[string]any{"error": reason, "retryable": false}),
			func() (int64, error) {
				return qtx.FailItem(ctx, repository.FailItemParams{
					ID:         item.ID,
					FromStatus: domain.ItemStatusPending,
					Error:      reason,
					Retryable:  false,
				})
			})
		return err
	})
}

func (j *ReconciliationJob) skip(ctx context.Context, item *domain.LedgerItem, reason string) (bool, error) {
	var ok bool
	err := j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		ok, err = transitionItemState(ctx, qtx, j.audit, item, domain.ItemStatusSkipped, "payout_item.skipped",
			auditMetadata(map[string]any{"reason": reason}),
			func() (int64, error) { return qtx.SkipItem(ctx, item.ID, item.PayoutStatus) })
		return err
	})
	return ok, err
}

// claim persists the split and flips the item to initiated in one transaction.
func (j *ReconciliationJob) claim(ctx context.Context, item *domain.LedgerItem, split domain.SplitResult, token string, now time.Time) (bool, error) {
	var ok bool
	err := j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		ok, err = transitionItemState(ctx, qtx, j.audit, item, domain.ItemStatusInitiated, "payout_item.claimed",
			auditMetadata(map[string]any{
				"author_payout_minor": split.AuthorMinor,
				"platform_fee_minor":  split.PlatformMinor,
				"claim_token":         token,
				"attempt":             item.Attempt,
			}),
			func() (int64, error) {
				return qtx.ClaimItem(ctx, repository.ClaimItemParams{
					ID:                item.ID,
					AuthorPayoutMinor: split.AuthorMinor,
					PlatformFeeMinor:  split.PlatformMinor,
					ClaimToken:        token,
					ClaimedAt:         now,
				})
			})
		return err
	})
	return ok, err
}

// payOut aggregates the items claimed under one token and issues one transfer per recipient.
func (j *ReconciliationJob) payOut(ctx context.Context, rec *domain.BatchRecord, token string, items []*domain.LedgerItem, recipients map[uuid.UUID]models.Recipient, out *RunOutcome) error {
	byID := make(map[uuid.UUID]*domain.LedgerItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	agg, err := domain.Aggregate(items)
	if err != nil {
		return fmt.Errorf("aggregate batch %s: %w", rec.ID, err)
	}
	for _, group := range agg.Skipped {
		zap.L().Info("recipient total is zero, skipping transfer",
			zap.String("batch_id", rec.ID.String()),
			zap.String("recipient_id", group.RecipientID.String()))
		for _, id := range group.ItemIDs {
			ok, err := j.skip(ctx, byID[id], "zero_recipient_total")
			if err != nil {
				return err
			}
			if ok {
				out.Skipped++
			}
		}
	}

	for _, tr := range agg.Transfers {
		result := j.dispatcher.Dispatch(ctx, DispatchRequest{
			Provider:       rec.Provider,
			BatchID:        rec.ID,
			RecipientID:    tr.RecipientID,
			AccountID:      recipients[tr.RecipientID].ProviderIdentity(rec.Provider),
			AmountMinor:    tr.AmountMinor,
			Currency:       tr.Currency,
			IdempotencyKey: transferIdempotencyKey(rec.ID, tr.RecipientID, token),
		})
		out.Transfers++

		n, err := j.recordTransfer(ctx, tr, token, byID, result)
		if err != nil {
			return err
		}
		if result.Success {
			out.Completed += n
		} else {
			out.Failed += n
		}
	}
	return nil
}

// recordTransfer applies a dispatch result to every item of the transfer. Split
// amounts are left as they are on failure.
func (j *ReconciliationJob) recordTransfer(ctx context.Context, tr domain.AggregatedTransfer, token string, byID map[uuid.UUID]*domain.LedgerItem, result TransferResult) (int, error) {
	applied := 0
	err := j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		applied = 0
		for _, id := range tr.ItemIDs {
			item := byID[id]
			var (
				ok  bool
				err error
			)
			if result.Success {
				ok, err = transitionItemState(ctx, qtx, j.audit, item, domain.ItemStatusCompleted, "payout_item.completed",
					auditMetadata(map[string]any{"provider_transfer_id": result.ProviderTransferID, "amount_minor": tr.AmountMinor}),
					func() (int64, error) { return qtx.CompleteItem(ctx, id, token, result.ProviderTransferID) })
			} else {
				ok, err = transitionItemState(ctx, qtx, j.audit, item, domain.ItemStatusFailed, "payout_item.failed",
					auditMetadata(map[string]any{"error": result.ErrorMessage, "retryable": result.Retryable}),
					func() (int64, error) {
						return qtx.FailItem(ctx, repository.FailItemParams{
							ID:         id,
							FromStatus: domain.ItemStatusInitiated,
							ClaimToken: token,
							Error:      result.ErrorMessage,
							Retryable:  result.Retryable,
						})
					})
			}
			if err != nil {
				return err
			}
			if !ok {
				zap.L().Warn("item left its claim before the transfer result was recorded",
					zap.String("item_id", id.String()),
					zap.Bool("transfer_succeeded", result.Success))
				continue
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// settle records the final batch status and fee once no item is in flight.
func (j *ReconciliationJob) settle(ctx context.Context, batchID uuid.UUID, out *RunOutcome) error {
	return j.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.LockBatch(ctx, batchID); err != nil {
			return fmt.Errorf("lock batch: %w", err)
		}
		rec, err := qtx.LoadBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		out.BatchStatus = rec.PayoutStatus
		out.PlatformFee = rec.PlatformFeeAmount
		if rec.InFlight() {
			return nil
		}

		next := domain.BatchStatusCompleted
		if rec.HasFailures() {
			next = domain.BatchStatusPartiallyFailed
		}
		fee := rec.PlatformFeeTotal()
		feeMinor := domain.ToMinorUnits(fee, rec.Currency)

		current := rec.PayoutStatus
		if current == next || current == domain.BatchStatusCompleted {
			return nil
		}
		if current != domain.BatchStatusInitiated {
			action := "payout_batch.initiated"
			if current == domain.BatchStatusPartiallyFailed {
				action = "payout_batch.resumed"
			}
			if err := transitionBatchState(ctx, qtx, j.audit, batchID, current, domain.BatchStatusInitiated,
				feeMinor, nil, action, nil); err != nil {
				return err
			}
			current = domain.BatchStatusInitiated
		}

		failed := failedItemIDs(rec.Items)
		if err := transitionBatchState(ctx, qtx, j.audit, batchID, current, next, feeMinor, nil, "payout_batch."+next,
			auditMetadata(map[string]any{"platform_fee_minor": feeMinor, "failed_items": failed})); err != nil {
			return err
		}
		if next == domain.BatchStatusPartiallyFailed {
			zap.L().Warn("batch payout partially failed",
				zap.String("batch_id", batchID.String()),
				zap.Strings("failed_items", failed))
		}
		out.BatchStatus = next
		out.PlatformFee = fee
		return nil
	})
}

type claimGroup struct {
	token string
	items []*domain.LedgerItem
}

// groupByClaimToken keeps groups in the order their first item appears.
func groupByClaimToken(items []*domain.LedgerItem) []claimGroup {
	index := make(map[string]int)
	var groups []claimGroup
	for _, item := range items {
		pos, ok := index[item.ClaimToken]
		if !ok {
			pos = len(groups)
			index[item.ClaimToken] = pos
			groups = append(groups, claimGroup{token: item.ClaimToken})
		}
		groups[pos].items = append(groups[pos].items, item)
	}
	return groups
}

func staleClaimTokens(items []*domain.LedgerItem, cutoff time.Time) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, item := range items {
		if !item.IsStaleClaim(cutoff) || item.ClaimToken == "" {
			continue
		}
		if _, ok := seen[item.ClaimToken]; ok {
			continue
		}
		seen[item.ClaimToken] = struct{}{}
		tokens = append(tokens, item.ClaimToken)
	}
	sort.Strings(tokens)
	return tokens
}

func recipientIDs(items []*domain.LedgerItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.RecipientID]; ok {
			continue
		}
		seen[item.RecipientID] = struct{}{}
		ids = append(ids, item.RecipientID)
	}
	return ids
}

func failedItemIDs(items []*domain.LedgerItem) []string {
	var ids []string
	for _, item := range items {
		if item.PayoutStatus == domain.ItemStatusFailed {
			ids = append(ids, item.ID.String())
		}
	}
	return ids
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
