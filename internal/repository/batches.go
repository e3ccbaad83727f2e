package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/author-payouts/internal/domain"
	"github.com/google/uuid"
)

const batchColumns = `id, kind, provider, currency, total_minor, platform_fee_minor, payout_status, payment_status, external_payment_reference, created_at, updated_at`

const itemColumns = `id, batch_id, recipient_id, quantity, unit_price_minor, currency, author_payout_minor, platform_fee_minor, payout_status, payout_error, provider_transfer_id, attempt, retryable, claim_token, claimed_at`

type InsertBatchParams struct {
	ID                       uuid.UUID
	Kind                     string
	Provider                 string
	Currency                 string
	TotalMinor               int64
	ExternalPaymentReference string
}

func (q *Queries) InsertBatch(ctx context.Context, arg InsertBatchParams) error {
	now := time.Now().UnixMilli()
	_, err := q.db.exec(ctx, `
		INSERT INTO payout_batches (id, kind, provider, currency, total_minor, platform_fee_minor, payout_status, payment_status, external_payment_reference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Kind, arg.Provider, arg.Currency, arg.TotalMinor,
		domain.BatchStatusPending, domain.PaymentStatusUnpaid, arg.ExternalPaymentReference, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

type InsertItemParams struct {
	ID             uuid.UUID
	BatchID        uuid.UUID
	Position       int
	RecipientID    uuid.UUID
	Quantity       int64
	UnitPriceMinor int64
	Currency       string
}

func (q *Queries) InsertItem(ctx context.Context, arg InsertItemParams) error {
	now := time.Now().UnixMilli()
	_, err := q.db.exec(ctx, `
		INSERT INTO payout_items (id, batch_id, position, recipient_id, quantity, unit_price_minor, currency, payout_status, attempt, retryable, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		arg.ID, arg.BatchID, arg.Position, arg.RecipientID, arg.Quantity, arg.UnitPriceMinor, arg.Currency,
		domain.ItemStatusPending, false, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (q *Queries) GetBatch(ctx context.Context, id uuid.UUID) (*domain.BatchRecord, error) {
	row := q.db.queryRow(ctx, `SELECT `+batchColumns+` FROM payout_batches WHERE id = ?`, id)
	return scanBatch(row)
}

func (q *Queries) GetBatchByReference(ctx context.Context, provider, reference string) (*domain.BatchRecord, error) {
	row := q.db.queryRow(ctx, `SELECT `+batchColumns+` FROM payout_batches WHERE provider = ? AND external_payment_reference = ?`, provider, reference)
	return scanBatch(row)
}

// LoadBatch returns the batch together with its items in checkout order.
func (q *Queries) LoadBatch(ctx context.Context, id uuid.UUID) (*domain.BatchRecord, error) {
	batch, err := q.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := q.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	batch.Items = items
	return batch, nil
}

func (q *Queries) ListItems(ctx context.Context, batchID uuid.UUID) ([]*domain.LedgerItem, error) {
	rows, err := q.db.query(ctx, `SELECT `+itemColumns+` FROM payout_items WHERE batch_id = ? ORDER BY position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*domain.LedgerItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (q *Queries) GetItem(ctx context.Context, id uuid.UUID) (*domain.LedgerItem, error) {
	row := q.db.queryRow(ctx, `SELECT `+itemColumns+` FROM payout_items WHERE id = ?`, id)
	return scanItem(row)
}

// MarkBatchPaid flips an unpaid batch to paid. Zero rows means it was already paid.
func (q *Queries) MarkBatchPaid(ctx context.Context, id uuid.UUID) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_batches SET payment_status = ?, updated_at = ?
		WHERE id = ? AND payment_status = ?`,
		domain.PaymentStatusPaid, time.Now().UnixMilli(), id, domain.PaymentStatusUnpaid,
	)
}

type UpdateBatchPayoutStatusParams struct {
	ID               uuid.UUID
	FromStatus       string
	ToStatus         string
	PlatformFeeMinor int64
}

func (q *Queries) UpdateBatchPayoutStatus(ctx context.Context, arg UpdateBatchPayoutStatusParams) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_batches SET payout_status = ?, platform_fee_minor = ?, updated_at = ?
		WHERE id = ? AND payout_status = ?`,
		arg.ToStatus, arg.PlatformFeeMinor, time.Now().UnixMilli(), arg.ID, arg.FromStatus,
	)
}

type ClaimItemParams struct {
	ID                uuid.UUID
	AuthorPayoutMinor int64
	PlatformFeeMinor  int64
	ClaimToken        string
	ClaimedAt         time.Time
}

// ClaimItem stores the split and moves a pending item to initiated.
// Zero rows means another run already owns the item.
func (q *Queries) ClaimItem(ctx context.Context, arg ClaimItemParams) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_items
		SET payout_status = ?, author_payout_minor = ?, platform_fee_minor = ?, claim_token = ?, claimed_at = ?,
		    payout_error = NULL, retryable = ?, updated_at = ?
		WHERE id = ? AND payout_status = ?`,
		domain.ItemStatusInitiated, arg.AuthorPayoutMinor, arg.PlatformFeeMinor, arg.ClaimToken, arg.ClaimedAt.UnixMilli(),
		false, time.Now().UnixMilli(), arg.ID, domain.ItemStatusPending,
	)
}

// SkipItem marks an item with nothing to pay out as skipped. Split amounts are kept.
func (q *Queries) SkipItem(ctx context.Context, id uuid.UUID, fromStatus string) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_items
		SET payout_status = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND payout_status = ?`,
		domain.ItemStatusSkipped, time.Now().UnixMilli(), id, fromStatus,
	)
}

type FailItemParams struct {
	ID         uuid.UUID
	FromStatus string
	// ClaimToken must match when failing an initiated item.
	ClaimToken string
	Error      string
	Retryable  bool
}

func (q *Queries) FailItem(ctx context.Context, arg FailItemParams) (int64, error) {
	if arg.FromStatus == domain.ItemStatusInitiated {
		return q.db.exec(ctx, `
			UPDATE payout_items
			SET payout_status = ?, payout_error = ?, retryable = ?, claimed_at = NULL, updated_at = ?
			WHERE id = ? AND payout_status = ? AND claim_token = ?`,
			domain.ItemStatusFailed, arg.Error, arg.Retryable, time.Now().UnixMilli(), arg.ID, domain.ItemStatusInitiated, arg.ClaimToken,
		)
	}
	return q.db.exec(ctx, `
		UPDATE payout_items
		SET payout_status = ?, payout_error = ?, retryable = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND payout_status = ?`,
		domain.ItemStatusFailed, arg.Error, arg.Retryable, time.Now().UnixMilli(), arg.ID, arg.FromStatus,
	)
}

// CompleteItem stamps the transfer on an item claimed with claimToken. A retryable
// failure recorded by a slower run holding the same claim is overwritten, since the
// provider has confirmed the transfer.
func (q *Queries) CompleteItem(ctx context.Context, id uuid.UUID, claimToken, transferID string) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_items
		SET payout_status = ?, provider_transfer_id = ?, payout_error = NULL, retryable = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?
		  AND (payout_status = ? OR (payout_status = ? AND retryable = ?))`,
		domain.ItemStatusCompleted, transferID, false, time.Now().UnixMilli(), id, claimToken,
		domain.ItemStatusInitiated, domain.ItemStatusFailed, true,
	)
}

// RequeueFailedItem puts a retryable failure back to pending for the next attempt.
func (q *Queries) RequeueFailedItem(ctx context.Context, id uuid.UUID) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_items
		SET payout_status = ?, attempt = attempt + 1, retryable = ?, claim_token = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND payout_status = ? AND retryable = ?`,
		domain.ItemStatusPending, false, time.Now().UnixMilli(), id, domain.ItemStatusFailed, true,
	)
}

// ReclaimStaleClaims takes over every initiated item of a batch holding claimToken,
// provided none of them was claimed after cutoff. The token is kept so the provider
// idempotency key of the original transfer is reused.
func (q *Queries) ReclaimStaleClaims(ctx context.Context, batchID uuid.UUID, claimToken string, cutoff, now time.Time) (int64, error) {
	return q.db.exec(ctx, `
		UPDATE payout_items SET claimed_at = ?, updated_at = ?
		WHERE batch_id = ? AND claim_token = ? AND payout_status = ?
		  AND (claimed_at IS NULL OR claimed_at < ?)
		  AND NOT EXISTS (
		      SELECT 1 FROM payout_items fresh
		      WHERE fresh.batch_id = ? AND fresh.claim_token = ? AND fresh.payout_status = ?
		        AND fresh.claimed_at >= ?)`,
		now.UnixMilli(), now.UnixMilli(),
		batchID, claimToken, domain.ItemStatusInitiated, cutoff.UnixMilli(),
		batchID, claimToken, domain.ItemStatusInitiated, cutoff.UnixMilli(),
	)
}

// LockBatch serialises writers on a batch row for the rest of the transaction.
// SQLite runs a single writer connection, so there is nothing to lock.
func (q *Queries) LockBatch(ctx context.Context, id uuid.UUID) error {
	if q.driver != DriverPostgres {
		return nil
	}
	var locked uuid.UUID
	return q.db.queryRow(ctx, `SELECT id FROM payout_batches WHERE id = ? FOR UPDATE`, id).Scan(&locked)
}

// ListBatchesNeedingPayout returns paid batches with unfinished or retryable items.
func (q *Queries) ListBatchesNeedingPayout(ctx context.Context, staleBefore time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := q.db.query(ctx, `
		SELECT DISTINCT b.id
		FROM payout_batches b
		JOIN payout_items i ON i.batch_id = b.id
		WHERE b.payment_status = ?
		  AND (i.payout_status = ?
		       OR (i.payout_status = ? AND i.retryable = ?)
		       OR (i.payout_status = ? AND (i.claimed_at IS NULL OR i.claimed_at < ?)))
		ORDER BY b.id
		LIMIT ?`,
		domain.PaymentStatusPaid,
		domain.ItemStatusPending,
		domain.ItemStatusFailed, true,
		domain.ItemStatusInitiated, staleBefore.UnixMilli(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches needing payout: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SplitItemRow carries the persisted split of one item for integrity checks.
type SplitItemRow struct {
	ItemID            uuid.UUID
	BatchID           uuid.UUID
	Kind              string
	Currency          string
	Quantity          int64
	UnitPriceMinor    int64
	AuthorPayoutMinor int64
	PlatformFeeMinor  int64
	PayoutStatus      string
}

// ListSplitItems returns every item that has gone through the split calculator.
func (q *Queries) ListSplitItems(ctx context.Context) ([]SplitItemRow, error) {
	rows, err := q.db.query(ctx, `
		SELECT i.id, i.batch_id, b.kind, i.currency, i.quantity, i.unit_price_minor,
		       i.author_payout_minor, i.platform_fee_minor, i.payout_status
		FROM payout_items i
		JOIN payout_batches b ON b.id = i.batch_id
		WHERE i.payout_status IN (?, ?)
		   OR (i.payout_status = ? AND (i.author_payout_minor <> 0 OR i.platform_fee_minor <> 0))
		ORDER BY i.batch_id, i.position`,
		domain.ItemStatusInitiated, domain.ItemStatusCompleted, domain.ItemStatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("list split items: %w", err)
	}
	defer rows.Close()

	var out []SplitItemRow
	for rows.Next() {
		var r SplitItemRow
		if err := rows.Scan(&r.ItemID, &r.BatchID, &r.Kind, &r.Currency, &r.Quantity, &r.UnitPriceMinor,
			&r.AuthorPayoutMinor, &r.PlatformFeeMinor, &r.PayoutStatus); err != nil {
			return nil, fmt.Errorf("scan split item: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BatchFeeMismatch is a settled batch whose recorded fee differs from its items.
type BatchFeeMismatch struct {
	BatchID       uuid.UUID
	Currency      string
	RecordedMinor int64
	ItemsMinor    int64
}

func (q *Queries) ListBatchFeeMismatches(ctx context.Context) ([]BatchFeeMismatch, error) {
	rows, err := q.db.query(ctx, `
		SELECT b.id, b.currency, b.platform_fee_minor, COALESCE(SUM(i.platform_fee_minor), 0)
		FROM payout_batches b
		JOIN payout_items i ON i.batch_id = b.id
		WHERE b.payout_status IN (?, ?)
		GROUP BY b.id, b.currency, b.platform_fee_minor
		HAVING b.platform_fee_minor <> COALESCE(SUM(i.platform_fee_minor), 0)`,
		domain.BatchStatusCompleted, domain.BatchStatusPartiallyFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch fee mismatches: %w", err)
	}
	defer rows.Close()

	var out []BatchFeeMismatch
	for rows.Next() {
		var m BatchFeeMismatch
		if err := rows.Scan(&m.BatchID, &m.Currency, &m.RecordedMinor, &m.ItemsMinor); err != nil {
			return nil, fmt.Errorf("scan batch fee mismatch: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanBatch(row rowScanner) (*domain.BatchRecord, error) {
	var (
		b                  domain.BatchRecord
		totalMinor, feeMin int64
		created, updated   int64
	)
	if err := row.Scan(&b.ID, &b.Kind, &b.Provider, &b.Currency, &totalMinor, &feeMin,
		&b.PayoutStatus, &b.PaymentStatus, &b.ExternalPaymentReference, &created, &updated); err != nil {
		return nil, err
	}
	b.TotalAmount = domain.FromMinorUnits(totalMinor, b.Currency)
	b.PlatformFeeAmount = domain.FromMinorUnits(feeMin, b.Currency)
	b.CreatedAt = time.UnixMilli(created).UTC()
	b.UpdatedAt = time.UnixMilli(updated).UTC()
	return &b, nil
}

func scanItem(row rowScanner) (*domain.LedgerItem, error) {
	var (
		item                                   domain.LedgerItem
		unitPriceMinor, authorMinor, feeMinor int64
		claimToken                             *string
		claimedAt                              *int64
	)
	if err := row.Scan(&item.ID, &item.BatchID, &item.RecipientID, &item.Quantity, &unitPriceMinor, &item.Currency,
		&authorMinor, &feeMinor, &item.PayoutStatus, &item.PayoutError, &item.ProviderTransferID,
		&item.Attempt, &item.Retryable, &claimToken, &claimedAt); err != nil {
		return nil, err
	}
	item.UnitPrice = domain.FromMinorUnits(unitPriceMinor, item.Currency)
	item.AuthorPayoutAmount = domain.FromMinorUnits(authorMinor, item.Currency)
	item.PlatformFeeAmount = domain.FromMinorUnits(feeMinor, item.Currency)
	if claimToken != nil {
		item.ClaimToken = *claimToken
	}
	if claimedAt != nil {
		t := time.UnixMilli(*claimedAt).UTC()
		item.ClaimedAt = &t
	}
	return &item, nil
}
