package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/author-payouts/internal/models"
	"github.com/google/uuid"
)

const recipientColumns = `id, display_name, stripe_account_id, paystack_recipient_code, created_at, updated_at`

type UpsertRecipientParams struct {
	ID                    uuid.UUID
	DisplayName           string
	StripeAccountID       *string
	PaystackRecipientCode *string
}

func (q *Queries) UpsertRecipient(ctx context.Context, arg UpsertRecipientParams) (models.Recipient, error) {
	now := time.Now().UnixMilli()
	row := q.db.queryRow(ctx, `
		INSERT INTO recipients (id, display_name, stripe_account_id, paystack_recipient_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			stripe_account_id = excluded.stripe_account_id,
			paystack_recipient_code = excluded.paystack_recipient_code,
			updated_at = excluded.updated_at
		RETURNING `+recipientColumns,
		arg.ID, arg.DisplayName, arg.StripeAccountID, arg.PaystackRecipientCode, now, now,
	)
	r, err := scanRecipient(row)
	if err != nil {
		return models.Recipient{}, fmt.Errorf("upsert recipient: %w", err)
	}
	return r, nil
}

func (q *Queries) GetRecipient(ctx context.Context, id uuid.UUID) (models.Recipient, error) {
	row := q.db.queryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	return scanRecipient(row)
}

// ListRecipientsByIDs returns the known recipients keyed by id. Unknown ids are absent.
func (q *Queries) ListRecipientsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Recipient, error) {
	out := make(map[uuid.UUID]models.Recipient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.query(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func scanRecipient(row rowScanner) (models.Recipient, error) {
	var (
		r                models.Recipient
		created, updated int64
	)
	if err := row.Scan(&r.ID, &r.DisplayName, &r.StripeAccountID, &r.PaystackRecipientCode, &created, &updated); err != nil {
		return models.Recipient{}, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}
