package repository

import (
	"context"
	"time"
)

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	UpdatedAt      time.Time
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, updated_at`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	row := q.db.queryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = ?`, key)
	return scanIdempotencyKey(row)
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

// ReserveIdempotencyKey inserts an in-progress row. It reports false when the key already exists.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	now := time.Now().UnixMilli()
	n, err := q.db.exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path, true, now, now,
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type FinalizeIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	row := q.db.queryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = ?, response_body = ?, content_type = ?, in_progress = ?, updated_at = ?
		WHERE idempotency_key = ? AND request_hash = ?
		RETURNING `+idempotencyColumns,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, false, time.Now().UnixMilli(),
		arg.IdempotencyKey, arg.RequestHash,
	)
	return scanIdempotencyKey(row)
}

// ReleaseIdempotencyKey drops an unfinished reservation so the client may retry.
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	_, err := q.db.exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = ? AND in_progress = ?`, key, true)
	return err
}

// DeleteIdempotencyKeyBefore removes key when its in_progress flag matches and
// it was last touched before cutoff. It reports whether a row was removed.
func (q *Queries) DeleteIdempotencyKeyBefore(ctx context.Context, key string, inProgress bool, cutoff time.Time) (bool, error) {
	n, err := q.db.exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = ? AND in_progress = ? AND updated_at < ?`,
		key, inProgress, cutoff.UnixMilli())
	return n == 1, err
}

// PurgeIdempotencyKeys removes finished keys older than finishedBefore and
// abandoned reservations older than staleBefore.
func (q *Queries) PurgeIdempotencyKeys(ctx context.Context, finishedBefore, staleBefore time.Time) (int64, error) {
	return q.db.exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE (in_progress = ? AND updated_at < ?) OR (in_progress = ? AND updated_at < ?)`,
		false, finishedBefore.UnixMilli(), true, staleBefore.UnixMilli())
}

func scanIdempotencyKey(row rowScanner) (IdempotencyKey, error) {
	var k IdempotencyKey
	var updatedAt int64
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.ResponseStatus,
		&k.ResponseBody, &k.ContentType, &k.InProgress, &updatedAt)
	k.UpdatedAt = time.UnixMilli(updatedAt)
	return k, err
}
