package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/author-payouts/internal/repository"
)

// ErrUnexpectedRowCount means a write that must touch exactly one row did not.
var ErrUnexpectedRowCount = errors.New("unexpected row count")

// QueryStore is the data access the payout services need: reads outside a
// transaction and a transactional scope for state changes.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%w: %s affected %d rows", ErrUnexpectedRowCount, operation, rows)
	}
	return nil
}
