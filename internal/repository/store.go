package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides access to queries and transaction scoping for either backend.
type Store struct {
	driver  string
	pg      *pgxpool.Pool
	sqlDB   *sql.DB
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		driver:  DriverPostgres,
		pg:      db,
		queries: newQueries(DriverPostgres, pgxConn{q: db}),
	}
}

// NewSQLiteStore creates a store wrapper around a sqlite database handle.
func NewSQLiteStore(db *sql.DB) *Store {
	return &Store{
		driver:  DriverSQLite,
		sqlDB:   db,
		queries: newQueries(DriverSQLite, sqlConn{q: db}),
	}
}

// Driver names the backend in use.
func (s *Store) Driver() string {
	return s.driver
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pg != nil {
		return s.pg.Ping(ctx)
	}
	return s.sqlDB.PingContext(ctx)
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	if s.pg != nil {
		return s.runInPgxTx(ctx, fn)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newQueries(DriverSQLite, sqlConn{q: tx})); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) runInPgxTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.pg.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(newQueries(DriverPostgres, pgxConn{q: tx})); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Queries is the set of statements used by the services.
type Queries struct {
	driver string
	db     dbtx
}

func newQueries(driver string, db dbtx) *Queries {
	return &Queries{driver: driver, db: db}
}
