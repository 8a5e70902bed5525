package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UnitOfWork bundles persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(err, "begin transaction")
	}
	return &UnitOfWork{tx: tx}, nil
}

// Tx exposes the underlying transaction to repositories.
func (u *UnitOfWork) Tx() *sqlx.Tx {
	return u.tx
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// Do runs fn inside a unit of work, committing on success and rolling back otherwise.
func (db *DB) Do(ctx context.Context, fn func(u *UnitOfWork) error) error {
	u, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = u.Rollback() }()

	if err := fn(u); err != nil {
		return err
	}
	if err := u.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}
