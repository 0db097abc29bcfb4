package repository

import "context"

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres, nil for the
// in-memory store). Repositories MUST accept a nil Tx (non-transactional path).
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one storage transaction. Repositories
// called with the tx handed to fn see and lock the same snapshot.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
