package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the infra-defined transaction handle (pgx.Tx for Postgres). Repository
// helpers accept a nil Tx and then run on the pool.
type Tx interface{}

// TransactionManager runs fn inside one transaction. A run and its details are
// written through it so history never holds a run without its details.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
