package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/internal/store"
)

type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return insertTransaction(ctx, t.tx, tx)
}

func (t *PostgresTx) UpdateTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int) error {
	return updateTransaction(ctx, t.tx, tx, expectedVersion)
}

func (t *PostgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *PostgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return err
}

var _ store.Transaction = (*PostgresTx)(nil)
