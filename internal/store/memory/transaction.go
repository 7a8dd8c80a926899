package memory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/procuredata/console/internal/models"
)

type pendingOp struct {
	tx              *models.Transaction
	expectedVersion int
	create          bool
}

// memoryTx buffers writes and applies them atomically on Commit.
type memoryTx struct {
	store *Store
	ops   []pendingOp
	done  bool
}

var errTxDone = errors.New("transaction already committed or rolled back")

func (t *memoryTx) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	if t.done {
		return errTxDone
	}
	t.ops = append(t.ops, pendingOp{tx: tx.Clone(), create: true})
	return nil
}

func (t *memoryTx) UpdateTransaction(_ context.Context, tx *models.Transaction, expectedVersion int) error {
	if t.done {
		return errTxDone
	}
	t.ops = append(t.ops, pendingOp{tx: tx.Clone(), expectedVersion: expectedVersion})
	return nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[uuid.UUID]*models.Transaction, len(t.ops))
	for _, op := range t.ops {
		if current, ok := s.transactions[op.tx.ID]; ok {
			snapshot[op.tx.ID] = current
		}
	}

	for _, op := range t.ops {
		var err error
		if op.create {
			err = s.createTransactionLocked(op.tx)
		} else {
			err = s.updateTransactionLocked(op.tx, op.expectedVersion)
		}
		if err != nil {
			for _, applied := range t.ops {
				if prev, ok := snapshot[applied.tx.ID]; ok {
					s.transactions[applied.tx.ID] = prev
				} else {
					delete(s.transactions, applied.tx.ID)
				}
			}
			return err
		}
	}
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}
