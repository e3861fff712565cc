package engine

import (
	"errors"
	"fmt"

	"github.com/tuannm99/minirel/internal/mvcc"
)

// The MVCC primitives expose per-row version chains for concurrent hosts.
// Transaction ids and the active-transaction set are owned entirely by the
// caller; the engine keeps no global transaction state.

// MvccInsertUncommitted prepends an uncommitted version of the row created
// by tx. pkIndex locates the primary key inside values.
func (e *Engine) MvccInsertUncommitted(table string, values []string, tx string, pkIndex int) error {
	if err := e.mvcc.InsertUncommitted(table, values, tx, pkIndex); err != nil {
		if errors.Is(err, mvcc.ErrBadPkIndex) {
			return fmt.Errorf("%w: pk index %d out of range", ErrInvalidArgument, pkIndex)
		}
		return err
	}
	return nil
}

// MvccCommitInsert commits tx's pending insert at the head of the chain.
func (e *Engine) MvccCommitInsert(table, pk, tx string) error {
	return e.mvcc.CommitInsert(table, pk, tx)
}

// MvccRollbackInsert discards tx's pending insert at the head of the chain.
func (e *Engine) MvccRollbackInsert(table, pk, tx string) error {
	return e.mvcc.RollbackInsert(table, pk, tx)
}

// MvccMarkDeleteCommit stamps tx as the deleter of the newest committed
// live version.
func (e *Engine) MvccMarkDeleteCommit(table, pk, tx string) error {
	return e.mvcc.MarkDeleteCommit(table, pk, tx)
}

// MvccLookupVisible returns the row version visible to readerTx given the
// caller's active-transaction set, or false when none is.
func (e *Engine) MvccLookupVisible(table, pk, readerTx string, active []string) ([]string, bool) {
	return e.mvcc.LookupVisible(table, pk, readerTx, active)
}

// MvccVacuum prunes version chains no longer visible to any transaction in
// the active set and returns the number of versions removed.
func (e *Engine) MvccVacuum(active []string) int {
	return e.mvcc.Vacuum(active)
}
