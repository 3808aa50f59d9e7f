package concurrency_test

import (
	"path/filepath"
	"testing"

	"basaltdb/pkg/btree"
	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/database"
	"basaltdb/pkg/entry"

	"github.com/stretchr/testify/require"
)

func setupDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBeginAssignsMonotonicIDs(t *testing.T) {
	tm := setupManager(t)
	t1 := tm.Begin(concurrency.REPEATABLE_READ)
	t2 := tm.Begin(concurrency.READ_COMMITTED)
	require.Less(t, t1.GetID(), t2.GetID())
	require.Equal(t, concurrency.GROWING, t1.GetState())
	require.Equal(t, concurrency.REPEATABLE_READ, t1.GetIsolationLevel())
	require.NotEqual(t, t1.GetClientID(), t2.GetClientID())

	got, found := tm.GetTransaction(t1.GetID())
	require.True(t, found)
	require.Same(t, t1, got)
	_, found = tm.GetTransaction(9999)
	require.False(t, found)
}

func TestCommitTerminalStates(t *testing.T) {
	tm := setupManager(t)
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, tm.Commit(txn))
	require.Error(t, tm.Commit(txn))
	require.Error(t, tm.Abort(txn))
}

// Abort undoes heap writes in reverse order: inserts vanish, deletes come
// back, updates revert.
func TestAbortRollsBackHeapWrites(t *testing.T) {
	tm := setupManager(t)
	db := setupDatabase(t)
	table, err := db.CreateTable("accounts", database.Schema{Columns: []string{"id", "balance"}})
	require.NoError(t, err)

	// Committed base row.
	keepRID, err := table.InsertTuple(database.NewTuple(1, 100))
	require.NoError(t, err)

	txn := tm.Begin(concurrency.REPEATABLE_READ)
	// Insert a row.
	newRID, err := table.InsertTuple(database.NewTuple(2, 200))
	require.NoError(t, err)
	txn.AppendTableWrite(concurrency.TableWriteRecord{
		WType: concurrency.INSERT_WRITE, Table: table, RID: newRID,
	})
	// Update the base row.
	old, err := table.GetTuple(keepRID)
	require.NoError(t, err)
	require.NoError(t, table.UpdateTuple(keepRID, database.NewTuple(1, 999)))
	txn.AppendTableWrite(concurrency.TableWriteRecord{
		WType: concurrency.UPDATE_WRITE, Table: table, RID: keepRID, Tuple: old,
	})
	// Then delete it.
	updated, err := table.GetTuple(keepRID)
	require.NoError(t, err)
	require.NoError(t, table.DeleteTuple(keepRID))
	txn.AppendTableWrite(concurrency.TableWriteRecord{
		WType: concurrency.DELETE_WRITE, Table: table, RID: keepRID, Tuple: updated,
	})

	require.NoError(t, tm.Abort(txn))
	require.Equal(t, concurrency.ABORTED, txn.GetState())

	// The inserted row is gone.
	_, err = table.GetTuple(newRID)
	require.ErrorIs(t, err, database.ErrTupleNotFound)
	// The base row is back with its original balance.
	back, err := table.GetTuple(keepRID)
	require.NoError(t, err)
	require.Equal(t, int64(100), back.Values[1].Int)
}

func TestAbortRollsBackIndexWrites(t *testing.T) {
	tm := setupManager(t)
	db := setupDatabase(t)
	index, err := btree.OpenIndex(db.GetPager(), "accountsid", 3, 3)
	require.NoError(t, err)

	rid := entry.NewRID(0, 0)
	require.NoError(t, index.Insert(10, rid))

	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, index.Insert(20, rid))
	txn.AppendIndexWrite(concurrency.IndexWriteRecord{
		WType: concurrency.INSERT_WRITE, Index: index, Key: 20, RID: rid,
	})
	require.NoError(t, index.Delete(10))
	txn.AppendIndexWrite(concurrency.IndexWriteRecord{
		WType: concurrency.DELETE_WRITE, Index: index, Key: 10, RID: rid,
	})

	require.NoError(t, tm.Abort(txn))
	_, err = index.Find(20)
	require.ErrorIs(t, err, btree.ErrKeyNotFound)
	_, err = index.Find(10)
	require.NoError(t, err)
}
