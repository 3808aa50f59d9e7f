package concurrency_test

import (
	"testing"
	"time"

	"basaltdb/pkg/concurrency"
	"basaltdb/pkg/entry"

	"github.com/stretchr/testify/require"
)

const detectInterval = 20 * time.Millisecond

func setupManager(t *testing.T) *concurrency.Manager {
	t.Helper()
	t.Parallel()
	tm := concurrency.NewManager(detectInterval)
	t.Cleanup(tm.Close)
	return tm
}

func requireAbortReason(t *testing.T, err error, reason concurrency.AbortReason) {
	t.Helper()
	require.Error(t, err)
	abortErr, ok := err.(*concurrency.TransactionAbortError)
	require.True(t, ok, "expected TransactionAbortError, got %v", err)
	require.Equal(t, reason, abortErr.Reason)
}

func TestLockTableBasic(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn, concurrency.SHARED, 1))
	require.True(t, txn.HoldsTableLock(concurrency.SHARED, 1))
	// Re-requesting the same mode succeeds without a second entry.
	require.NoError(t, lm.LockTable(txn, concurrency.SHARED, 1))
	require.NoError(t, lm.UnlockTable(txn, 1))
	require.False(t, txn.HoldsTableLock(concurrency.SHARED, 1))
}

func TestCompatibleSharedLocks(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	t1 := tm.Begin(concurrency.REPEATABLE_READ)
	t2 := tm.Begin(concurrency.REPEATABLE_READ)
	t3 := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(t1, concurrency.INTENTION_SHARED, 1))
	require.NoError(t, lm.LockTable(t2, concurrency.SHARED, 1))
	require.NoError(t, lm.LockTable(t3, concurrency.INTENTION_SHARED, 1))
	require.NoError(t, tm.Commit(t1))
	require.NoError(t, tm.Commit(t2))
	require.NoError(t, tm.Commit(t3))
}

// A waiter on an exclusive table lock is granted the lock when the holder
// releases, and enters SHRINKING only on its own first unlock.
func TestExclusiveHandoffAndShrinking(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	t1 := tm.Begin(concurrency.REPEATABLE_READ)
	t2 := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(t1, concurrency.EXCLUSIVE, 1))

	granted := make(chan error, 1)
	go func() {
		granted <- lm.LockTable(t2, concurrency.EXCLUSIVE, 1)
	}()
	select {
	case err := <-granted:
		t.Fatalf("t2 acquired X while t1 held it: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.UnlockTable(t1, 1))
	// Releasing X moves t1 to SHRINKING under REPEATABLE_READ.
	require.Equal(t, concurrency.SHRINKING, t1.GetState())
	require.NoError(t, <-granted)
	// t2 stays GROWING until its own first unlock.
	require.Equal(t, concurrency.GROWING, t2.GetState())
	require.NoError(t, lm.UnlockTable(t2, 1))
	require.Equal(t, concurrency.SHRINKING, t2.GetState())
}

// An upgrading transaction takes the single upgrade slot; a second would-be
// upgrader aborts immediately with UPGRADE_CONFLICT.
func TestUpgradeConflict(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	t1 := tm.Begin(concurrency.REPEATABLE_READ)
	t2 := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(t1, concurrency.SHARED, 1))
	require.NoError(t, lm.LockTable(t2, concurrency.SHARED, 1))

	upgraded := make(chan error, 1)
	go func() {
		upgraded <- lm.LockTable(t1, concurrency.EXCLUSIVE, 1)
	}()
	// Wait until t1 is parked as the upgrader.
	time.Sleep(50 * time.Millisecond)
	err := lm.LockTable(t2, concurrency.EXCLUSIVE, 1)
	requireAbortReason(t, err, concurrency.UPGRADE_CONFLICT)
	require.Equal(t, concurrency.ABORTED, t2.GetState())

	// Aborting t2 releases its S lock, letting the upgrade through.
	require.NoError(t, tm.Abort(t2))
	require.NoError(t, <-upgraded)
	require.True(t, t1.HoldsTableLock(concurrency.EXCLUSIVE, 1))
	require.False(t, t1.HoldsTableLock(concurrency.SHARED, 1))
}

func TestIncompatibleUpgrade(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn, concurrency.EXCLUSIVE, 1))
	err := lm.LockTable(txn, concurrency.SHARED, 1)
	requireAbortReason(t, err, concurrency.INCOMPATIBLE_UPGRADE)
}

// READ_UNCOMMITTED may not take shared locks at all.
func TestReadUncommittedRejectsShared(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	for _, mode := range []concurrency.LockMode{
		concurrency.SHARED, concurrency.INTENTION_SHARED, concurrency.SHARED_INTENTION_EXCLUSIVE,
	} {
		txn := tm.Begin(concurrency.READ_UNCOMMITTED)
		err := lm.LockTable(txn, mode, 1)
		requireAbortReason(t, err, concurrency.LOCK_SHARED_ON_READ_UNCOMMITTED)
		require.Equal(t, concurrency.ABORTED, txn.GetState())
	}
}

func TestLockOnShrinking(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn, concurrency.SHARED, 1))
	require.NoError(t, lm.UnlockTable(txn, 1))
	require.Equal(t, concurrency.SHRINKING, txn.GetState())
	err := lm.LockTable(txn, concurrency.SHARED, 2)
	requireAbortReason(t, err, concurrency.LOCK_ON_SHRINKING)
}

// READ_COMMITTED may keep taking S and IS locks while shrinking.
func TestReadCommittedSharedWhileShrinking(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.READ_COMMITTED)
	require.NoError(t, lm.LockTable(txn, concurrency.EXCLUSIVE, 1))
	require.NoError(t, lm.UnlockTable(txn, 1))
	require.Equal(t, concurrency.SHRINKING, txn.GetState())
	require.NoError(t, lm.LockTable(txn, concurrency.INTENTION_SHARED, 2))
	require.NoError(t, lm.LockTable(txn, concurrency.SHARED, 3))
	err := lm.LockTable(txn, concurrency.EXCLUSIVE, 4)
	requireAbortReason(t, err, concurrency.LOCK_ON_SHRINKING)
}

func TestRowLockRequiresTableLock(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	rid := entry.NewRID(1, 1)

	txn := tm.Begin(concurrency.REPEATABLE_READ)
	err := lm.LockRow(txn, concurrency.EXCLUSIVE, 1, rid)
	requireAbortReason(t, err, concurrency.TABLE_LOCK_NOT_PRESENT)

	// IS on the table is not enough for a row X lock.
	txn2 := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn2, concurrency.INTENTION_SHARED, 1))
	err = lm.LockRow(txn2, concurrency.EXCLUSIVE, 1, rid)
	requireAbortReason(t, err, concurrency.TABLE_LOCK_NOT_PRESENT)

	// IX is.
	txn3 := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn3, concurrency.INTENTION_EXCLUSIVE, 1))
	require.NoError(t, lm.LockRow(txn3, concurrency.EXCLUSIVE, 1, rid))
	require.NoError(t, tm.Commit(txn3))
}

func TestRowLockRejectsIntentionModes(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn, concurrency.INTENTION_EXCLUSIVE, 1))
	err := lm.LockRow(txn, concurrency.INTENTION_EXCLUSIVE, 1, entry.NewRID(1, 1))
	requireAbortReason(t, err, concurrency.ATTEMPTED_INTENTION_LOCK_ON_ROW)
}

func TestUnlockTableWithRowLocksHeld(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn, concurrency.INTENTION_EXCLUSIVE, 1))
	require.NoError(t, lm.LockRow(txn, concurrency.EXCLUSIVE, 1, entry.NewRID(1, 1)))
	err := lm.UnlockTable(txn, 1)
	requireAbortReason(t, err, concurrency.TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS)
}

func TestUnlockWithoutLock(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	err := lm.UnlockTable(txn, 7)
	requireAbortReason(t, err, concurrency.ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD)
}

// Unlocking a row under REPEATABLE_READ starts the shrinking phase; the
// shrinking transition consults the row queue, not the table queue.
func TestRowUnlockShrinks(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	rid := entry.NewRID(2, 0)
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(txn, concurrency.INTENTION_SHARED, 1))
	require.NoError(t, lm.LockRow(txn, concurrency.SHARED, 1, rid))
	require.NoError(t, lm.UnlockRow(txn, 1, rid))
	require.Equal(t, concurrency.SHRINKING, txn.GetState())
	// Unlocking the IS table lock afterwards is legal and keeps SHRINKING.
	require.NoError(t, lm.UnlockTable(txn, 1))
	require.Equal(t, concurrency.SHRINKING, txn.GetState())
}

func TestCommitReleasesEverything(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	t1 := tm.Begin(concurrency.REPEATABLE_READ)
	rid := entry.NewRID(3, 3)
	require.NoError(t, lm.LockTable(t1, concurrency.INTENTION_EXCLUSIVE, 1))
	require.NoError(t, lm.LockRow(t1, concurrency.EXCLUSIVE, 1, rid))
	require.NoError(t, tm.Commit(t1))
	require.Equal(t, concurrency.COMMITTED, t1.GetState())

	// A second transaction can take everything immediately.
	t2 := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, lm.LockTable(t2, concurrency.EXCLUSIVE, 1))
	require.NoError(t, tm.Commit(t2))
}

func TestTerminalTxnCannotLock(t *testing.T) {
	tm := setupManager(t)
	lm := tm.GetLockManager()
	txn := tm.Begin(concurrency.REPEATABLE_READ)
	require.NoError(t, tm.Commit(txn))
	err := lm.LockTable(txn, concurrency.SHARED, 1)
	require.Error(t, err)
	_, isAbort := err.(*concurrency.TransactionAbortError)
	require.False(t, isAbort, "terminal-state misuse is a logic error, not an abort")
}
