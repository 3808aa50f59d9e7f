package concurrency

import (
	"fmt"

	"github.com/pkg/errors"
)

// AbortReason enumerates why a lock acquisition aborted its transaction.
type AbortReason int

const (
	LOCK_SHARED_ON_READ_UNCOMMITTED AbortReason = iota
	LOCK_ON_SHRINKING
	INCOMPATIBLE_UPGRADE
	UPGRADE_CONFLICT
	TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS
	ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD
	TABLE_LOCK_NOT_PRESENT
	ATTEMPTED_INTENTION_LOCK_ON_ROW
)

func (reason AbortReason) String() string {
	switch reason {
	case LOCK_SHARED_ON_READ_UNCOMMITTED:
		return "LOCK_SHARED_ON_READ_UNCOMMITTED"
	case LOCK_ON_SHRINKING:
		return "LOCK_ON_SHRINKING"
	case INCOMPATIBLE_UPGRADE:
		return "INCOMPATIBLE_UPGRADE"
	case UPGRADE_CONFLICT:
		return "UPGRADE_CONFLICT"
	case TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS:
		return "TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS"
	case ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD:
		return "ATTEMPTED_UNLOCK_BUT_NO_LOCK_HELD"
	case TABLE_LOCK_NOT_PRESENT:
		return "TABLE_LOCK_NOT_PRESENT"
	case ATTEMPTED_INTENTION_LOCK_ON_ROW:
		return "ATTEMPTED_INTENTION_LOCK_ON_ROW"
	}
	return "UNKNOWN"
}

// TransactionAbortError is raised when a lock call violates the two-phase
// locking or isolation rules. The transaction is always marked ABORTED
// before the error is returned.
type TransactionAbortError struct {
	TxnID  int64
	Reason AbortReason
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("transaction %d aborted: %s", e.TxnID, e.Reason)
}

// ErrTxnAborted is returned to a waiter that wakes up to find its
// transaction was chosen as a deadlock victim.
var ErrTxnAborted = errors.New("transaction was aborted while waiting for a lock")
