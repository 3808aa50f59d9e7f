package executor

import (
	"basaltdb/pkg/database"
)

// LimitExecutor passes through the first N tuples of its child.
type LimitExecutor struct {
	child   Executor
	n       int64
	emitted int64
}

// NewLimitExecutor caps the child's stream at n tuples.
func NewLimitExecutor(child Executor, n int64) *LimitExecutor {
	return &LimitExecutor{child: child, n: n}
}

func (e *LimitExecutor) Init() error {
	e.emitted = 0
	return e.child.Init()
}

func (e *LimitExecutor) Next() (*database.Tuple, bool, error) {
	if e.emitted >= e.n {
		return nil, false, nil
	}
	t, ok, err := e.child.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	e.emitted++
	return t, true, nil
}
