package executor

import (
	"basaltdb/pkg/database"
)

// ValuesExecutor emits a fixed list of tuples. It is the usual child of an
// insert.
type ValuesExecutor struct {
	tuples []database.Tuple
	pos    int
}

// NewValuesExecutor wraps literal rows as an executor.
func NewValuesExecutor(tuples []database.Tuple) *ValuesExecutor {
	return &ValuesExecutor{tuples: tuples}
}

func (e *ValuesExecutor) Init() error {
	e.pos = 0
	return nil
}

func (e *ValuesExecutor) Next() (*database.Tuple, bool, error) {
	if e.pos >= len(e.tuples) {
		return nil, false, nil
	}
	t := e.tuples[e.pos]
	e.pos++
	return &t, true, nil
}
