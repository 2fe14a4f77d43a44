package bridge

// RowIterator is the pull sequence of rows produced by a Task. Rows arrive
// in exactly the order the native engine emits its batches, and within a
// batch in the native row order.
type RowIterator struct {
	t    *Task
	cur  Row
	err  error
	done bool
}

// Next advances to the next row. It returns false on exhaustion or failure;
// in both cases the task's resources have been released. Pulling a row may
// block while the native engine computes a batch.
func (it *RowIterator) Next() bool {
	if it.done {
		return false
	}
	row, ok, err := it.t.nextRow()
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if !ok {
		it.done = true
		return false
	}
	it.cur = row
	return true
}

// Row returns the current row. Valid only after Next returned true. The row
// is a defensive copy and stays valid after further pulls or teardown.
func (it *RowIterator) Row() Row {
	return it.cur
}

// Err returns the error that ended iteration, or nil on clean exhaustion.
func (it *RowIterator) Err() error {
	return it.err
}

// Close tears down the underlying task.
func (it *RowIterator) Close() error {
	it.done = true
	return it.t.Close()
}

var _ RowSource = (*RowIterator)(nil)
