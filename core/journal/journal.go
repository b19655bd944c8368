package journal

// Journal records undo operations for every state mutation performed during a
// call so the whole call can be rolled back when it fails. Snapshots nest: a
// revert only unwinds the entries appended after the snapshot was taken.
//
// Journal is not safe for concurrent use; callers serialize entry points.
type Journal struct {
	entries []func()
	depth   int
}

// New returns an empty journal.
func New() *Journal { return &Journal{} }

// Append registers an undo function. A nil journal discards the entry so
// components can run unjournaled in isolation.
func (j *Journal) Append(undo func()) {
	if j == nil || undo == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Snapshot returns an identifier for the current journal position.
func (j *Journal) Snapshot() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// RevertToSnapshot undoes, newest first, every entry appended after id.
func (j *Journal) RevertToSnapshot(id int) {
	if j == nil {
		return
	}
	if id < 0 {
		id = 0
	}
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
	}
	if id < len(j.entries) {
		j.entries = j.entries[:id]
	}
}

// Commit discards the entries appended after id once a top-level call
// succeeds. It does nothing inside Atomically or for a nested id.
func (j *Journal) Commit(id int) {
	if j == nil || id != 0 || j.depth > 0 {
		return
	}
	j.entries = j.entries[:0]
}

// Len reports the number of pending undo entries.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

// Atomically runs fn and reverts all journaled mutations when it fails.
// Entries are only discarded when the outermost call returns, so a parent
// scope can still undo a nested one that succeeded.
func (j *Journal) Atomically(fn func() error) error {
	if j == nil {
		return fn()
	}
	snap := j.Snapshot()
	j.depth++
	err := fn()
	j.depth--
	if err != nil {
		j.RevertToSnapshot(snap)
		return err
	}
	j.Commit(snap)
	return nil
}
