package store

// TxState is the state of a per-connection transaction queue
type TxState uint8

const (
	TxIdle    TxState = iota // commands are executed immediately
	TxQueuing                // commands are queued until EXEC
)

// Transaction is the per-connection command queue used by MULTI/EXEC.
// Queued commands are kept as argument vectors, executing them is up to the
// caller (the command dispatcher), so the queue does not depend on how
// commands are decoded or run.
//
// Thread-safety: A Transaction belongs to exactly one connection and is not thread-safe.
type Transaction struct {
	state   TxState
	pending [][]string
	dirty   bool
}

// NewTransaction creates an idle transaction queue
func NewTransaction() *Transaction {
	return &Transaction{state: TxIdle}
}

// State returns the current state
func (t *Transaction) State() TxState {
	return t.state
}

// Queuing reports whether commands are currently being queued
func (t *Transaction) Queuing() bool {
	return t.state == TxQueuing
}

// Len returns the number of queued commands
func (t *Transaction) Len() int {
	return len(t.pending)
}

// Begin starts queuing (MULTI)
func (t *Transaction) Begin() error {
	if t.state == TxQueuing {
		return ErrNestedMulti
	}
	t.state = TxQueuing
	t.pending = nil
	t.dirty = false
	return nil
}

// Enqueue appends argv to the queue if the transaction is queuing.
// It returns false, without queuing, if the transaction is idle.
func (t *Transaction) Enqueue(argv []string) bool {
	if t.state != TxQueuing {
		return false
	}
	cmd := make([]string, len(argv))
	copy(cmd, argv)
	t.pending = append(t.pending, cmd)
	return true
}

// MarkDirty flags the transaction after a command was rejected while queuing.
// A dirty transaction is discarded by the next Drain.
func (t *Transaction) MarkDirty() {
	if t.state == TxQueuing {
		t.dirty = true
	}
}

// Drain returns the queued commands in FIFO order and resets the transaction
// to idle (EXEC). It fails with ErrExecWithoutMulti if no transaction was
// started and with ErrExecAbort if a command was rejected while queuing.
func (t *Transaction) Drain() ([][]string, error) {
	if t.state != TxQueuing {
		return nil, ErrExecWithoutMulti
	}
	pending, dirty := t.pending, t.dirty
	t.reset()
	if dirty {
		return nil, ErrExecAbort
	}
	return pending, nil
}

// Discard drops all queued commands (DISCARD)
func (t *Transaction) Discard() error {
	if t.state != TxQueuing {
		return ErrDiscardWithoutMulti
	}
	t.reset()
	return nil
}

func (t *Transaction) reset() {
	t.state = TxIdle
	t.pending = nil
	t.dirty = false
}
