package registry

import "sync"

// Binding links a task dispatch to the task it carried and the peer it was
// sent to.
type Binding struct {
	TaskID string
	Peer   string
}

// Bindings maps dispatch sequence ids to tasks. Entries live for the whole
// controller run so late reports are still filed under the right task.
type Bindings struct {
	mu    sync.RWMutex
	bySeq map[uint32]Binding
}

// NewBindings creates an empty binding table.
func NewBindings() *Bindings {
	return &Bindings{bySeq: make(map[uint32]Binding)}
}

// Bind records that dispatch seq carried taskID to peer.
func (b *Bindings) Bind(seq uint32, taskID, peer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bySeq[seq] = Binding{TaskID: taskID, Peer: peer}
}

// Lookup returns the binding of a dispatch sequence id.
func (b *Bindings) Lookup(seq uint32) (Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.bySeq[seq]
	return binding, ok
}

// Len returns the number of bindings.
func (b *Bindings) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bySeq)
}
