package core

import "sync"

// stateDoc is the in-tree ReplicatedDocument used when no CRDT library is
// wired. Each update carries the full encoded state of the document, and the
// state bytes are the UTF-8 text itself, so a relay deployment converges to
// last-writer-wins without a merge step.
type stateDoc struct {
	mu        sync.RWMutex
	state     []byte
	listeners []func()
}

// NewStateDocument seeds a document with persisted text. Satisfies
// DocumentFactory.
func NewStateDocument(initialText string) ReplicatedDocument {
	return &stateDoc{state: []byte(initialText)}
}

func (d *stateDoc) ApplyUpdate(update []byte) error {
	d.mu.Lock()
	d.state = append([]byte(nil), update...)
	listeners := d.listeners
	d.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (d *stateDoc) EncodeState() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.state...)
}

func (d *stateDoc) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return string(d.state)
}

func (d *stateDoc) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.state) == 0
}

func (d *stateDoc) OnChange(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}
