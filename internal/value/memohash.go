package value

import (
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// MemoHash pairs a value with a precomputed content hash so that graph
// hashing and memo lookups never re-serialize the value. The hash is only
// invalidated through Mutate, which recomputes it when the guard is closed.
type MemoHash struct {
	mu   sync.Mutex
	v    cty.Value
	hash uint64
}

// NewMemoHash wraps a value and computes its hash eagerly.
func NewMemoHash(v cty.Value) *MemoHash {
	return &MemoHash{v: v, hash: Hash(v)}
}

// Value returns the wrapped value.
func (m *MemoHash) Value() cty.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v
}

// Hash returns the precomputed content hash.
func (m *MemoHash) Hash() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hash
}

// Guard grants mutable access to the wrapped value. Closing the guard
// recomputes the hash; holding it keeps the slot locked.
type Guard struct {
	m *MemoHash
	// Value may be replaced freely while the guard is open.
	Value cty.Value
}

// Mutate opens a mutable-access guard. The caller must Close it.
func (m *MemoHash) Mutate() *Guard {
	m.mu.Lock()
	return &Guard{m: m, Value: m.v}
}

// Close writes the (possibly replaced) value back, recomputes the hash, and
// releases the slot.
func (g *Guard) Close() {
	g.m.v = g.Value
	g.m.hash = Hash(g.Value)
	g.m.mu.Unlock()
}
