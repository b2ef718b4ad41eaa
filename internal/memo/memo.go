// Package memo provides caching wrappers around registry nodes: an
// input-hashed cache, an input-ignoring once cell, and a pass-through
// monitor that records the last evaluation for inspection.
package memo

import (
	"context"
	"sync"

	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/value"
)

// Cache wraps a node and replays the previous result when the content hash
// of the input matches. It holds a single slot: an evaluation with a new
// input displaces the stored one, so memory stays constant no matter how
// many distinct inputs come through. Errors are never cached; a failed
// evaluation is retried on the next call with the same input.
type Cache struct {
	inner registry.Node

	mu     sync.Mutex
	filled bool
	key    uint64
	out    any
}

// NewCache wraps inner with a single-slot input-hashed cache.
func NewCache(inner registry.Node) *Cache {
	return &Cache{inner: inner}
}

func (c *Cache) Eval(ctx context.Context, input any) (any, error) {
	key := value.HashAny(input)

	c.mu.Lock()
	if c.filled && c.key == key {
		out := c.out
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	out, err := c.inner.Eval(ctx, input)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.filled = true
	c.key = key
	c.out = out
	c.mu.Unlock()
	return out, nil
}

// Reset empties the slot and resets the inner node if it supports
// resetting.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.filled = false
	c.out = nil
	c.mu.Unlock()
	if r, ok := c.inner.(registry.Resettable); ok {
		r.Reset()
	}
}

// Once wraps a node and evaluates it at most once: the first successful
// result is replayed for every subsequent call, regardless of the input.
// Callers pick this over Cache when the node's output does not depend on
// its input, accepting stale results if that assumption is wrong.
type Once struct {
	inner registry.Node

	mu     sync.Mutex
	filled bool
	out    any
}

// NewOnce wraps inner with an input-ignoring once cell.
func NewOnce(inner registry.Node) *Once {
	return &Once{inner: inner}
}

func (o *Once) Eval(ctx context.Context, input any) (any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.filled {
		return o.out, nil
	}
	out, err := o.inner.Eval(ctx, input)
	if err != nil {
		return nil, err
	}
	o.out = out
	o.filled = true
	return out, nil
}

// Reset empties the cell so the next Eval re-invokes the inner node.
func (o *Once) Reset() {
	o.mu.Lock()
	o.filled = false
	o.out = nil
	o.mu.Unlock()
	if r, ok := o.inner.(registry.Resettable); ok {
		r.Reset()
	}
}

// Record is one observed evaluation of a monitored node.
type Record struct {
	Input  any
	Output any
}

// Monitor wraps a node, always re-invoking it, and keeps the most recent
// input and output for introspection.
type Monitor struct {
	inner registry.Node

	mu   sync.Mutex
	last *Record
}

// NewMonitor wraps inner with a recording pass-through.
func NewMonitor(inner registry.Node) *Monitor {
	return &Monitor{inner: inner}
}

func (m *Monitor) Eval(ctx context.Context, input any) (any, error) {
	out, err := m.inner.Eval(ctx, input)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.last = &Record{Input: input, Output: out}
	m.mu.Unlock()
	return out, nil
}

// Snapshot returns the most recent evaluation record, or false if the node
// has not successfully evaluated yet.
func (m *Monitor) Snapshot() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, false
	}
	return *m.last, true
}

// Reset forgets the recorded evaluation and resets the inner node if it
// supports resetting.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
	if r, ok := m.inner.(registry.Resettable); ok {
		r.Reset()
	}
}

// Underlying returns the wrapped node, unwrapping nested wrappers so
// introspection can reach the innermost implementation.
func (m *Monitor) Underlying() registry.Node { return m.inner }
