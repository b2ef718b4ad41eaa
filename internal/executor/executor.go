// Package executor instantiates compiled networks and evaluates them. The
// Executor owns one shared handle per node, keyed by the node's stable id,
// and keeps handles alive across recompilations so unchanged nodes retain
// their internal state.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/proto"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/typing"
)

// NotBuiltError reports an evaluation attempt before any network was loaded.
type NotBuiltError struct{}

func (e *NotBuiltError) Error() string {
	return "executor has no compiled network loaded"
}

// DowncastError reports an output that is not a runtime value.
type DowncastError struct {
	Got any
}

func (e *DowncastError) Error() string {
	return fmt.Sprintf("network output is %T, not a value", e.Got)
}

// ConstructionError reports a node whose constructor failed or is missing.
type ConstructionError struct {
	ID         document.NodeID
	Identifier string
	Err        error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("constructing node %d (%s): %v", e.ID, e.Identifier, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Executor holds the live node instances of the most recently loaded
// network. Safe for concurrent use.
type Executor struct {
	registry *registry.Registry
	types    *typing.Context

	mu        sync.Mutex
	nodes     map[document.NodeID]*registry.Handle
	paths     map[string]document.NodeID
	output    document.NodeID
	built     bool
	inputType cty.Type

	// orphans holds ids dropped by the latest update; they survive one
	// more update before being freed, so a quickly-undone edit does not
	// lose node state.
	orphans map[document.NodeID]bool

	evalSeq atomic.Uint64
}

// New creates an executor backed by the given registry, with an empty
// typing context.
func New(reg *registry.Registry) *Executor {
	return &Executor{
		registry: reg,
		types:    typing.NewContext(reg),
		nodes:    make(map[document.NodeID]*registry.Handle),
		paths:    make(map[string]document.NodeID),
		orphans:  make(map[document.NodeID]bool),
	}
}

// Types exposes the typing context, for inspection of resolved signatures.
func (e *Executor) Types() *typing.Context { return e.types }

// Build loads a compiled network into the executor for the first time.
// It is Update without the orphan bookkeeping mattering; kept as the
// explicit first-load entry point.
func (e *Executor) Build(ctx context.Context, pn *proto.Network, inputType cty.Type) error {
	_, err := e.Update(ctx, pn, inputType)
	return err
}

// Update loads a compiled network, reusing the live instance of every node
// whose stable id is unchanged and constructing the rest. Nodes absent from
// the new network become orphans: they are kept through this update and
// freed by the next one unless the network reclaims them. The returned
// slice lists the current orphans, in ascending id order.
func (e *Executor) Update(ctx context.Context, pn *proto.Network, inputType cty.Type) ([]document.NodeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.types.Update(ctx, pn, inputType); err != nil {
		return nil, fmt.Errorf("typing network: %w", err)
	}
	order, err := pn.TopologicalSort()
	if err != nil {
		return nil, err
	}

	reused := 0
	for _, id := range order {
		if _, alive := e.nodes[id]; alive {
			reused++
			continue
		}
		handle, err := e.construct(ctx, id, pn.Nodes[id])
		if err != nil {
			return nil, err
		}
		e.nodes[id] = handle
	}

	retained := make(map[document.NodeID]bool, len(order))
	for _, id := range order {
		retained[id] = true
	}
	for id := range e.orphans {
		if retained[id] {
			continue
		}
		// Second consecutive update without this node: free it.
		delete(e.nodes, id)
		e.types.RemoveInference(id)
	}
	e.orphans = make(map[document.NodeID]bool)
	for id := range e.nodes {
		if !retained[id] {
			e.orphans[id] = true
		}
	}

	paths := make(map[string]document.NodeID, len(order))
	for _, id := range order {
		if p := pn.Nodes[id].Path; len(p) > 0 {
			paths[pathKey(p)] = id
		}
	}
	// Orphans stay reachable under their old paths until they are freed,
	// so introspection can still read a just-deleted node's last snapshot.
	for key, id := range e.paths {
		if !e.orphans[id] {
			continue
		}
		if _, taken := paths[key]; !taken {
			paths[key] = id
		}
	}
	e.paths = paths
	e.output = pn.Output
	e.inputType = inputType
	e.built = true

	orphans := make([]document.NodeID, 0, len(e.orphans))
	for id := range e.orphans {
		orphans = append(orphans, id)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })

	ctxlog.FromContext(ctx).Debug("Executor updated.",
		"nodes", len(order), "reused", reused, "orphans", len(orphans))
	return orphans, nil
}

// construct builds the live node for one proto node. Dependency handles
// exist already because construction follows topological order.
func (e *Executor) construct(ctx context.Context, id document.NodeID, pn *proto.Node) (*registry.Handle, error) {
	var node registry.Node
	if pn.Args.Kind == proto.ArgsValue {
		node = &constantNode{value: pn.Args.Value.Value()}
	} else {
		ctor, ok := e.types.Constructor(id)
		if !ok {
			return nil, &ConstructionError{ID: id, Identifier: pn.Identifier, Err: fmt.Errorf("no constructor resolved")}
		}
		params := make([]*registry.Handle, len(pn.Args.Nodes))
		for i, dep := range pn.Args.Nodes {
			params[i] = e.nodes[dep]
		}
		built, err := ctor(ctx, params)
		if err != nil {
			return nil, &ConstructionError{ID: id, Identifier: pn.Identifier, Err: err}
		}
		node = built
	}

	if pn.Input.Kind == proto.InputNode {
		node = &composedNode{upstream: e.nodes[pn.Input.Node], node: node}
	}
	return registry.NewHandle(node), nil
}

// Evaluate runs the loaded network on one input value. Each call is one
// evaluation pass: every node runs at most once, with shared outputs fanned
// out through the handles.
func (e *Executor) Evaluate(ctx context.Context, input cty.Value) (cty.Value, error) {
	e.mu.Lock()
	if !e.built {
		e.mu.Unlock()
		return cty.NilVal, &NotBuiltError{}
	}
	handle := e.nodes[e.output]
	e.mu.Unlock()

	ctx = registry.WithEvaluationID(ctx, e.evalSeq.Add(1))
	out, err := handle.Eval(ctx, input)
	if err != nil {
		return cty.NilVal, err
	}
	v, ok := out.(cty.Value)
	if !ok {
		return cty.NilVal, &DowncastError{Got: out}
	}
	return v, nil
}

// Introspect returns the snapshot of the node at the given document path,
// unwrapping composition and caching layers until one of them can report.
// The second result is false when the path is unknown to the current tree.
// A known node that has never produced output yields (nil, true).
func (e *Executor) Introspect(path []document.NodeID) (any, bool) {
	e.mu.Lock()
	id, ok := e.paths[pathKey(path)]
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	handle := e.nodes[id]
	e.mu.Unlock()

	node := handle.Underlying()
	for node != nil {
		if in, ok := node.(registry.Introspectable); ok {
			if snap, ok := in.Snapshot(); ok {
				return snap, true
			}
		}
		wrapper, ok := node.(interface{ Underlying() registry.Node })
		if !ok {
			break
		}
		node = wrapper.Underlying()
	}
	return nil, true
}

// OutputType returns the resolved output type of the loaded network.
func (e *Executor) OutputType() (cty.Type, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.built {
		return cty.NilType, false
	}
	t, ok := e.types.TypeOf(e.output)
	if !ok {
		return cty.NilType, false
	}
	return t.Output, true
}

// Handle returns the live handle for a stable node id. Intended for tests
// and diagnostics.
func (e *Executor) Handle(id document.NodeID) (*registry.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.nodes[id]
	return h, ok
}

func pathKey(path []document.NodeID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, "/")
}

// constantNode always yields its literal, ignoring the call input.
type constantNode struct {
	value cty.Value
}

func (n *constantNode) Eval(context.Context, any) (any, error) {
	return n.value, nil
}

// composedNode feeds the upstream handle's output into the wrapped node,
// passing the call input through to the upstream side.
type composedNode struct {
	upstream *registry.Handle
	node     registry.Node
}

func (n *composedNode) Eval(ctx context.Context, input any) (any, error) {
	up, err := n.upstream.Eval(ctx, input)
	if err != nil {
		return nil, err
	}
	return n.node.Eval(ctx, up)
}

// Underlying exposes the wrapped node so introspection can traverse past
// the composition layer.
func (n *composedNode) Underlying() registry.Node { return n.node }
