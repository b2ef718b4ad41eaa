// Package document defines the user-facing network model: possibly deeply
// nested networks of nodes whose inputs are wires to other nodes, embedded
// literal values, imports from the enclosing network, or scope lookups.
package document

import (
	"sort"

	"github.com/vk/nodeflow/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// NodeID identifies a node within one network level. After flattening, ids
// are unique across the whole flat table.
type NodeID uint64

// InputKind discriminates the NodeInput variants.
type InputKind int

const (
	// KindNode wires the input to another node's output.
	KindNode InputKind = iota
	// KindValue embeds a constant literal.
	KindValue
	// KindImport refers to one of the enclosing network's own inputs.
	KindImport
	// KindScope refers to a named value injected by the caller at
	// evaluation time.
	KindScope
)

// NodeInput is a tagged variant; Kind selects which fields are meaningful.
type NodeInput struct {
	Kind InputKind

	// Node / OutputIndex for KindNode.
	Node        NodeID
	OutputIndex int

	// Value for KindValue.
	Value *value.MemoHash

	// ImportIndex / ImportType for KindImport.
	ImportIndex int
	ImportType  cty.Type

	// ScopeKey for KindScope.
	ScopeKey string
}

// NodeWire builds a wire input to another node's output.
func NodeWire(id NodeID, outputIndex int) NodeInput {
	return NodeInput{Kind: KindNode, Node: id, OutputIndex: outputIndex}
}

// ValueInput builds an embedded-literal input.
func ValueInput(v cty.Value) NodeInput {
	return NodeInput{Kind: KindValue, Value: value.NewMemoHash(v)}
}

// ImportInput builds an input that reads the enclosing network's
// importIndex-th input.
func ImportInput(importIndex int, ty cty.Type) NodeInput {
	return NodeInput{Kind: KindImport, ImportIndex: importIndex, ImportType: ty}
}

// ScopeInput builds an input resolved from a named scope injection.
func ScopeInput(key string) NodeInput {
	return NodeInput{Kind: KindScope, ScopeKey: key}
}

// Implementation is either a reference to a registered proto node kind, or
// an embedded nested network.
type Implementation struct {
	// Proto names a registry entry when Network is nil.
	Proto string
	// Network, when non-nil, makes the node a wrapper around a subgraph.
	Network *Network
}

// ProtoImpl references a registered leaf node kind.
func ProtoImpl(identifier string) Implementation {
	return Implementation{Proto: identifier}
}

// NetworkImpl embeds a nested network.
func NetworkImpl(n *Network) Implementation {
	return Implementation{Network: n}
}

// IsNetwork reports whether the implementation is a nested network.
func (im Implementation) IsNetwork() bool { return im.Network != nil }

// DocumentNode is one node instance. The display flags do not affect
// execution semantics.
type DocumentNode struct {
	Inputs         []NodeInput
	Implementation Implementation

	Visible           bool
	SkipDeduplication bool
	Locked            bool
}

// Network is one level of the nested graph: a node table plus the ordered
// exports exposed to the parent scope.
type Network struct {
	Exports []NodeInput
	Nodes   map[NodeID]*DocumentNode

	// ScopeInjections resolve KindScope inputs at flatten time.
	ScopeInjections map[string]cty.Value
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{Nodes: make(map[NodeID]*DocumentNode)}
}

// ValueNetwork wraps a single node as a network exporting its output.
func ValueNetwork(node *DocumentNode) *Network {
	return &Network{
		Exports: []NodeInput{NodeWire(0, 0)},
		Nodes:   map[NodeID]*DocumentNode{0: node},
	}
}

// NestedNetwork walks a path of wrapper node ids down to the network it
// designates, or nil if any segment is missing or not a network node.
func (n *Network) NestedNetwork(path []NodeID) *Network {
	current := n
	for _, segment := range path {
		node, ok := current.Nodes[segment]
		if !ok || !node.Implementation.IsNetwork() {
			return nil
		}
		current = node.Implementation.Network
	}
	return current
}

// SortedIDs returns the node ids in ascending order, for deterministic
// iteration over the unordered table.
func (n *Network) SortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(n.Nodes))
	for id := range n.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MapIDs rewrites every node id and every internal reference through f.
// f must be injective over the ids present in the network.
func (n *Network) MapIDs(f func(NodeID) NodeID) {
	mapped := make(map[NodeID]*DocumentNode, len(n.Nodes))
	for id, node := range n.Nodes {
		for i := range node.Inputs {
			if node.Inputs[i].Kind == KindNode {
				node.Inputs[i].Node = f(node.Inputs[i].Node)
			}
		}
		mapped[f(id)] = node
	}
	n.Nodes = mapped
	for i := range n.Exports {
		if n.Exports[i].Kind == KindNode {
			n.Exports[i].Node = f(n.Exports[i].Node)
		}
	}
}

// Clone deep-copies the network so compilation can rewrite it freely.
func (n *Network) Clone() *Network {
	if n == nil {
		return nil
	}
	out := &Network{
		Exports: append([]NodeInput(nil), n.Exports...),
		Nodes:   make(map[NodeID]*DocumentNode, len(n.Nodes)),
	}
	if n.ScopeInjections != nil {
		out.ScopeInjections = make(map[string]cty.Value, len(n.ScopeInjections))
		for k, v := range n.ScopeInjections {
			out.ScopeInjections[k] = v
		}
	}
	for id, node := range n.Nodes {
		clone := &DocumentNode{
			Inputs:            append([]NodeInput(nil), node.Inputs...),
			Implementation:    node.Implementation,
			Visible:           node.Visible,
			SkipDeduplication: node.SkipDeduplication,
			Locked:            node.Locked,
		}
		if node.Implementation.IsNetwork() {
			clone.Implementation = NetworkImpl(node.Implementation.Network.Clone())
		}
		out.Nodes[id] = clone
	}
	return out
}
