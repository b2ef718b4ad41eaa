// Package proto holds the fully flattened form of a network: a single-level
// table of registry-reference nodes ready for topological ordering, typing,
// and instantiation.
package proto

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/value"
)

// InputKind discriminates where a proto node's call input comes from.
type InputKind int

const (
	// InputNone means the node ignores its call input.
	InputNone InputKind = iota
	// InputNetwork means the node receives the network's external input.
	InputNetwork
	// InputNode means the node composes over another node's output.
	InputNode
)

// Input is the primary (call) input of a proto node.
type Input struct {
	Kind InputKind
	// Node is meaningful for InputNode.
	Node document.NodeID
}

// ArgsKind discriminates the construction argument variants.
type ArgsKind int

const (
	// ArgsValue embeds a literal; the node always returns it.
	ArgsValue ArgsKind = iota
	// ArgsNodes lists dependency node ids passed to the constructor.
	ArgsNodes
)

// ConstructionArgs are a node's non-wire dependencies.
type ConstructionArgs struct {
	Kind  ArgsKind
	Value *value.MemoHash
	Nodes []document.NodeID
}

// ValueArgs builds literal construction args.
func ValueArgs(v *value.MemoHash) ConstructionArgs {
	return ConstructionArgs{Kind: ArgsValue, Value: v}
}

// NodeArgs builds dependency-list construction args.
func NodeArgs(ids ...document.NodeID) ConstructionArgs {
	return ConstructionArgs{Kind: ArgsNodes, Nodes: ids}
}

// Node is the flattened counterpart of a DocumentNode: a registry identifier
// plus resolved input wiring.
type Node struct {
	Identifier string
	Input      Input
	Args       ConstructionArgs

	// Path is the node's original document path, recorded for
	// introspection. Synthesized value nodes carry no path.
	Path []document.NodeID
}

// Dependencies lists the node ids this node depends on, input first.
func (n *Node) Dependencies() []document.NodeID {
	var deps []document.NodeID
	if n.Input.Kind == InputNode {
		deps = append(deps, n.Input.Node)
	}
	if n.Args.Kind == ArgsNodes {
		deps = append(deps, n.Args.Nodes...)
	}
	return deps
}

// Network is the flat node table with its declared external inputs and the
// single designated output node.
type Network struct {
	Nodes  map[document.NodeID]*Node
	Inputs []document.NodeID
	Output document.NodeID
}

// NewNetwork returns an empty flat network.
func NewNetwork() *Network {
	return &Network{Nodes: make(map[document.NodeID]*Node)}
}

// AddNode inserts a node, rejecting duplicate ids. A collision indicates a
// defect in the id-merging strategy upstream.
func (n *Network) AddNode(id document.NodeID, node *Node) error {
	if _, exists := n.Nodes[id]; exists {
		return &DuplicateIDError{ID: id}
	}
	n.Nodes[id] = node
	return nil
}

// Validate checks that every id referenced by an input or construction
// argument exists in the table.
func (n *Network) Validate() error {
	for id, node := range n.Nodes {
		for _, dep := range node.Dependencies() {
			if _, ok := n.Nodes[dep]; !ok {
				return &DanglingIDError{From: id, Missing: dep}
			}
		}
	}
	if _, ok := n.Nodes[n.Output]; !ok {
		return &DanglingIDError{From: n.Output, Missing: n.Output}
	}
	return nil
}

// DuplicateIDError reports a second insertion of the same id into a flat
// table.
type DuplicateIDError struct {
	ID document.NodeID
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("node id %d inserted twice into flat network", e.ID)
}

// DanglingIDError reports a reference to an id absent from the table.
type DanglingIDError struct {
	From    document.NodeID
	Missing document.NodeID
}

func (e *DanglingIDError) Error() string {
	return fmt.Sprintf("node %d references id %d which is not present in the network", e.From, e.Missing)
}

// CycleError reports a dependency cycle, naming its member ids.
type CycleError struct {
	Members []document.NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Members))
	for i, id := range e.Members {
		parts[i] = fmt.Sprint(id)
	}
	return "cycle detected involving nodes " + strings.Join(parts, " -> ")
}

// TopologicalSort returns the ids of every node reachable from the output,
// dependencies first. Nodes unreachable from the output are excluded.
// A cycle yields a CycleError rather than aborting the process.
func (n *Network) TopologicalSort() ([]document.NodeID, error) {
	permanent := make(map[document.NodeID]bool, len(n.Nodes))
	temporary := make(map[document.NodeID]bool)
	var stack []document.NodeID
	var order []document.NodeID

	var visit func(id document.NodeID) error
	visit = func(id document.NodeID) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			// Trim the stack down to the cycle entry point.
			start := 0
			for i, member := range stack {
				if member == id {
					start = i
					break
				}
			}
			return &CycleError{Members: append(append([]document.NodeID(nil), stack[start:]...), id)}
		}
		node, ok := n.Nodes[id]
		if !ok {
			return &DanglingIDError{From: id, Missing: id}
		}

		temporary[id] = true
		stack = append(stack, id)
		for _, dep := range node.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(temporary, id)
		permanent[id] = true

		order = append(order, id)
		return nil
	}

	if err := visit(n.Output); err != nil {
		return nil, err
	}
	return order, nil
}

// ReorderIDs remaps every node id to its position in the topological order,
// rewriting all internal references. The result is a normal form where ids
// are dense and ascending in dependency order, enabling linear storage. The
// operation is idempotent.
func (n *Network) ReorderIDs() error {
	order, err := n.TopologicalSort()
	if err != nil {
		return err
	}
	remap := make(map[document.NodeID]document.NodeID, len(order))
	for position, id := range order {
		remap[id] = document.NodeID(position)
	}

	nodes := make(map[document.NodeID]*Node, len(order))
	for _, id := range order {
		node := n.Nodes[id]
		if node.Input.Kind == InputNode {
			node.Input.Node = remap[node.Input.Node]
		}
		if node.Args.Kind == ArgsNodes {
			for i, dep := range node.Args.Nodes {
				node.Args.Nodes[i] = remap[dep]
			}
		}
		nodes[remap[id]] = node
	}
	n.Nodes = nodes
	n.Output = remap[n.Output]

	inputs := n.Inputs[:0]
	for _, id := range n.Inputs {
		if mapped, ok := remap[id]; ok {
			inputs = append(inputs, mapped)
		}
	}
	n.Inputs = inputs
	return nil
}

// SortedIDs returns all node ids in ascending order, including unreachable
// ones. Useful for deterministic debugging output.
func (n *Network) SortedIDs() []document.NodeID {
	ids := make([]document.NodeID, 0, len(n.Nodes))
	for id := range n.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
