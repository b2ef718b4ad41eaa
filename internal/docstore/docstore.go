// Package docstore converts the external registry representation of a
// document into the nested network model. The registry is a flat list of
// node declarations, each naming the network it belongs to; a network's
// exports are marked by identity nodes whose sole input is the exported
// value. Conversion resolves those identity nodes away and re-nests the
// sub-network hierarchy.
package docstore

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/value"
)

// NetworkID identifies one network level in the registry.
type NetworkID uint64

// InputKind mirrors the document input variants, with literals still in
// their binary encoding.
type InputKind int

const (
	KindNode InputKind = iota
	KindValue
	KindImport
	KindScope
)

// Input is one declared node input. Literal payloads stay encoded until
// conversion.
type Input struct {
	Kind InputKind

	Node        document.NodeID
	OutputIndex int

	Literal []byte

	ImportIndex int

	ScopeKey string
}

// Node is one registry declaration: the node's id, the network that owns
// it, and either a leaf implementation identifier or a reference to a
// sub-network.
type Node struct {
	ID      document.NodeID
	Network NetworkID

	Implementation string
	SubNetwork     *NetworkID

	Inputs []Input

	Visible           bool
	SkipDeduplication bool
	Locked            bool
}

// Registry is the external-facing source model. Exports lists identity
// node ids in declaration order, across all networks; each identity node's
// owning network gains one export.
type Registry struct {
	Nodes   []Node
	Exports []document.NodeID
}

// MissingRootNetworkError reports a registry with no exported node to
// anchor the root network.
type MissingRootNetworkError struct{}

func (e *MissingRootNetworkError) Error() string {
	return "registry exports no node, cannot locate the root network"
}

// InvalidIdentityNodeError reports an export whose identity node has no
// resolvable first input.
type InvalidIdentityNodeError struct {
	Node document.NodeID
}

func (e *InvalidIdentityNodeError) Error() string {
	return fmt.Sprintf("identity node %d has no input to resolve as an export", e.Node)
}

// DeclarationNotFoundError reports a referenced node id with no declaration.
type DeclarationNotFoundError struct {
	Node document.NodeID
}

func (e *DeclarationNotFoundError) Error() string {
	return fmt.Sprintf("node %d has no declaration in the registry", e.Node)
}

// NetworkNotFoundError reports a sub-network reference with no member nodes.
type NetworkNotFoundError struct {
	Network NetworkID
}

func (e *NetworkNotFoundError) Error() string {
	return fmt.Sprintf("network %d has no nodes in the registry", e.Network)
}

// DeserializationError reports a literal input whose binary payload does
// not decode.
type DeserializationError struct {
	Node document.NodeID
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decoding literal input of node %d: %v", e.Node, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// ToNetwork converts the registry into a nested document network. The root
// network is the one owning the first exported node. Identity nodes are
// excluded from every node table; each resolves to its first input, which
// becomes the owning network's export.
func ToNetwork(reg *Registry) (*document.Network, error) {
	if len(reg.Exports) == 0 {
		return nil, &MissingRootNetworkError{}
	}
	root, err := reg.declaration(reg.Exports[0])
	if err != nil {
		return nil, err
	}
	return reg.buildNetwork(root.Network)
}

func (r *Registry) declaration(id document.NodeID) (*Node, error) {
	for i := range r.Nodes {
		if r.Nodes[i].ID == id {
			return &r.Nodes[i], nil
		}
	}
	return nil, &DeclarationNotFoundError{Node: id}
}

func (r *Registry) buildNetwork(id NetworkID) (*document.Network, error) {
	identity := make(map[document.NodeID]bool, len(r.Exports))
	for _, export := range r.Exports {
		identity[export] = true
	}

	n := document.NewNetwork()
	found := false
	for i := range r.Nodes {
		decl := &r.Nodes[i]
		if decl.Network != id {
			continue
		}
		found = true
		if identity[decl.ID] {
			continue
		}
		node, err := r.buildNode(decl)
		if err != nil {
			return nil, err
		}
		n.Nodes[decl.ID] = node
	}
	if !found {
		return nil, &NetworkNotFoundError{Network: id}
	}

	for _, exportID := range r.Exports {
		decl, err := r.declaration(exportID)
		if err != nil {
			return nil, err
		}
		if decl.Network != id {
			continue
		}
		if len(decl.Inputs) == 0 {
			return nil, &InvalidIdentityNodeError{Node: exportID}
		}
		resolved, err := convertInput(decl.ID, decl.Inputs[0])
		if err != nil {
			return nil, err
		}
		n.Exports = append(n.Exports, resolved)
	}
	return n, nil
}

func (r *Registry) buildNode(decl *Node) (*document.DocumentNode, error) {
	inputs := make([]document.NodeInput, len(decl.Inputs))
	for i, in := range decl.Inputs {
		converted, err := convertInput(decl.ID, in)
		if err != nil {
			return nil, err
		}
		inputs[i] = converted
	}

	impl := document.ProtoImpl(decl.Implementation)
	if decl.SubNetwork != nil {
		inner, err := r.buildNetwork(*decl.SubNetwork)
		if err != nil {
			return nil, err
		}
		impl = document.NetworkImpl(inner)
	}

	return &document.DocumentNode{
		Inputs:            inputs,
		Implementation:    impl,
		Visible:           decl.Visible,
		SkipDeduplication: decl.SkipDeduplication,
		Locked:            decl.Locked,
	}, nil
}

func convertInput(owner document.NodeID, in Input) (document.NodeInput, error) {
	switch in.Kind {
	case KindNode:
		return document.NodeWire(in.Node, in.OutputIndex), nil
	case KindValue:
		v, err := value.Decode(in.Literal)
		if err != nil {
			return document.NodeInput{}, &DeserializationError{Node: owner, Err: err}
		}
		return document.ValueInput(v), nil
	case KindImport:
		return document.ImportInput(in.ImportIndex, cty.DynamicPseudoType), nil
	case KindScope:
		return document.ScopeInput(in.ScopeKey), nil
	default:
		return document.NodeInput{}, fmt.Errorf("node %d: unknown input kind %d", owner, in.Kind)
	}
}
