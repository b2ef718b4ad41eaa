// Package compile lowers nested document networks into flat proto networks
// ready for typing and instantiation. Flatten inlines sub-networks, ToProto
// converts the flat table to registry-reference nodes, and Compile runs the
// whole pipeline including stable id generation.
package compile

import (
	"context"
	"fmt"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/proto"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/typing"
	"github.com/zclconf/go-cty/cty"
)

// NoExportsError reports a network whose top level exposes nothing to run.
type NoExportsError struct{}

func (e *NoExportsError) Error() string {
	return "network has no exports, nothing to compile"
}

// UnflattenedNodeError reports a nested network surviving into ToProto,
// which indicates Flatten was skipped or failed silently.
type UnflattenedNodeError struct {
	Node document.NodeID
}

func (e *UnflattenedNodeError) Error() string {
	return fmt.Sprintf("node %d still wraps a nested network", e.Node)
}

// UnresolvedInputError reports an input kind that cannot appear in a flat
// network at its position.
type UnresolvedInputError struct {
	Node  document.NodeID
	Index int
	Kind  document.InputKind
}

func (e *UnresolvedInputError) Error() string {
	return fmt.Sprintf("node %d input %d has unresolved kind %d", e.Node, e.Index, e.Kind)
}

// ToProto converts an already-flat document network into a proto network.
// The first input of each node becomes its call input; remaining inputs
// become construction arguments. Literal inputs are materialized as
// standalone value nodes so every edge in the result is a wire. paths, when
// non-nil, supplies the document path recorded on each proto node.
func ToProto(flat *document.Network, paths map[document.NodeID][]document.NodeID) (*proto.Network, error) {
	out := proto.NewNetwork()

	materialized := make(map[document.NodeID]bool)
	materialize := func(owner document.NodeID, index int, literal document.NodeInput) (document.NodeID, error) {
		vid := valueNodeID(owner, index)
		if materialized[vid] {
			return vid, nil
		}
		if err := out.AddNode(vid, &proto.Node{
			Identifier: ValueIdentifier,
			Input:      proto.Input{Kind: proto.InputNone},
			Args:       proto.ValueArgs(literal.Value),
		}); err != nil {
			return 0, err
		}
		materialized[vid] = true
		return vid, nil
	}

	for _, id := range flat.SortedIDs() {
		node := flat.Nodes[id]
		if node.Implementation.IsNetwork() {
			return nil, &UnflattenedNodeError{Node: id}
		}

		pn := &proto.Node{Identifier: node.Implementation.Proto}
		if paths != nil {
			pn.Path = paths[id]
		}

		// A node whose sole wiring is one literal collapses to a value
		// node: it has no call input and always yields its literal.
		if node.Implementation.Proto == ValueIdentifier &&
			len(node.Inputs) == 1 && node.Inputs[0].Kind == document.KindValue {
			pn.Input = proto.Input{Kind: proto.InputNone}
			pn.Args = proto.ValueArgs(node.Inputs[0].Value)
			if err := out.AddNode(id, pn); err != nil {
				return nil, err
			}
			continue
		}

		var deps []document.NodeID
		for i, input := range node.Inputs {
			switch input.Kind {
			case document.KindNode:
				if i == 0 {
					pn.Input = proto.Input{Kind: proto.InputNode, Node: input.Node}
				} else {
					deps = append(deps, input.Node)
				}
			case document.KindValue:
				vid, err := materialize(id, i, input)
				if err != nil {
					return nil, err
				}
				if i == 0 {
					pn.Input = proto.Input{Kind: proto.InputNode, Node: vid}
				} else {
					deps = append(deps, vid)
				}
			case document.KindImport:
				if i != 0 {
					return nil, &UnresolvedInputError{Node: id, Index: i, Kind: input.Kind}
				}
				pn.Input = proto.Input{Kind: proto.InputNetwork}
				out.Inputs = append(out.Inputs, id)
			default:
				return nil, &UnresolvedInputError{Node: id, Index: i, Kind: input.Kind}
			}
		}
		if len(node.Inputs) == 0 {
			pn.Input = proto.Input{Kind: proto.InputNone}
		}
		pn.Args = proto.NodeArgs(deps...)

		if err := out.AddNode(id, pn); err != nil {
			return nil, err
		}
	}

	if len(flat.Exports) == 0 {
		return nil, &NoExportsError{}
	}
	export := flat.Exports[0]
	switch export.Kind {
	case document.KindNode:
		out.Output = export.Node
	case document.KindValue:
		// A top-level literal export still compiles: the whole network is
		// one value node.
		vid, err := materialize(0, -1, export)
		if err != nil {
			return nil, err
		}
		out.Output = vid
	default:
		return nil, &UnresolvedInputError{Node: 0, Index: 0, Kind: export.Kind}
	}

	return out, nil
}

// Compile runs the full lowering pipeline: flatten nested networks, convert
// to proto form, validate wiring, then remap to content-derived stable ids.
// The returned network is ready for typing and instantiation.
//
// Stable ids make the result independent of how the document arranged its
// ids: two documents describing the same computation compile to the same
// proto network.
func Compile(ctx context.Context, network *document.Network) (*proto.Network, error) {
	log := ctxlog.FromContext(ctx)

	flat, paths, err := Flatten(ctx, network, nil)
	if err != nil {
		return nil, fmt.Errorf("flattening network: %w", err)
	}
	pn, err := ToProto(flat, paths)
	if err != nil {
		return nil, fmt.Errorf("converting to proto form: %w", err)
	}
	if err := pn.Validate(); err != nil {
		return nil, fmt.Errorf("validating proto network: %w", err)
	}
	if err := pn.GenerateStableIDs(); err != nil {
		return nil, fmt.Errorf("assigning stable ids: %w", err)
	}

	log.Debug("Compilation complete.", "nodes", len(pn.Nodes))
	return pn, nil
}

// Check type-checks a compiled network against a registry without building
// an executor, using a throwaway typing context.
func Check(ctx context.Context, pn *proto.Network, reg *registry.Registry, inputType cty.Type) error {
	return typing.NewContext(reg).Update(ctx, pn, inputType)
}
