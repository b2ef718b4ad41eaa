// Package typing resolves each flattened node to one concrete registry
// implementation by matching declared input/output types against the types
// already resolved for the node's upstream dependencies.
package typing

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/proto"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Context stores the resolved types and constructors of nodes, indexed by
// their flat network id. It persists across compile passes so unchanged
// nodes keep their resolution.
type Context struct {
	registry     *registry.Registry
	inferred     map[document.NodeID]registry.NodeIOTypes
	constructors map[document.NodeID]registry.Constructor
}

// NewContext creates a typing context backed by the given registry. The
// registry is injected rather than read from process-wide state so tests can
// supply fakes.
func NewContext(reg *registry.Registry) *Context {
	return &Context{
		registry:     reg,
		inferred:     make(map[document.NodeID]registry.NodeIOTypes),
		constructors: make(map[document.NodeID]registry.Constructor),
	}
}

// Update infers types for every node reachable from the network output, in
// dependency order. Nodes already inferred under the same id are skipped.
func (c *Context) Update(ctx context.Context, n *proto.Network, networkInput cty.Type) error {
	order, err := n.TopologicalSort()
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)
	for _, id := range order {
		if _, done := c.inferred[id]; done {
			continue
		}
		if err := c.infer(id, n.Nodes[id], networkInput); err != nil {
			return err
		}
		logger.Debug("Resolved node implementation.", "id", id, "types", c.inferred[id].String())
	}
	return nil
}

// TypeOf returns the resolved signature for a node id, if inferred.
func (c *Context) TypeOf(id document.NodeID) (registry.NodeIOTypes, bool) {
	t, ok := c.inferred[id]
	return t, ok
}

// Constructor returns the constructor bound to a node id, if resolved.
func (c *Context) Constructor(id document.NodeID) (registry.Constructor, bool) {
	ctor, ok := c.constructors[id]
	return ctor, ok
}

// RemoveInference drops the resolution for a node id, used when the
// executor frees an orphaned node.
func (c *Context) RemoveInference(id document.NodeID) {
	delete(c.inferred, id)
	delete(c.constructors, id)
}

func (c *Context) infer(id document.NodeID, node *proto.Node, networkInput cty.Type) error {
	if node.Args.Kind == proto.ArgsValue {
		// A literal's output type is the value's own type; the call input
		// is ignored.
		c.inferred[id] = registry.NodeIOTypes{
			Input:  cty.DynamicPseudoType,
			Output: node.Args.Value.Value().Type(),
		}
		return nil
	}

	input, err := c.inputType(id, node, networkInput)
	if err != nil {
		return err
	}
	params := make([]cty.Type, len(node.Args.Nodes))
	for i, dep := range node.Args.Nodes {
		depTypes, ok := c.inferred[dep]
		if !ok {
			return &Error{ID: id, Identifier: node.Identifier, Reason: fmt.Sprintf("dependency %d has no resolved type", dep)}
		}
		params[i] = depTypes.Output
	}

	impls := c.registry.Lookup(node.Identifier)
	if len(impls) == 0 {
		return &Error{ID: id, Identifier: node.Identifier, Input: input, Params: params, Reason: "no implementations registered"}
	}

	best, ok := selectImplementation(impls, input, params)
	if !ok {
		return &Error{
			ID:         id,
			Identifier: node.Identifier,
			Input:      input,
			Params:     params,
			Candidates: signatures(impls),
			Reason:     "no implementation matches the resolved input and parameter types",
		}
	}

	c.inferred[id] = resolveSignature(best.Types, input, params)
	c.constructors[id] = best.Construct
	return nil
}

func (c *Context) inputType(id document.NodeID, node *proto.Node, networkInput cty.Type) (cty.Type, error) {
	switch node.Input.Kind {
	case proto.InputNone:
		return cty.DynamicPseudoType, nil
	case proto.InputNetwork:
		return networkInput, nil
	case proto.InputNode:
		upstream, ok := c.inferred[node.Input.Node]
		if !ok {
			return cty.NilType, &Error{ID: id, Identifier: node.Identifier, Reason: fmt.Sprintf("input node %d has no resolved type", node.Input.Node)}
		}
		return upstream.Output, nil
	default:
		return cty.NilType, &Error{ID: id, Identifier: node.Identifier, Reason: "unknown input kind"}
	}
}

// validType reports whether a proposed type satisfies a declared one.
// cty.DynamicPseudoType on either side acts as the generic wildcard.
func validType(from, to cty.Type) bool {
	if from == cty.DynamicPseudoType || to == cty.DynamicPseudoType {
		return true
	}
	return from.Equals(to)
}

// selectImplementation picks the matching implementation, preferring the
// most specific signature (fewest wildcard positions) when several match.
func selectImplementation(impls []registry.Implementation, input cty.Type, params []cty.Type) (registry.Implementation, bool) {
	bestScore := -1
	var best registry.Implementation
	var found, ambiguous bool

	for _, impl := range impls {
		if len(impl.Types.Params) != len(params) {
			continue
		}
		if !validType(input, impl.Types.Input) {
			continue
		}
		match := true
		for i, p := range params {
			if !validType(p, impl.Types.Params[i]) {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		score := specificity(impl.Types)
		switch {
		case score > bestScore:
			bestScore, best, found, ambiguous = score, impl, true, false
		case score == bestScore:
			ambiguous = true
		}
	}
	return best, found && !ambiguous
}

func specificity(t registry.NodeIOTypes) int {
	score := 0
	if t.Input != cty.DynamicPseudoType {
		score++
	}
	if t.Output != cty.DynamicPseudoType {
		score++
	}
	for _, p := range t.Params {
		if p != cty.DynamicPseudoType {
			score++
		}
	}
	return score
}

// resolveSignature substitutes wildcard positions in the chosen signature
// with the actual resolved types, so downstream nodes see concrete types.
func resolveSignature(declared registry.NodeIOTypes, input cty.Type, params []cty.Type) registry.NodeIOTypes {
	out := declared
	if out.Input == cty.DynamicPseudoType {
		out.Input = input
	}
	if out.Output == cty.DynamicPseudoType {
		// A generic output flows the call input through unchanged.
		out.Output = out.Input
	}
	out.Params = append([]cty.Type(nil), declared.Params...)
	for i := range out.Params {
		if out.Params[i] == cty.DynamicPseudoType && i < len(params) {
			out.Params[i] = params[i]
		}
	}
	return out
}

func signatures(impls []registry.Implementation) []registry.NodeIOTypes {
	out := make([]registry.NodeIOTypes, len(impls))
	for i, impl := range impls {
		out[i] = impl.Types
	}
	return out
}

// Error reports a failed implementation resolution, naming the node and the
// attempted types.
type Error struct {
	ID         document.NodeID
	Identifier string
	Input      cty.Type
	Params     []cty.Type
	Candidates []registry.NodeIOTypes
	Reason     string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "typing node %d (%s): %s", e.ID, e.Identifier, e.Reason)
	if e.Input != cty.NilType {
		fmt.Fprintf(&b, "; input %s", e.Input.FriendlyName())
	}
	if len(e.Params) > 0 {
		names := make([]string, len(e.Params))
		for i, p := range e.Params {
			names[i] = p.FriendlyName()
		}
		fmt.Fprintf(&b, "; parameters (%s)", strings.Join(names, ", "))
	}
	if len(e.Candidates) > 0 {
		names := make([]string, len(e.Candidates))
		for i, cand := range e.Candidates {
			names[i] = cand.String()
		}
		fmt.Fprintf(&b, "; candidates: %s", strings.Join(names, "; "))
	}
	return b.String()
}
