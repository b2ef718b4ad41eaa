// Package arith registers numeric node kinds. Binary operations take their
// left operand from the call input and their right operand from a
// construction-argument dependency.
package arith

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/memo"
	"github.com/vk/nodeflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type binaryNode struct {
	name    string
	operand *registry.Handle
	apply   func(a, b cty.Value) cty.Value
}

func (n *binaryNode) Eval(ctx context.Context, input any) (any, error) {
	a, ok := input.(cty.Value)
	if !ok {
		return nil, fmt.Errorf("%s: input is %T, not a value", n.name, input)
	}
	raw, err := n.operand.Eval(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%s: evaluating operand: %w", n.name, err)
	}
	b, ok := raw.(cty.Value)
	if !ok {
		return nil, fmt.Errorf("%s: operand is %T, not a value", n.name, raw)
	}
	return n.apply(a, b), nil
}

type unaryNode struct {
	name  string
	apply func(v cty.Value) cty.Value
}

func (n *unaryNode) Eval(_ context.Context, input any) (any, error) {
	v, ok := input.(cty.Value)
	if !ok {
		return nil, fmt.Errorf("%s: input is %T, not a value", n.name, input)
	}
	return n.apply(v), nil
}

func binary(name string, apply func(a, b cty.Value) cty.Value) registry.Implementation {
	return registry.Implementation{
		Construct: func(_ context.Context, params []*registry.Handle) (registry.Node, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s: expected one operand, got %d", name, len(params))
			}
			return memo.NewMonitor(memo.NewCache(&binaryNode{name: name, operand: params[0], apply: apply})), nil
		},
		Types: registry.NodeIOTypes{
			Input:  cty.Number,
			Output: cty.Number,
			Params: []cty.Type{cty.Number},
		},
	}
}

func unary(name string, apply func(v cty.Value) cty.Value) registry.Implementation {
	return registry.Implementation{
		Construct: func(context.Context, []*registry.Handle) (registry.Node, error) {
			return memo.NewMonitor(memo.NewCache(&unaryNode{name: name, apply: apply})), nil
		},
		Types: registry.NodeIOTypes{
			Input:  cty.Number,
			Output: cty.Number,
		},
	}
}

// Register registers the numeric node kinds.
func (m *Module) Register(r *registry.Registry) {
	r.Register("arith.add", binary("arith.add", func(a, b cty.Value) cty.Value { return a.Add(b) }))
	r.Register("arith.subtract", binary("arith.subtract", func(a, b cty.Value) cty.Value { return a.Subtract(b) }))
	r.Register("arith.multiply", binary("arith.multiply", func(a, b cty.Value) cty.Value { return a.Multiply(b) }))
	r.Register("arith.divide", binary("arith.divide", func(a, b cty.Value) cty.Value { return a.Divide(b) }))
	r.Register("arith.negate", unary("arith.negate", func(v cty.Value) cty.Value { return v.Negate() }))
}
