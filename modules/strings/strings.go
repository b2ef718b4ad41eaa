// Package strings registers string node kinds.
package strings

import (
	"context"
	"fmt"
	gostrings "strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/memo"
	"github.com/vk/nodeflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type concatNode struct {
	suffix *registry.Handle
}

func (n *concatNode) Eval(ctx context.Context, input any) (any, error) {
	a, ok := input.(cty.Value)
	if !ok {
		return nil, fmt.Errorf("strings.concat: input is %T, not a value", input)
	}
	raw, err := n.suffix.Eval(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("strings.concat: evaluating suffix: %w", err)
	}
	b, ok := raw.(cty.Value)
	if !ok {
		return nil, fmt.Errorf("strings.concat: suffix is %T, not a value", raw)
	}
	return cty.StringVal(a.AsString() + b.AsString()), nil
}

type mapNode struct {
	name  string
	apply func(s string) cty.Value
}

func (n *mapNode) Eval(_ context.Context, input any) (any, error) {
	v, ok := input.(cty.Value)
	if !ok {
		return nil, fmt.Errorf("%s: input is %T, not a value", n.name, input)
	}
	return n.apply(v.AsString()), nil
}

func mapped(name string, out cty.Type, apply func(s string) cty.Value) registry.Implementation {
	return registry.Implementation{
		Construct: func(context.Context, []*registry.Handle) (registry.Node, error) {
			return memo.NewMonitor(memo.NewCache(&mapNode{name: name, apply: apply})), nil
		},
		Types: registry.NodeIOTypes{Input: cty.String, Output: out},
	}
}

// Register registers the string node kinds.
func (m *Module) Register(r *registry.Registry) {
	r.Register("strings.concat", registry.Implementation{
		Construct: func(_ context.Context, params []*registry.Handle) (registry.Node, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("strings.concat: expected one suffix, got %d", len(params))
			}
			return memo.NewMonitor(memo.NewCache(&concatNode{suffix: params[0]})), nil
		},
		Types: registry.NodeIOTypes{
			Input:  cty.String,
			Output: cty.String,
			Params: []cty.Type{cty.String},
		},
	})
	r.Register("strings.upper", mapped("strings.upper", cty.String, func(s string) cty.Value {
		return cty.StringVal(gostrings.ToUpper(s))
	}))
	r.Register("strings.lower", mapped("strings.lower", cty.String, func(s string) cty.Value {
		return cty.StringVal(gostrings.ToLower(s))
	}))
	r.Register("strings.length", mapped("strings.length", cty.Number, func(s string) cty.Value {
		return cty.NumberIntVal(int64(len(s)))
	}))
}
