// Package corenodes registers the structural node kinds every compiled
// network relies on.
package corenodes

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/registry"
)

// Identifier of the pass-through node that flattened wrapper nodes compile
// to.
const Identity = "core.identity"

// Module implements the registry.Module interface for this package.
type Module struct{}

type identityNode struct{}

func (identityNode) Eval(_ context.Context, input any) (any, error) {
	return input, nil
}

// Register registers the core node kinds.
func (m *Module) Register(r *registry.Registry) {
	r.Register(Identity, registry.Implementation{
		Construct: func(context.Context, []*registry.Handle) (registry.Node, error) {
			return identityNode{}, nil
		},
		Types: registry.NodeIOTypes{
			Input:  cty.DynamicPseudoType,
			Output: cty.DynamicPseudoType,
		},
	})
}
