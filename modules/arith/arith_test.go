package arith

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/registry"
)

type constNode struct {
	value cty.Value
}

func (n constNode) Eval(context.Context, any) (any, error) {
	return n.value, nil
}

func construct(t *testing.T, r *registry.Registry, identifier string, params ...*registry.Handle) registry.Node {
	t.Helper()
	impls := r.Lookup(identifier)
	require.Len(t, impls, 1)
	node, err := impls[0].Construct(context.Background(), params)
	require.NoError(t, err)
	return node
}

func TestModule(t *testing.T) {
	r := registry.New()
	r.Install(&Module{})
	ctx := context.Background()

	t.Run("add combines input with its operand", func(t *testing.T) {
		operand := registry.NewHandle(constNode{value: cty.NumberIntVal(2)})
		node := construct(t, r, "arith.add", operand)

		out, err := node.Eval(ctx, cty.NumberIntVal(40))
		require.NoError(t, err)
		assert.True(t, cty.NumberIntVal(42).RawEquals(out.(cty.Value)))
	})

	t.Run("negate flips the input", func(t *testing.T) {
		node := construct(t, r, "arith.negate")

		out, err := node.Eval(ctx, cty.NumberIntVal(5))
		require.NoError(t, err)
		assert.True(t, cty.NumberIntVal(-5).RawEquals(out.(cty.Value)))
	})

	t.Run("rejects non-value inputs", func(t *testing.T) {
		node := construct(t, r, "arith.negate")
		_, err := node.Eval(ctx, "not a value")
		require.Error(t, err)
	})

	t.Run("binary constructors require exactly one operand", func(t *testing.T) {
		impls := r.Lookup("arith.multiply")
		require.Len(t, impls, 1)
		_, err := impls[0].Construct(ctx, nil)
		require.Error(t, err)
	})
}
