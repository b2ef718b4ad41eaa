package strings

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

func TestModule(t *testing.T) {
	r := registry.New()
	r.Install(&Module{})
	ctx := context.Background()

	eval := func(t *testing.T, identifier string, input cty.Value, params ...*registry.Handle) cty.Value {
		t.Helper()
		impls := r.Lookup(identifier)
		require.Len(t, impls, 1)
		node, err := impls[0].Construct(ctx, params)
		require.NoError(t, err)
		out, err := node.Eval(ctx, input)
		require.NoError(t, err)
		return out.(cty.Value)
	}

	t.Run("concat appends the suffix operand", func(t *testing.T) {
		suffix := registry.NewHandle(constNode{value: cty.StringVal(" graph")})
		out := eval(t, "strings.concat", cty.StringVal("node"), suffix)
		assert.True(t, cty.StringVal("node graph").RawEquals(out))
	})

	t.Run("upper and lower fold case", func(t *testing.T) {
		assert.True(t, cty.StringVal("NODE").RawEquals(eval(t, "strings.upper", cty.StringVal("node"))))
		assert.True(t, cty.StringVal("node").RawEquals(eval(t, "strings.lower", cty.StringVal("NoDe"))))
	})

	t.Run("length yields a number", func(t *testing.T) {
		assert.True(t, cty.NumberIntVal(4).RawEquals(eval(t, "strings.length", cty.StringVal("node"))))
	})
}
