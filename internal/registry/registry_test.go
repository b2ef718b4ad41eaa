package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func numberImpl() Implementation {
	return Implementation{
		Construct: func(context.Context, []*Handle) (Node, error) { return nil, nil },
		Types:     NodeIOTypes{Input: cty.Number, Output: cty.Number},
	}
}

func TestRegistry(t *testing.T) {
	t.Run("lookup returns registered implementations in order", func(t *testing.T) {
		r := New()
		r.Register("op", numberImpl())
		r.Register("op", Implementation{
			Construct: func(context.Context, []*Handle) (Node, error) { return nil, nil },
			Types:     NodeIOTypes{Input: cty.String, Output: cty.String},
		})

		impls := r.Lookup("op")
		require.Len(t, impls, 2)
		assert.Equal(t, cty.Number, impls[0].Types.Input)
		assert.Equal(t, cty.String, impls[1].Types.Input)
		assert.Empty(t, r.Lookup("missing"))
	})

	t.Run("panics on a duplicate signature", func(t *testing.T) {
		r := New()
		r.Register("op", numberImpl())
		assert.Panics(t, func() { r.Register("op", numberImpl()) })
	})

	t.Run("panics on a nil constructor", func(t *testing.T) {
		r := New()
		assert.Panics(t, func() {
			r.Register("op", Implementation{Types: NodeIOTypes{}})
		})
	})
}

type countingNode struct {
	calls int
}

func (n *countingNode) Eval(context.Context, any) (any, error) {
	n.calls++
	return n.calls, nil
}

func TestHandle(t *testing.T) {
	t.Run("shares one result within an evaluation pass", func(t *testing.T) {
		inner := &countingNode{}
		h := NewHandle(inner)
		ctx := WithEvaluationID(context.Background(), 1)

		first, err := h.Eval(ctx, nil)
		require.NoError(t, err)
		second, err := h.Eval(ctx, nil)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("re-invokes across evaluation passes", func(t *testing.T) {
		inner := &countingNode{}
		h := NewHandle(inner)

		_, err := h.Eval(WithEvaluationID(context.Background(), 1), nil)
		require.NoError(t, err)
		_, err = h.Eval(WithEvaluationID(context.Background(), 2), nil)
		require.NoError(t, err)

		assert.Equal(t, 2, inner.calls)
	})

	t.Run("zero id disables sharing", func(t *testing.T) {
		inner := &countingNode{}
		h := NewHandle(inner)
		ctx := context.Background()

		_, err := h.Eval(ctx, nil)
		require.NoError(t, err)
		_, err = h.Eval(ctx, nil)
		require.NoError(t, err)

		assert.Equal(t, 2, inner.calls)
	})
}
