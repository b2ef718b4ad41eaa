package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/compile"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/memo"
	"github.com/vk/nodeflow/internal/registry"
)

type identityNode struct{}

func (identityNode) Eval(_ context.Context, input any) (any, error) {
	return input, nil
}

type addNode struct {
	addend *registry.Handle
}

func (n *addNode) Eval(ctx context.Context, input any) (any, error) {
	raw, err := n.addend.Eval(ctx, input)
	if err != nil {
		return nil, err
	}
	return input.(cty.Value).Add(raw.(cty.Value)), nil
}

type counterNode struct {
	count int64
}

func (n *counterNode) Eval(context.Context, any) (any, error) {
	n.count++
	return cty.NumberIntVal(n.count), nil
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Register(compile.IdentityIdentifier, registry.Implementation{
		Construct: func(context.Context, []*registry.Handle) (registry.Node, error) {
			return identityNode{}, nil
		},
		Types: registry.NodeIOTypes{Input: cty.DynamicPseudoType, Output: cty.DynamicPseudoType},
	})
	r.Register("arith.add", registry.Implementation{
		Construct: func(_ context.Context, params []*registry.Handle) (registry.Node, error) {
			return memo.NewMonitor(&addNode{addend: params[0]}), nil
		},
		Types: registry.NodeIOTypes{Input: cty.Number, Output: cty.Number, Params: []cty.Type{cty.Number}},
	})
	r.Register("test.counter", registry.Implementation{
		Construct: func(context.Context, []*registry.Handle) (registry.Node, error) {
			return &counterNode{}, nil
		},
		Types: registry.NodeIOTypes{Input: cty.DynamicPseudoType, Output: cty.Number},
	})
	r.Register("test.raw", registry.Implementation{
		Construct: func(context.Context, []*registry.Handle) (registry.Node, error) {
			return rawNode{}, nil
		},
		Types: registry.NodeIOTypes{Input: cty.DynamicPseudoType, Output: cty.DynamicPseudoType},
	})
	return r
}

type rawNode struct{}

func (rawNode) Eval(context.Context, any) (any, error) {
	return "not a value", nil
}

// addDocument wires a literal through a nested add network: value(40) feeds
// a wrapper whose inner node adds 2.
func addDocument() *document.Network {
	inner := document.NewNetwork()
	inner.Nodes[1] = &document.DocumentNode{
		Inputs: []document.NodeInput{
			document.ImportInput(0, cty.Number),
			document.ValueInput(cty.NumberIntVal(2)),
		},
		Implementation: document.ProtoImpl("arith.add"),
	}
	inner.Exports = []document.NodeInput{document.NodeWire(1, 0)}

	outer := document.NewNetwork()
	outer.Nodes[10] = &document.DocumentNode{
		Inputs:         []document.NodeInput{document.ValueInput(cty.NumberIntVal(40))},
		Implementation: document.ProtoImpl(compile.ValueIdentifier),
	}
	outer.Nodes[11] = &document.DocumentNode{
		Inputs:         []document.NodeInput{document.NodeWire(10, 0)},
		Implementation: document.NetworkImpl(inner),
	}
	outer.Exports = []document.NodeInput{document.NodeWire(11, 0)}
	return outer
}

func counterDocument() *document.Network {
	n := document.NewNetwork()
	n.Nodes[1] = &document.DocumentNode{
		Implementation: document.ProtoImpl("test.counter"),
	}
	n.Exports = []document.NodeInput{document.NodeWire(1, 0)}
	return n
}

func TestExecutorEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("runs a compiled nested document end to end", func(t *testing.T) {
		pn, err := compile.Compile(ctx, addDocument())
		require.NoError(t, err)

		exec := New(testRegistry())
		orphans, err := exec.Update(ctx, pn, cty.DynamicPseudoType)
		require.NoError(t, err)
		assert.Empty(t, orphans)

		out, err := exec.Evaluate(ctx, cty.NullVal(cty.DynamicPseudoType))
		require.NoError(t, err)
		assert.True(t, cty.NumberIntVal(42).RawEquals(out))

		outType, ok := exec.OutputType()
		require.True(t, ok)
		assert.Equal(t, cty.Number, outType)
	})

	t.Run("produces identical output on a fresh executor", func(t *testing.T) {
		pn, err := compile.Compile(ctx, addDocument())
		require.NoError(t, err)

		run := func() cty.Value {
			exec := New(testRegistry())
			_, err := exec.Update(ctx, pn, cty.DynamicPseudoType)
			require.NoError(t, err)
			out, err := exec.Evaluate(ctx, cty.NullVal(cty.DynamicPseudoType))
			require.NoError(t, err)
			return out
		}
		assert.True(t, run().RawEquals(run()))
	})

	t.Run("fails before a network is loaded", func(t *testing.T) {
		exec := New(testRegistry())
		_, err := exec.Evaluate(ctx, cty.NumberIntVal(1))
		var notBuilt *NotBuiltError
		require.ErrorAs(t, err, &notBuilt)
	})

	t.Run("rejects an output that is not a value", func(t *testing.T) {
		n := document.NewNetwork()
		n.Nodes[1] = &document.DocumentNode{Implementation: document.ProtoImpl("test.raw")}
		n.Exports = []document.NodeInput{document.NodeWire(1, 0)}

		pn, err := compile.Compile(ctx, n)
		require.NoError(t, err)

		exec := New(testRegistry())
		_, err = exec.Update(ctx, pn, cty.DynamicPseudoType)
		require.NoError(t, err)
		_, err = exec.Evaluate(ctx, cty.NumberIntVal(1))
		var downcast *DowncastError
		require.ErrorAs(t, err, &downcast)
	})
}

func TestExecutorUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves live instances for unchanged nodes", func(t *testing.T) {
		pn, err := compile.Compile(ctx, counterDocument())
		require.NoError(t, err)

		exec := New(testRegistry())
		_, err = exec.Update(ctx, pn, cty.DynamicPseudoType)
		require.NoError(t, err)

		out, err := exec.Evaluate(ctx, cty.NullVal(cty.DynamicPseudoType))
		require.NoError(t, err)
		assert.True(t, cty.NumberIntVal(1).RawEquals(out))

		before, ok := exec.Handle(pn.Output)
		require.True(t, ok)

		// Recompiling the same document must not rebuild the node.
		recompiled, err := compile.Compile(ctx, counterDocument())
		require.NoError(t, err)
		_, err = exec.Update(ctx, recompiled, cty.DynamicPseudoType)
		require.NoError(t, err)

		after, ok := exec.Handle(recompiled.Output)
		require.True(t, ok)
		assert.Same(t, before, after)

		out, err = exec.Evaluate(ctx, cty.NullVal(cty.DynamicPseudoType))
		require.NoError(t, err)
		assert.True(t, cty.NumberIntVal(2).RawEquals(out), "counter state must survive the update")
	})

	t.Run("frees removed nodes only after a second update", func(t *testing.T) {
		withCounter, err := compile.Compile(ctx, counterDocument())
		require.NoError(t, err)

		exec := New(testRegistry())
		_, err = exec.Update(ctx, withCounter, cty.DynamicPseudoType)
		require.NoError(t, err)
		counterID := withCounter.Output

		withoutCounter, err := compile.Compile(ctx, addDocument())
		require.NoError(t, err)

		orphans, err := exec.Update(ctx, withoutCounter, cty.DynamicPseudoType)
		require.NoError(t, err)
		assert.Contains(t, orphans, counterID)
		_, alive := exec.Handle(counterID)
		assert.True(t, alive, "orphan survives one update")

		orphans, err = exec.Update(ctx, withoutCounter, cty.DynamicPseudoType)
		require.NoError(t, err)
		assert.NotContains(t, orphans, counterID)
		_, alive = exec.Handle(counterID)
		assert.False(t, alive, "orphan freed on the second update")
	})

	t.Run("reclaims an orphan that returns within the grace period", func(t *testing.T) {
		withCounter, err := compile.Compile(ctx, counterDocument())
		require.NoError(t, err)

		exec := New(testRegistry())
		_, err = exec.Update(ctx, withCounter, cty.DynamicPseudoType)
		require.NoError(t, err)
		before, _ := exec.Handle(withCounter.Output)

		other, err := compile.Compile(ctx, addDocument())
		require.NoError(t, err)
		_, err = exec.Update(ctx, other, cty.DynamicPseudoType)
		require.NoError(t, err)

		_, err = exec.Update(ctx, withCounter, cty.DynamicPseudoType)
		require.NoError(t, err)
		after, ok := exec.Handle(withCounter.Output)
		require.True(t, ok)
		assert.Same(t, before, after)
	})
}

func TestExecutorIntrospect(t *testing.T) {
	ctx := context.Background()

	t.Run("reaches the monitor through wrapper layers", func(t *testing.T) {
		pn, err := compile.Compile(ctx, addDocument())
		require.NoError(t, err)

		exec := New(testRegistry())
		_, err = exec.Update(ctx, pn, cty.DynamicPseudoType)
		require.NoError(t, err)

		// The add node lives at document path 11/1 (wrapper, inner node).
		snap, ok := exec.Introspect([]document.NodeID{11, 1})
		require.True(t, ok, "path must be known before the first evaluation")
		assert.Nil(t, snap, "no evaluation recorded yet")

		_, err = exec.Evaluate(ctx, cty.NullVal(cty.DynamicPseudoType))
		require.NoError(t, err)

		snap, ok = exec.Introspect([]document.NodeID{11, 1})
		require.True(t, ok)
		require.NotNil(t, snap)
		record := snap.(memo.Record)
		assert.True(t, cty.NumberIntVal(42).RawEquals(record.Output.(cty.Value)))
	})

	t.Run("reports unknown paths", func(t *testing.T) {
		exec := New(testRegistry())
		_, ok := exec.Introspect([]document.NodeID{99})
		assert.False(t, ok)
	})

	t.Run("keeps an orphan's path readable through the grace period", func(t *testing.T) {
		withAdd, err := compile.Compile(ctx, addDocument())
		require.NoError(t, err)

		exec := New(testRegistry())
		_, err = exec.Update(ctx, withAdd, cty.DynamicPseudoType)
		require.NoError(t, err)
		_, err = exec.Evaluate(ctx, cty.NullVal(cty.DynamicPseudoType))
		require.NoError(t, err)

		other, err := compile.Compile(ctx, counterDocument())
		require.NoError(t, err)
		_, err = exec.Update(ctx, other, cty.DynamicPseudoType)
		require.NoError(t, err)

		// The add node is orphaned but not yet freed; its last snapshot
		// stays readable under the old path.
		snap, ok := exec.Introspect([]document.NodeID{11, 1})
		require.True(t, ok, "orphaned node's path stays known during the grace period")
		require.NotNil(t, snap)
		record := snap.(memo.Record)
		assert.True(t, cty.NumberIntVal(42).RawEquals(record.Output.(cty.Value)))

		_, err = exec.Update(ctx, other, cty.DynamicPseudoType)
		require.NoError(t, err)
		_, ok = exec.Introspect([]document.NodeID{11, 1})
		assert.False(t, ok, "path forgotten once the orphan is freed")
	})
}
