package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/value"
)

func sub(id NetworkID) *NetworkID { return &id }

// twoLevelRegistry declares a root network with a value node and a wrapper
// referencing a sub-network, each level exported through an identity node.
func twoLevelRegistry() *Registry {
	return &Registry{
		Nodes: []Node{
			{ID: 1, Network: 0, Implementation: "core.value", Inputs: []Input{
				{Kind: KindValue, Literal: value.MustEncode(cty.NumberIntVal(40))},
			}},
			{ID: 2, Network: 0, SubNetwork: sub(7), Inputs: []Input{
				{Kind: KindNode, Node: 1},
			}},
			{ID: 3, Network: 0, Inputs: []Input{{Kind: KindNode, Node: 2}}},

			{ID: 10, Network: 7, Implementation: "arith.add", Inputs: []Input{
				{Kind: KindImport, ImportIndex: 0},
				{Kind: KindValue, Literal: value.MustEncode(cty.NumberIntVal(2))},
			}},
			{ID: 11, Network: 7, Inputs: []Input{{Kind: KindNode, Node: 10}}},
		},
		Exports: []document.NodeID{3, 11},
	}
}

func TestToNetwork(t *testing.T) {
	t.Run("re-nests networks and resolves identity nodes", func(t *testing.T) {
		n, err := ToNetwork(twoLevelRegistry())
		require.NoError(t, err)

		// Identity node 3 is resolved away; its input becomes the export.
		assert.Len(t, n.Nodes, 2)
		require.Len(t, n.Exports, 1)
		assert.Equal(t, document.KindNode, n.Exports[0].Kind)
		assert.Equal(t, document.NodeID(2), n.Exports[0].Node)

		wrapper := n.Nodes[2]
		require.NotNil(t, wrapper)
		require.True(t, wrapper.Implementation.IsNetwork())

		inner := wrapper.Implementation.Network
		assert.Len(t, inner.Nodes, 1)
		require.Len(t, inner.Exports, 1)
		assert.Equal(t, document.NodeID(10), inner.Exports[0].Node)

		added := inner.Nodes[10]
		require.NotNil(t, added)
		require.Len(t, added.Inputs, 2)
		assert.Equal(t, document.KindImport, added.Inputs[0].Kind)
		require.Equal(t, document.KindValue, added.Inputs[1].Kind)
		assert.True(t, cty.NumberIntVal(2).RawEquals(added.Inputs[1].Value.Value()))
	})

	t.Run("fails without panicking when nothing is exported", func(t *testing.T) {
		_, err := ToNetwork(&Registry{Nodes: []Node{{ID: 1, Network: 0}}})
		var missing *MissingRootNetworkError
		require.ErrorAs(t, err, &missing)
	})

	t.Run("rejects an identity node without inputs", func(t *testing.T) {
		reg := &Registry{
			Nodes: []Node{
				{ID: 1, Network: 0, Implementation: "core.value"},
				{ID: 2, Network: 0},
			},
			Exports: []document.NodeID{2},
		}
		_, err := ToNetwork(reg)
		var invalid *InvalidIdentityNodeError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, document.NodeID(2), invalid.Node)
	})

	t.Run("rejects an export with no declaration", func(t *testing.T) {
		reg := &Registry{
			Nodes:   []Node{{ID: 1, Network: 0}},
			Exports: []document.NodeID{9},
		}
		_, err := ToNetwork(reg)
		var notFound *DeclarationNotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("rejects a dangling sub-network reference", func(t *testing.T) {
		reg := &Registry{
			Nodes: []Node{
				{ID: 1, Network: 0, SubNetwork: sub(99)},
				{ID: 2, Network: 0, Inputs: []Input{{Kind: KindNode, Node: 1}}},
			},
			Exports: []document.NodeID{2},
		}
		_, err := ToNetwork(reg)
		var notFound *NetworkNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, NetworkID(99), notFound.Network)
	})

	t.Run("reports undecodable literals", func(t *testing.T) {
		reg := &Registry{
			Nodes: []Node{
				{ID: 1, Network: 0, Implementation: "core.value", Inputs: []Input{
					{Kind: KindValue, Literal: []byte{0xc1, 0xff}},
				}},
				{ID: 2, Network: 0, Inputs: []Input{{Kind: KindNode, Node: 1}}},
			},
			Exports: []document.NodeID{2},
		}
		_, err := ToNetwork(reg)
		var deser *DeserializationError
		require.ErrorAs(t, err, &deser)
		assert.Equal(t, document.NodeID(1), deser.Node)
	})
}
