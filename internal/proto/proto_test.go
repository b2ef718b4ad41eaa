package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// testNetwork mirrors the canonical sorting fixture: output 1 depends on 11,
// 11 on 10, 10 on 14 via construction args, 14 is a value leaf, and 7 is
// unreachable from the output.
func testNetwork() *Network {
	n := NewNetwork()
	n.Inputs = []document.NodeID{10}
	n.Output = 1
	n.Nodes = map[document.NodeID]*Node{
		7:  {Identifier: "id", Input: Input{Kind: InputNode, Node: 11}, Args: NodeArgs()},
		1:  {Identifier: "id", Input: Input{Kind: InputNode, Node: 11}, Args: NodeArgs()},
		10: {Identifier: "cons", Input: Input{Kind: InputNetwork}, Args: NodeArgs(14)},
		11: {Identifier: "add", Input: Input{Kind: InputNode, Node: 10}, Args: NodeArgs()},
		14: {Identifier: "value", Input: Input{Kind: InputNone}, Args: ValueArgs(value.NewMemoHash(cty.NumberIntVal(2)))},
	}
	return n
}

func cycleNetwork() *Network {
	n := NewNetwork()
	n.Output = 1
	n.Nodes = map[document.NodeID]*Node{
		1: {Identifier: "id", Input: Input{Kind: InputNode, Node: 2}, Args: NodeArgs()},
		2: {Identifier: "id", Input: Input{Kind: InputNode, Node: 1}, Args: NodeArgs()},
	}
	return n
}

func TestTopologicalSort(t *testing.T) {
	order, err := testNetwork().TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []document.NodeID{14, 10, 11, 1}, order)
}

func TestTopologicalSortExcludesUnreachable(t *testing.T) {
	order, err := testNetwork().TopologicalSort()
	require.NoError(t, err)
	assert.NotContains(t, order, document.NodeID(7))
}

func TestTopologicalSortCycle(t *testing.T) {
	_, err := cycleNetwork().TopologicalSort()
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.ElementsMatch(t, []document.NodeID{1, 2, 1}, cycleErr.Members)
}

func TestReorderIDs(t *testing.T) {
	n := testNetwork()
	require.NoError(t, n.ReorderIDs())

	order, err := n.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []document.NodeID{0, 1, 2, 3}, order)
	assert.Equal(t, "value", n.Nodes[0].Identifier)
	assert.Equal(t, document.NodeID(3), n.Output)
}

func TestReorderIDsIdempotent(t *testing.T) {
	n := testNetwork()
	require.NoError(t, n.ReorderIDs())
	require.NoError(t, n.ReorderIDs())

	order, err := n.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []document.NodeID{0, 1, 2, 3}, order)
	assert.Equal(t, "value", n.Nodes[0].Identifier)
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	n := NewNetwork()
	require.NoError(t, n.AddNode(5, &Node{Identifier: "a"}))

	err := n.AddNode(5, &Node{Identifier: "b"})
	var dup *DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, document.NodeID(5), dup.ID)
}

func TestValidateDanglingReference(t *testing.T) {
	n := NewNetwork()
	n.Output = 1
	n.Nodes[1] = &Node{Identifier: "add", Input: Input{Kind: InputNode, Node: 99}, Args: NodeArgs()}

	err := n.Validate()
	var dangling *DanglingIDError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, document.NodeID(99), dangling.Missing)
}
