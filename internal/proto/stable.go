package proto

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/vk/nodeflow/internal/document"
)

// GenerateStableIDs remaps every reachable node to a content-derived id:
// a hash over the node's identifier, its input wiring, and the stable ids of
// its dependencies (or the literal's content hash for value nodes). A node
// whose transitive definition is unchanged between compile passes therefore
// keeps its id, which is what lets the executor reuse its live instance.
//
// Content-identical nodes collapse onto one id; that deduplication is
// intentional. A collision between nodes with different identifiers is a
// defect and reported as a DuplicateIDError.
func (n *Network) GenerateStableIDs() error {
	order, err := n.TopologicalSort()
	if err != nil {
		return err
	}

	remap := make(map[document.NodeID]document.NodeID, len(order))
	nodes := make(map[document.NodeID]*Node, len(order))

	for _, id := range order {
		node := n.Nodes[id]

		h := fnv.New64a()
		h.Write([]byte(node.Identifier))
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(node.Input.Kind))
		h.Write(buf[:])
		if node.Input.Kind == InputNode {
			node.Input.Node = remap[node.Input.Node]
			binary.LittleEndian.PutUint64(buf[:], uint64(node.Input.Node))
			h.Write(buf[:])
		}
		switch node.Args.Kind {
		case ArgsValue:
			binary.LittleEndian.PutUint64(buf[:], node.Args.Value.Hash())
			h.Write(buf[:])
		case ArgsNodes:
			for i, dep := range node.Args.Nodes {
				node.Args.Nodes[i] = remap[dep]
				binary.LittleEndian.PutUint64(buf[:], uint64(node.Args.Nodes[i]))
				h.Write(buf[:])
			}
		}

		stable := document.NodeID(h.Sum64())
		if existing, ok := nodes[stable]; ok && existing.Identifier != node.Identifier {
			return &DuplicateIDError{ID: stable}
		}
		remap[id] = stable
		nodes[stable] = node
	}

	n.Nodes = nodes
	n.Output = remap[n.Output]
	inputs := n.Inputs[:0]
	for _, id := range n.Inputs {
		if mapped, ok := remap[id]; ok {
			inputs = append(inputs, mapped)
		}
	}
	n.Inputs = inputs
	return nil
}
