package compile

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/proto"
)

// IdentityIdentifier is the registry identifier of the pass-through node
// that wrapper nodes become after their nested network has been inlined.
const IdentityIdentifier = "core.identity"

// ValueIdentifier labels synthesized literal-holding nodes.
const ValueIdentifier = "core.value"

// MergeFunc merges an outer wrapper id with an inner node id into the id
// used in the flat table. It must be injective over the pairs that occur
// in one network, and deterministic so repeated flattening of the same
// graph is reproducible.
type MergeFunc func(outer, inner document.NodeID) document.NodeID

// HashMergeIDs is the default MergeFunc: an FNV-1a combination of both ids.
func HashMergeIDs(outer, inner document.NodeID) document.NodeID {
	h := fnv.New64a()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(outer))
	binary.LittleEndian.PutUint64(buf[8:], uint64(inner))
	h.Write(buf[:])
	return document.NodeID(h.Sum64())
}

// valueNodeID derives the id for a value node synthesized from the literal
// input at inputIndex of the owner node. The tag byte keeps these ids in a
// separate family from HashMergeIDs output.
func valueNodeID(owner document.NodeID, inputIndex int) document.NodeID {
	h := fnv.New64a()
	var buf [17]byte
	buf[0] = 'v'
	binary.LittleEndian.PutUint64(buf[1:9], uint64(owner))
	binary.LittleEndian.PutUint64(buf[9:], uint64(inputIndex))
	h.Write(buf[:])
	return document.NodeID(h.Sum64())
}

// UnknownScopeError reports a Scope input whose key has no injection.
type UnknownScopeError struct {
	Key string
}

func (e *UnknownScopeError) Error() string {
	return fmt.Sprintf("scope input %q has no injected value", e.Key)
}

// MalformedNetworkError reports structural problems found while flattening.
type MalformedNetworkError struct {
	Node   document.NodeID
	Detail string
}

func (e *MalformedNetworkError) Error() string {
	return fmt.Sprintf("node %d: %s", e.Node, e.Detail)
}

type flattener struct {
	flat    *document.Network
	merge   MergeFunc
	paths   map[document.NodeID][]document.NodeID
	scopes  map[string]cty.Value
	created map[document.NodeID]bool
}

// Flatten recursively inlines every nested sub-network of the given network
// into a single-level node table. The result contains only leaf registry
// references: wrapper nodes become identity pass-throughs wired to their
// inlined output, wrapper literal inputs consumed through imports are
// materialized as standalone value nodes, and scope inputs are resolved to
// the injected literals they name. The second return value maps each flat
// id back to the document path of its originating node.
//
// The input network is not mutated. Flattening the same network twice
// yields identical results.
func Flatten(ctx context.Context, network *document.Network, merge MergeFunc) (*document.Network, map[document.NodeID][]document.NodeID, error) {
	if merge == nil {
		merge = HashMergeIDs
	}
	f := &flattener{
		flat:    network.Clone(),
		merge:   merge,
		paths:   make(map[document.NodeID][]document.NodeID),
		scopes:  network.ScopeInjections,
		created: make(map[document.NodeID]bool),
	}

	for _, id := range f.flat.SortedIDs() {
		f.paths[id] = []document.NodeID{id}
	}
	if err := f.resolveScopeInputs(f.flat); err != nil {
		return nil, nil, err
	}
	for _, id := range f.flat.SortedIDs() {
		if err := f.flattenNode(id); err != nil {
			return nil, nil, err
		}
	}

	ctxlog.FromContext(ctx).Debug("Flattening complete.", "nodes", len(f.flat.Nodes))
	return f.flat, f.paths, nil
}

// resolveScopeInputs replaces every Scope input at this level and below
// with the injected literal it names.
func (f *flattener) resolveScopeInputs(n *document.Network) error {
	for _, node := range n.Nodes {
		for i := range node.Inputs {
			if node.Inputs[i].Kind != document.KindScope {
				continue
			}
			key := node.Inputs[i].ScopeKey
			injected, ok := f.scopes[key]
			if !ok {
				return &UnknownScopeError{Key: key}
			}
			node.Inputs[i] = document.ValueInput(injected)
		}
		if node.Implementation.IsNetwork() {
			if err := f.resolveScopeInputs(node.Implementation.Network); err != nil {
				return err
			}
		}
	}
	return nil
}

// flattenNode inlines the nested network of the node at id, then recurses
// into the spliced nodes depth-first. Leaf nodes are left untouched.
func (f *flattener) flattenNode(id document.NodeID) error {
	node, ok := f.flat.Nodes[id]
	if !ok || !node.Implementation.IsNetwork() {
		return nil
	}
	inner := node.Implementation.Network

	// Remap inner ids through the merge function before splicing, so the
	// same inner graph inlined under two different wrappers lands on
	// distinct ids.
	remap := make(map[document.NodeID]document.NodeID, len(inner.Nodes))
	original := make(map[document.NodeID]document.NodeID, len(inner.Nodes))
	for _, innerID := range inner.SortedIDs() {
		merged := f.merge(id, innerID)
		remap[innerID] = merged
		original[merged] = innerID
	}
	inner.MapIDs(func(innerID document.NodeID) document.NodeID { return remap[innerID] })

	// Rewrite import inputs: each inner reference to the enclosing
	// network's i-th input is substituted with the wrapper's i-th input.
	// Wires splice directly; literals are materialized as value nodes so
	// the flat table stays wire-only below the top level.
	for _, innerNode := range inner.Nodes {
		for i := range innerNode.Inputs {
			if innerNode.Inputs[i].Kind != document.KindImport {
				continue
			}
			importIndex := innerNode.Inputs[i].ImportIndex
			if importIndex >= len(node.Inputs) {
				return &MalformedNetworkError{Node: id, Detail: fmt.Sprintf("import index %d exceeds wrapper input count %d", importIndex, len(node.Inputs))}
			}
			outerInput := node.Inputs[importIndex]
			if outerInput.Kind == document.KindValue {
				vid, err := f.materializeValue(id, importIndex, outerInput)
				if err != nil {
					return err
				}
				outerInput = document.NodeWire(vid, 0)
				node.Inputs[importIndex] = outerInput
			}
			innerNode.Inputs[i] = outerInput
		}
	}

	// Splice the inner table into the flat one. A duplicate id here means
	// the merge function collided, which is a defect in the merge, not in
	// the document.
	for merged, innerNode := range inner.Nodes {
		if _, exists := f.flat.Nodes[merged]; exists {
			return &proto.DuplicateIDError{ID: merged}
		}
		f.flat.Nodes[merged] = innerNode
		f.paths[merged] = append(append([]document.NodeID(nil), f.paths[id]...), original[merged])
	}

	// The wrapper stays in the table as a pass-through to the inner
	// export, so wires into the wrapper keep working unchanged.
	if len(inner.Exports) == 0 {
		return &MalformedNetworkError{Node: id, Detail: "nested network has no exports"}
	}
	export := inner.Exports[0]
	var outputWire document.NodeInput
	switch export.Kind {
	case document.KindNode:
		outputWire = export
	case document.KindValue:
		vid, err := f.materializeValue(id, len(node.Inputs), export)
		if err != nil {
			return err
		}
		outputWire = document.NodeWire(vid, 0)
	case document.KindImport:
		if export.ImportIndex >= len(node.Inputs) {
			return &MalformedNetworkError{Node: id, Detail: "export import index exceeds wrapper input count"}
		}
		outputWire = node.Inputs[export.ImportIndex]
		if outputWire.Kind == document.KindValue {
			vid, err := f.materializeValue(id, export.ImportIndex, outputWire)
			if err != nil {
				return err
			}
			outputWire = document.NodeWire(vid, 0)
			node.Inputs[export.ImportIndex] = outputWire
		}
	default:
		return &MalformedNetworkError{Node: id, Detail: "unsupported export kind"}
	}
	node.Implementation = document.ProtoImpl(IdentityIdentifier)
	node.Inputs = []document.NodeInput{outputWire}

	// Depth-first: inlined nodes may themselves wrap networks.
	for _, merged := range remap {
		if err := f.flattenNode(merged); err != nil {
			return err
		}
	}
	return nil
}

// materializeValue creates (or reuses) a standalone node holding the given
// literal input, keyed deterministically by its owner and input index.
func (f *flattener) materializeValue(owner document.NodeID, inputIndex int, literal document.NodeInput) (document.NodeID, error) {
	vid := valueNodeID(owner, inputIndex)
	if f.created[vid] {
		return vid, nil
	}
	if _, exists := f.flat.Nodes[vid]; exists {
		return 0, &proto.DuplicateIDError{ID: vid}
	}
	f.flat.Nodes[vid] = &document.DocumentNode{
		Inputs:         []document.NodeInput{literal},
		Implementation: document.ProtoImpl(ValueIdentifier),
		Visible:        true,
	}
	f.created[vid] = true
	f.paths[vid] = []document.NodeID{vid}
	return vid, nil
}
