package registry

import (
	"context"
	"sync"
)

// Handle is the shared-ownership wrapper around a constructed node. All
// consumers of a node's output hold the same *Handle, and within one logical
// evaluation (identified by the evaluation id carried in the context) the
// underlying node runs at most once; later consumers in the same evaluation
// reuse the stored result.
type Handle struct {
	node Node

	mu     sync.Mutex
	evalID uint64
	out    any
	err    error
}

// NewHandle wraps a node in a shared handle.
func NewHandle(node Node) *Handle {
	return &Handle{node: node}
}

// Underlying returns the wrapped node, for introspection and reset.
func (h *Handle) Underlying() Node {
	return h.node
}

// Eval evaluates the node, reusing the result already produced during the
// current evaluation pass. The slot lock is held across the inner Eval;
// dependency edges are acyclic by construction so this cannot deadlock, and
// it is what makes concurrent sibling consumers observe a single invocation.
func (h *Handle) Eval(ctx context.Context, input any) (any, error) {
	id := EvaluationID(ctx)
	if id == 0 {
		return h.node.Eval(ctx, input)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.evalID == id {
		return h.out, h.err
	}
	out, err := h.node.Eval(ctx, input)
	h.evalID, h.out, h.err = id, out, err
	return out, err
}

type evalIDKey struct{}

// WithEvaluationID tags a context with the id of one logical evaluation
// pass. Ids start at 1; the zero id disables per-pass result sharing.
func WithEvaluationID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, evalIDKey{}, id)
}

// EvaluationID extracts the evaluation pass id, or 0 when absent.
func EvaluationID(ctx context.Context) uint64 {
	if id, ok := ctx.Value(evalIDKey{}).(uint64); ok {
		return id
	}
	return 0
}
