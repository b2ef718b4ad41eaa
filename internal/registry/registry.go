package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zclconf/go-cty/cty"
)

// Module is the interface that all node packs implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Node is a live, type-erased, asynchronously evaluable node instance.
// Eval may suspend on its dependencies; it must honor ctx cancellation at
// its own await points.
type Node interface {
	Eval(ctx context.Context, input any) (any, error)
}

// Resettable is implemented by nodes holding memoized state.
type Resettable interface {
	Reset()
}

// Introspectable exposes whatever the node last produced, for preview
// display without a full evaluation.
type Introspectable interface {
	// Snapshot returns the last recorded output and whether the node has
	// ever produced one.
	Snapshot() (any, bool)
}

// NodeIOTypes is the (call input, output, parameters) signature of one
// monomorphic implementation. cty.DynamicPseudoType acts as the generic
// wildcard.
type NodeIOTypes struct {
	Input  cty.Type
	Output cty.Type
	Params []cty.Type
}

// Constructor builds a node instance from the already-constructed shared
// handles of its construction-argument dependencies.
type Constructor func(ctx context.Context, params []*Handle) (Node, error)

// Implementation pairs a constructor with its monomorphic signature.
type Implementation struct {
	Construct Constructor
	Types     NodeIOTypes
}

// Registry holds every registered implementation for a single application
// instance, keyed by node identifier.
type Registry struct {
	impls map[string][]Implementation
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{impls: make(map[string][]Implementation)}
}

// Register adds one monomorphic implementation for the named node kind.
// Registering the same signature twice for one identifier is a programming
// error in the node pack and panics, matching init-time validation of the
// module system.
func (r *Registry) Register(identifier string, impl Implementation) {
	if impl.Construct == nil {
		panic(fmt.Sprintf("implementation for '%s' registered without a constructor", identifier))
	}
	for _, existing := range r.impls[identifier] {
		if existing.Types.equal(impl.Types) {
			panic(fmt.Sprintf("implementation for '%s' with signature %s already registered", identifier, impl.Types))
		}
	}
	slog.Debug("Registering node implementation.", "identifier", identifier, "types", impl.Types.String())
	r.impls[identifier] = append(r.impls[identifier], impl)
}

// Lookup returns every implementation registered for the identifier.
func (r *Registry) Lookup(identifier string) []Implementation {
	return r.impls[identifier]
}

// Install registers all provided modules.
func (r *Registry) Install(modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
}

func (t NodeIOTypes) equal(other NodeIOTypes) bool {
	if !t.Input.Equals(other.Input) || !t.Output.Equals(other.Output) || len(t.Params) != len(other.Params) {
		return false
	}
	for i := range t.Params {
		if !t.Params[i].Equals(other.Params[i]) {
			return false
		}
	}
	return true
}

// String renders the signature for error messages and logs.
func (t NodeIOTypes) String() string {
	params := ""
	for i, p := range t.Params {
		if i > 0 {
			params += ", "
		}
		params += p.FriendlyName()
	}
	return fmt.Sprintf("(%s | %s) -> %s", t.Input.FriendlyName(), params, t.Output.FriendlyName())
}
