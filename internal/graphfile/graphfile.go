// Package graphfile loads node network documents from .gph files, an
// HCL-based description of nodes, nested networks, and exports.
//
// A document is a list of node blocks wired by name:
//
//	node "base" {
//	  op    = "core.value"
//	  value = 40
//	}
//
//	network "plus_two" {
//	  input = "base"
//	  node "sum" {
//	    op     = "arith.add"
//	    input  = "@0"
//	    params = [2]
//	  }
//	  export = "sum"
//	}
//
//	export = "plus_two"
//
// "@N" refers to the enclosing network's N-th input; bare literals in
// params embed constant values.
package graphfile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/fsutil"
)

// Extension is the file suffix of graph documents.
const Extension = ".gph"

type fileModel struct {
	Nodes    []*nodeBlock    `hcl:"node,block"`
	Networks []*networkBlock `hcl:"network,block"`
	Scopes   []*scopeBlock   `hcl:"scope,block"`
	Export   *string         `hcl:"export,optional"`
}

type nodeBlock struct {
	Name   string         `hcl:"name,label"`
	Op     string         `hcl:"op"`
	Input  *string        `hcl:"input,optional"`
	Params hcl.Expression `hcl:"params,optional"`
	Value  hcl.Expression `hcl:"value,optional"`
}

type networkBlock struct {
	Name     string          `hcl:"name,label"`
	Input    *string         `hcl:"input,optional"`
	Params   hcl.Expression  `hcl:"params,optional"`
	Nodes    []*nodeBlock    `hcl:"node,block"`
	Networks []*networkBlock `hcl:"network,block"`
	Export   *string         `hcl:"export,optional"`
}

type scopeBlock struct {
	Remain hcl.Body `hcl:",remain"`
}

// UnknownNodeError reports a wire referencing a name with no block.
type UnknownNodeError struct {
	Name string
	File string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%s: no node named %q", e.File, e.Name)
}

// Load parses one .gph file into a document network.
func Load(ctx context.Context, path string) (*document.Network, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	return decodeFile(ctx, path, file)
}

// LoadDir parses every .gph file under dir into one merged document. Node
// names must be unique across files; exactly one file may declare the
// top-level export.
func LoadDir(ctx context.Context, dir string) (*document.Network, error) {
	paths, err := fsutil.FindFilesByExtension(dir, Extension)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files found under %s", Extension, dir)
	}

	merged := &fileModel{}
	parser := hclparse.NewParser()
	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", path, diags)
		}
		var model fileModel
		if diags := gohcl.DecodeBody(file.Body, nil, &model); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", path, diags)
		}
		merged.Nodes = append(merged.Nodes, model.Nodes...)
		merged.Networks = append(merged.Networks, model.Networks...)
		merged.Scopes = append(merged.Scopes, model.Scopes...)
		if model.Export != nil {
			if merged.Export != nil {
				return nil, fmt.Errorf("%s: export already declared by another file", path)
			}
			merged.Export = model.Export
		}
	}
	return buildDocument(ctx, dir, merged)
}

func decodeFile(ctx context.Context, path string, file *hcl.File) (*document.Network, error) {
	var model fileModel
	if diags := gohcl.DecodeBody(file.Body, nil, &model); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}
	return buildDocument(ctx, path, &model)
}

func buildDocument(ctx context.Context, path string, model *fileModel) (*document.Network, error) {
	network, err := buildNetwork(path, model.Nodes, model.Networks, model.Export)
	if err != nil {
		return nil, err
	}

	for _, scope := range model.Scopes {
		attrs, diags := scope.Remain.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s: decoding scope block: %w", path, diags)
		}
		if network.ScopeInjections == nil {
			network.ScopeInjections = make(map[string]cty.Value, len(attrs))
		}
		for name, attr := range attrs {
			v, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("%s: evaluating scope value %q: %w", path, name, diags)
			}
			network.ScopeInjections[name] = v
		}
	}

	ctxlog.FromContext(ctx).Debug("Loaded graph document.", "path", path, "nodes", len(network.Nodes))
	return network, nil
}

// buildNetwork assembles one network level. Ids are assigned by declaration
// order, node blocks first, then network blocks.
func buildNetwork(path string, nodes []*nodeBlock, networks []*networkBlock, export *string) (*document.Network, error) {
	ids := make(map[string]document.NodeID, len(nodes)+len(networks))
	next := document.NodeID(1)
	for _, block := range nodes {
		if _, dup := ids[block.Name]; dup {
			return nil, fmt.Errorf("%s: node %q declared twice", path, block.Name)
		}
		ids[block.Name] = next
		next++
	}
	for _, block := range networks {
		if _, dup := ids[block.Name]; dup {
			return nil, fmt.Errorf("%s: node %q declared twice", path, block.Name)
		}
		ids[block.Name] = next
		next++
	}

	resolveWire := func(name string) (document.NodeInput, error) {
		if index, ok := strings.CutPrefix(name, "@"); ok {
			i, err := strconv.Atoi(index)
			if err != nil || i < 0 {
				return document.NodeInput{}, fmt.Errorf("%s: invalid input reference %q", path, name)
			}
			return document.ImportInput(i, cty.DynamicPseudoType), nil
		}
		if key, ok := strings.CutPrefix(name, "$"); ok {
			return document.ScopeInput(key), nil
		}
		id, ok := ids[name]
		if !ok {
			return document.NodeInput{}, &UnknownNodeError{Name: name, File: path}
		}
		return document.NodeWire(id, 0), nil
	}

	resolveParams := func(listExpr hcl.Expression) ([]document.NodeInput, error) {
		if listExpr == nil {
			return nil, nil
		}
		exprs, diags := hcl.ExprList(listExpr)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s: params must be a list: %w", path, diags)
		}
		inputs := make([]document.NodeInput, 0, len(exprs))
		for _, expr := range exprs {
			// A quoted name or reference wires to another node; any other
			// literal embeds a value.
			v, diags := expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("%s: evaluating parameter: %w", path, diags)
			}
			if v.Type() == cty.String {
				s := v.AsString()
				if _, ok := ids[s]; ok || strings.HasPrefix(s, "@") || strings.HasPrefix(s, "$") {
					wire, err := resolveWire(s)
					if err != nil {
						return nil, err
					}
					inputs = append(inputs, wire)
					continue
				}
			}
			inputs = append(inputs, document.ValueInput(v))
		}
		return inputs, nil
	}

	n := document.NewNetwork()
	for _, block := range nodes {
		node := &document.DocumentNode{
			Implementation: document.ProtoImpl(block.Op),
			Visible:        true,
		}
		switch {
		case block.Value != nil:
			v, diags := block.Value.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("%s: evaluating value of %q: %w", path, block.Name, diags)
			}
			node.Inputs = append(node.Inputs, document.ValueInput(v))
		case block.Input != nil:
			wire, err := resolveWire(*block.Input)
			if err != nil {
				return nil, err
			}
			node.Inputs = append(node.Inputs, wire)
		}
		params, err := resolveParams(block.Params)
		if err != nil {
			return nil, err
		}
		node.Inputs = append(node.Inputs, params...)
		n.Nodes[ids[block.Name]] = node
	}

	for _, block := range networks {
		inner, err := buildNetwork(path, block.Nodes, block.Networks, block.Export)
		if err != nil {
			return nil, err
		}
		node := &document.DocumentNode{
			Implementation: document.NetworkImpl(inner),
			Visible:        true,
		}
		if block.Input != nil {
			wire, err := resolveWire(*block.Input)
			if err != nil {
				return nil, err
			}
			node.Inputs = append(node.Inputs, wire)
		}
		params, err := resolveParams(block.Params)
		if err != nil {
			return nil, err
		}
		node.Inputs = append(node.Inputs, params...)
		n.Nodes[ids[block.Name]] = node
	}

	if export != nil {
		wire, err := resolveWire(*export)
		if err != nil {
			return nil, err
		}
		n.Exports = []document.NodeInput{wire}
	}
	return n, nil
}
