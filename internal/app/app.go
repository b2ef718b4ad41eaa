// Package app wires the registry, compiler, and executor into a runnable
// application: load a graph document, compile it, evaluate it, and
// optionally keep watching the document for edits.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/compile"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/document"
	"github.com/vk/nodeflow/internal/executor"
	"github.com/vk/nodeflow/internal/graphfile"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/value"
	"github.com/vk/nodeflow/modules/arith"
	"github.com/vk/nodeflow/modules/corenodes"
	"github.com/vk/nodeflow/modules/strings"
)

// Config holds the application settings resolved from the CLI.
type Config struct {
	// Path is a .gph file or a directory of them.
	Path string
	// Watch keeps the process alive, recompiling on document changes.
	Watch bool
	// Input is an optional literal fed to the network as its external
	// input, in HCL expression syntax.
	Input string

	LogLevel  string
	LogFormat string
}

// App owns a registry and one executor that persists across recompiles.
type App struct {
	out  io.Writer
	cfg  *Config
	reg  *registry.Registry
	exec *executor.Executor
}

// New assembles an application with the built-in node packs installed.
func New(out io.Writer, cfg *Config) *App {
	reg := registry.New()
	reg.Install(&corenodes.Module{}, &arith.Module{}, &strings.Module{})
	return &App{
		out:  out,
		cfg:  cfg,
		reg:  reg,
		exec: executor.New(reg),
	}
}

// Run loads, compiles, and evaluates the configured document, then watches
// it if requested. The context carries the application logger.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, newLogger(a.cfg.LogLevel, a.cfg.LogFormat, os.Stderr))

	input, inputType, err := parseInput(a.cfg.Input)
	if err != nil {
		return err
	}

	if err := a.cycle(ctx, input, inputType); err != nil {
		if !a.cfg.Watch {
			return err
		}
		// In watch mode a broken document is reported, not fatal; the
		// next edit gets another chance.
		ctxlog.FromContext(ctx).Error("Compilation failed, waiting for changes.", "error", err)
	}

	if a.cfg.Watch {
		return a.watch(ctx, input, inputType)
	}
	return nil
}

// Check loads and compiles the document without evaluating it, reporting
// the resolved output type.
func (a *App) Check(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, newLogger(a.cfg.LogLevel, a.cfg.LogFormat, os.Stderr))

	_, inputType, err := parseInput(a.cfg.Input)
	if err != nil {
		return err
	}
	if err := a.load(ctx, inputType); err != nil {
		return err
	}
	if outType, ok := a.exec.OutputType(); ok {
		fmt.Fprintf(a.out, "ok: output type %s\n", outType.FriendlyName())
	}
	return nil
}

// cycle runs one full load-compile-evaluate pass.
func (a *App) cycle(ctx context.Context, input cty.Value, inputType cty.Type) error {
	if err := a.load(ctx, inputType); err != nil {
		return err
	}
	out, err := a.exec.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("evaluating network: %w", err)
	}
	fmt.Fprintf(a.out, "%s\n", renderValue(out))
	return nil
}

// load parses the document, compiles it, and updates the executor in
// place, keeping unchanged node instances alive.
func (a *App) load(ctx context.Context, inputType cty.Type) error {
	logger := ctxlog.FromContext(ctx)

	doc, err := a.readDocument(ctx)
	if err != nil {
		return err
	}
	pn, err := compile.Compile(ctx, doc)
	if err != nil {
		return err
	}
	orphans, err := a.exec.Update(ctx, pn, inputType)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		logger.Debug("Nodes orphaned by this update.", "count", len(orphans))
	}
	return nil
}

func (a *App) readDocument(ctx context.Context) (*document.Network, error) {
	info, err := os.Stat(a.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("reading document path: %w", err)
	}
	if info.IsDir() {
		return graphfile.LoadDir(ctx, a.cfg.Path)
	}
	return graphfile.Load(ctx, a.cfg.Path)
}

// parseInput turns the --input literal into the value fed to the network.
// An empty literal means the network takes no external input.
func parseInput(literal string) (cty.Value, cty.Type, error) {
	if literal == "" {
		return cty.NullVal(cty.DynamicPseudoType), cty.DynamicPseudoType, nil
	}
	v, err := value.ParseLiteral(literal)
	if err != nil {
		return cty.NilVal, cty.NilType, fmt.Errorf("parsing input literal: %w", err)
	}
	return v, v.Type(), nil
}

func renderValue(v cty.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.Type() == cty.String:
		return v.AsString()
	case v.Type() == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case v.Type() == cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	default:
		return v.GoString()
	}
}
