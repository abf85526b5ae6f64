// Package catalogc implements the configuration-language compiler backend:
// it turns an environment's CUE sources plus a node's facts into a compiled
// catalog. The orchestrator in pkg/preview treats the produced catalog as
// opaque.
package catalogc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/preview"
)

// Compiler compiles catalogs from per-environment CUE directories laid out
// as <envRoot>/<environment>/*.cue. Each compile builds a fresh unified
// value, so repeated compiles of the same node snapshot and environment are
// structurally identical.
type Compiler struct {
	cctx    *cue.Context
	envRoot string
}

// resourceSpec is the shape each entry under `resources` must decode to.
type resourceSpec struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Attributes map[string]any `json:"attributes"`
}

// New creates a compiler rooted at the given environments directory.
func New(envRoot string) *Compiler {
	return &Compiler{
		cctx:    cuecontext.New(),
		envRoot: envRoot,
	}
}

// Compile implements preview.CompilerBackend.
func (c *Compiler) Compile(_ context.Context, pc preview.PassContext) (*catalog.Catalog, error) {
	if pc.Environment == "" {
		return nil, preview.NewCompilationError("no environment given to compile against", nil).WithNode(pc.Node.Name)
	}

	dir := filepath.Join(c.envRoot, pc.Environment)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, preview.NewCompilationError(
			fmt.Sprintf("environment %q not found under %s", pc.Environment, c.envRoot), err,
		).WithNode(pc.Node.Name)
	}

	val, err := c.loadEnvironment(dir, pc)
	if err != nil {
		return nil, err
	}

	// Make the node visible to the configuration as `node`.
	nodeVal := c.cctx.Encode(map[string]any{
		"name":        pc.Node.Name,
		"environment": pc.Environment,
		"facts":       emptyIfNil(pc.Node.Facts),
		"trusted":     emptyIfNil(pc.Node.Trusted),
	})
	val = val.FillPath(cue.ParsePath("node"), nodeVal)
	if err := val.Err(); err != nil {
		return nil, c.compileError(pc, "failed to bind node data", err)
	}

	resources, err := c.extractResources(val, pc)
	if err != nil {
		return nil, err
	}

	cat := &catalog.Catalog{
		Name:        pc.Node.Name,
		Environment: pc.Environment,
		Resources:   resources,
		CompiledAt:  time.Now().UTC(),
	}
	cat.SortResources()

	if pc.Checker != nil {
		for _, res := range cat.Resources {
			pc.Checker.Observe(res)
		}
	}

	return cat, nil
}

// loadEnvironment compiles and unifies every .cue file in the environment
// directory.
func (c *Compiler) loadEnvironment(dir string, pc preview.PassContext) (cue.Value, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return cue.Value{}, c.compileError(pc, "failed to read environment directory", err)
	}

	var unified cue.Value
	var loaded int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cue") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, c.compileError(pc, fmt.Sprintf("failed to read %s", path), err)
		}

		val := c.cctx.CompileString(string(content), cue.Filename(path))
		if err := val.Err(); err != nil {
			return cue.Value{}, c.compileError(pc, fmt.Sprintf("failed to compile %s", path), err)
		}

		if loaded == 0 {
			unified = val
		} else {
			unified = unified.Unify(val)
		}
		loaded++
	}

	if loaded == 0 {
		return cue.Value{}, preview.NewCompilationError(
			fmt.Sprintf("environment %q contains no CUE sources", pc.Environment), nil,
		).WithNode(pc.Node.Name)
	}
	if err := unified.Err(); err != nil {
		return cue.Value{}, c.compileError(pc, "environment sources do not unify", err)
	}
	return unified, nil
}

// extractResources pulls the `resources` value out of the configuration.
// Resources may be a list, or a struct whose keys become resource titles.
func (c *Compiler) extractResources(val cue.Value, pc preview.PassContext) ([]catalog.Resource, error) {
	resourcesVal := val.LookupPath(cue.ParsePath("resources"))
	if !resourcesVal.Exists() {
		return nil, nil
	}

	var resources []catalog.Resource

	switch resourcesVal.Kind() {
	case cue.ListKind:
		list, err := resourcesVal.List()
		if err != nil {
			return nil, c.compileError(pc, "failed to iterate resources", err)
		}
		idx := 0
		for list.Next() {
			res, err := c.decodeResource("", list.Value())
			if err != nil {
				return nil, c.compileError(pc, fmt.Sprintf("resources[%d]", idx), err)
			}
			resources = append(resources, res)
			idx++
		}
	case cue.StructKind:
		iter, err := resourcesVal.Fields(cue.All())
		if err != nil {
			return nil, c.compileError(pc, "failed to iterate resources", err)
		}
		for iter.Next() {
			title := strings.Trim(iter.Selector().String(), `"`)
			res, err := c.decodeResource(title, iter.Value())
			if err != nil {
				return nil, c.compileError(pc, fmt.Sprintf("resources.%s", title), err)
			}
			resources = append(resources, res)
		}
	default:
		return nil, preview.NewCompilationError(
			fmt.Sprintf("resources must be a list or struct, got %s", resourcesVal.Kind()), nil,
		).WithNode(pc.Node.Name)
	}

	return resources, nil
}

// decodeResource decodes a single resource value.
func (c *Compiler) decodeResource(title string, val cue.Value) (catalog.Resource, error) {
	var spec resourceSpec
	if err := val.Decode(&spec); err != nil {
		return catalog.Resource{}, fmt.Errorf("failed to decode resource: %w", err)
	}
	if spec.Title == "" {
		spec.Title = title
	}
	if spec.Type == "" || spec.Title == "" {
		return catalog.Resource{}, fmt.Errorf("resource needs both a type and a title")
	}
	return catalog.Resource{
		Type:       spec.Type,
		Title:      spec.Title,
		Attributes: spec.Attributes,
	}, nil
}

// compileError logs CUE diagnostics with their source positions to the
// pass's log destination and wraps the failure.
func (c *Compiler) compileError(pc preview.PassContext, message string, err error) *preview.PreviewError {
	for _, e := range cueerrors.Errors(err) {
		event := pc.Logger.Error().Str("environment", pc.Environment)
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			event = event.
				Str("file", pos[0].Filename()).
				Int("line", pos[0].Line()).
				Int("column", pos[0].Column())
		}
		event.Msg(cueerrors.Details(e, nil))
	}
	return preview.NewCompilationError(message, err).WithNode(pc.Node.Name)
}

func emptyIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
