package preview

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/checker"
)

// Pass identifies which compilation pass a backend call belongs to.
type Pass string

const (
	// PassBaseline compiles the node against its normally assigned
	// environment.
	PassBaseline Pass = "baseline"

	// PassPreview compiles the node against the caller-supplied preview
	// environment, with the migration checker installed.
	PassPreview Pass = "preview"
)

// PassContext carries everything a backend needs for one compilation pass.
// All formerly ambient compiler state (log destination, override stack,
// environment) is explicit here, so two passes cannot interfere through
// process globals.
type PassContext struct {
	// Node is the node being compiled. The orchestrator reuses the same
	// instance across both passes, repointing its Environment field.
	Node *catalog.Node

	// Environment is the environment this pass compiles against. Always
	// equal to Node.Environment at call time.
	Environment string

	// Logger routes this pass's compiler output to the pass's log
	// destination.
	Logger zerolog.Logger

	// Checker, when non-nil, observes every compiled resource. Set only
	// for the preview pass.
	Checker checker.Checker

	// Pass identifies the pass.
	Pass Pass
}

// CompilerBackend is the configuration-language compiler. Implementations
// must be pure with respect to PassContext: repeated calls with the same
// node snapshot and environment yield structurally identical catalogs.
type CompilerBackend interface {
	Compile(ctx context.Context, pc PassContext) (*catalog.Catalog, error)
}

// LookupOptions is the request context passed through to node lookup.
type LookupOptions struct {
	Environment     string
	TransactionUUID string
}

// NodeLookup is the external node-information service. Find returns
// (nil, nil) when no node is known under the given name.
type NodeLookup interface {
	Find(ctx context.Context, name string, opts LookupOptions) (*catalog.Node, error)
}

// FactSaver persists decoded fact sets so a subsequent node lookup observes
// them.
type FactSaver interface {
	SaveFacts(ctx context.Context, facts *catalog.FactSet, environment, transactionUUID string) error
}
