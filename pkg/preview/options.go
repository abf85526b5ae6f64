package preview

import (
	"github.com/go-playground/validator/v10"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/checker"
)

// validate is the shared option validator.
var validate = validator.New()

// CompileOptions is the caller-supplied configuration bag for a dual
// compile. It is treated as immutable by the orchestrator.
type CompileOptions struct {
	// PreviewEnvironment is the environment the second pass compiles
	// against. Required.
	PreviewEnvironment string `json:"preview_environment" validate:"required"`

	// BaselineLog is the destination for baseline-pass log output.
	BaselineLog string `json:"baseline_log" validate:"required"`

	// PreviewLog is the destination for preview-pass log output.
	PreviewLog string `json:"preview_log" validate:"required"`

	// Facts is an optional percent-encoded fact payload submitted inline
	// with the request.
	Facts string `json:"facts,omitempty"`

	// FactsFormat declares the encoding of Facts (json, yaml). Required
	// whenever Facts is set.
	FactsFormat string `json:"facts_format,omitempty" validate:"omitempty,oneof=json yaml"`

	// FactSet is an already-decoded fact object, used by trusted
	// in-process callers to skip payload decoding.
	FactSet *catalog.FactSet `json:"-"`

	// UseNode supplies a pre-resolved node. Honored only for local
	// requests; see NodeResolver.
	UseNode *catalog.Node `json:"-"`

	// TransactionUUID ties both passes and any fact save to one request.
	// Generated when absent.
	TransactionUUID string `json:"transaction_uuid,omitempty" validate:"omitempty,uuid"`

	// MigrationChecker, when non-nil, accumulates migration issues during
	// the preview pass and reports them at its end.
	MigrationChecker checker.Checker `json:"-"`
}

// CompileRequest is the surface the orchestrator consumes.
type CompileRequest struct {
	// Key is the explicit target node name. When empty the connected
	// identity's own node name (NodeName) is the target.
	Key string `json:"key,omitempty"`

	// NodeName is the requesting identity's node name.
	NodeName string `json:"node,omitempty"`

	// Environment is the environment the request was addressed to.
	Environment string `json:"environment,omitempty"`

	// Remote is true when the request arrived over the network rather
	// than from an in-process caller. Remote requests may not use
	// UseNode, and compile failures are logged server-side for them.
	Remote bool `json:"remote,omitempty"`

	// Options is the compile option bag.
	Options CompileOptions `json:"options"`
}

// Target returns the node name the request compiles: the explicit key, or
// the requesting identity's own node name.
func (r *CompileRequest) Target() string {
	if r.Key != "" {
		return r.Key
	}
	return r.NodeName
}

// validateOptions checks the option bag before the dual compile starts, so
// a missing preview environment fails loudly instead of silently compiling
// against an empty environment.
func validateOptions(opts *CompileOptions) error {
	if err := validate.Struct(opts); err != nil {
		return NewArgumentError("invalid compile options", err)
	}
	return nil
}
