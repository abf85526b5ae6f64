package preview

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/checker"
	"github.com/catprev/catprev/pkg/logdest"
	"github.com/catprev/catprev/pkg/telemetry"
)

// DualCompiler runs the baseline and preview compilation passes for a node.
//
// The two passes are strictly sequential: they share the node instance
// (whose environment field is repointed between passes) and the log
// destination registry, so a DualCompiler must not be invoked concurrently
// for the same registry. Log destinations are released on every exit path.
type DualCompiler struct {
	backend CompilerBackend
	sinks   *logdest.Registry
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// NewDualCompiler creates a dual compiler over the given backend and log
// destination registry.
func NewDualCompiler(backend CompilerBackend, sinks *logdest.Registry) *DualCompiler {
	return &DualCompiler{
		backend: backend,
		sinks:   sinks,
	}
}

// WithTracer attaches a tracer; each pass gets its own span.
func (d *DualCompiler) WithTracer(t *telemetry.Tracer) *DualCompiler {
	d.tracer = t
	return d
}

// WithMetrics attaches a metrics collector.
func (d *DualCompiler) WithMetrics(m *telemetry.Metrics) *DualCompiler {
	d.metrics = m
	return d
}

// Compile produces the baseline and preview catalogs for node.
//
// The baseline pass compiles against the node's current environment with
// output routed to the baseline log destination; the preview pass repoints
// the node at the preview environment and compiles with the migration
// checker (if any) observing resources, output routed to the preview log
// destination. The console destination is suppressed while either pass runs
// and restored before returning. On failure the error propagates after
// cleanup; a partial result is never returned.
func (d *DualCompiler) Compile(ctx context.Context, node *catalog.Node, req *CompileRequest) (*catalog.CompileResult, error) {
	opts := &req.Options
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if opts.TransactionUUID == "" {
		opts.TransactionUUID = uuid.New().String()
	}

	baselineEnv := node.Environment

	d.sinks.SuppressConsole()
	defer d.sinks.RestoreConsole()

	var baseSink, prevSink *logdest.Destination
	defer func() {
		if baseSink != nil {
			_ = baseSink.Close()
		}
		if prevSink != nil {
			_ = prevSink.Close()
		}
	}()

	// Baseline phase.
	baseSink, err := d.sinks.Open(opts.BaselineLog)
	if err != nil {
		return nil, NewArgumentError("could not open baseline log destination", err).WithNode(node.Name)
	}

	baseline, err := d.runPass(ctx, PassBaseline, node, baselineEnv, baseSink.Logger(), nil, opts)
	if err != nil {
		return nil, d.compileFailed(err, node, baselineEnv, req, baseSink.Logger())
	}
	_ = baseSink.Close()

	// Preview phase.
	prevSink, err = d.sinks.Open(opts.PreviewLog)
	if err != nil {
		return nil, NewArgumentError("could not open preview log destination", err).WithNode(node.Name)
	}

	// The backend is warmed with a second baseline compile inside the
	// preview log scope. Its result is deliberately discarded: the catalog
	// captured in the baseline phase stays authoritative.
	if _, err := d.runPass(ctx, PassBaseline, node, baselineEnv, prevSink.Logger(), nil, opts); err != nil {
		return nil, d.compileFailed(err, node, baselineEnv, req, prevSink.Logger())
	}

	node.Environment = opts.PreviewEnvironment
	previewCat, err := d.runPass(ctx, PassPreview, node, opts.PreviewEnvironment, prevSink.Logger(), opts.MigrationChecker, opts)
	if err != nil {
		return nil, d.compileFailed(err, node, baselineEnv, req, prevSink.Logger())
	}

	if opts.MigrationChecker != nil {
		if err := opts.MigrationChecker.AssertAndReport(prevSink.Logger(), checker.Unbounded()); err != nil {
			return nil, d.compileFailed(err, node, baselineEnv, req, prevSink.Logger())
		}
		d.observeIssues(opts.MigrationChecker)
	}

	return &catalog.CompileResult{
		Baseline: baseline,
		Preview:  previewCat,
	}, nil
}

// runPass executes one backend compile with explicit pass context.
func (d *DualCompiler) runPass(ctx context.Context, pass Pass, node *catalog.Node, environment string, logger zerolog.Logger, chk checker.Checker, opts *CompileOptions) (cat *catalog.Catalog, passErr error) {
	spanCtx := ctx
	if d.tracer != nil {
		var span trace.Span
		spanCtx, span = d.tracer.StartPassSpan(ctx, string(pass), node.Name, environment)
		span.SetAttributes(telemetry.AttrTxnUUID.String(opts.TransactionUUID))
		defer func() {
			telemetry.RecordError(span, passErr)
			if passErr == nil {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	start := time.Now()
	logger.Info().
		Str("node", node.Name).
		Str("environment", environment).
		Str("pass", string(pass)).
		Str("transaction_uuid", opts.TransactionUUID).
		Msg("Compiling catalog")

	cat, passErr = d.backend.Compile(spanCtx, PassContext{
		Node:        node,
		Environment: environment,
		Logger:      logger,
		Checker:     chk,
		Pass:        pass,
	})

	d.metrics.ObservePass(string(pass), time.Since(start), passErr)

	if passErr != nil {
		return nil, passErr
	}

	logger.Info().
		Str("node", node.Name).
		Str("environment", environment).
		Str("pass", string(pass)).
		Dur("duration", time.Since(start)).
		Int("resources", len(cat.Resources)).
		Msg("Catalog compiled")

	return cat, nil
}

// compileFailed wraps a pass failure into a compilation error with node and
// environment context. The failure is logged only for networked requests;
// local callers already see the propagated error on their console.
func (d *DualCompiler) compileFailed(err error, node *catalog.Node, baselineEnv string, req *CompileRequest, logger zerolog.Logger) error {
	var perr *PreviewError
	if !errors.As(err, &perr) {
		perr = NewCompilationError("catalog compilation failed", err)
	}
	perr = perr.WithNode(node.Name).WithEnvironments(baselineEnv, req.Options.PreviewEnvironment)

	if req.Remote {
		logger.Error().
			Str("node", node.Name).
			Str("baseline_env", baselineEnv).
			Str("preview_env", req.Options.PreviewEnvironment).
			Err(perr).
			Msg("Dual compilation failed")
	}
	return perr
}

// observeIssues feeds accumulated checker issues into metrics when the
// checker exposes them.
func (d *DualCompiler) observeIssues(chk checker.Checker) {
	reporter, ok := chk.(interface{ Issues() []checker.Issue })
	if !ok {
		return
	}
	for _, issue := range reporter.Issues() {
		d.metrics.ObserveCheckerIssue(string(issue.Severity))
	}
}
