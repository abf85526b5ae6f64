package preview

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/stores"
)

// Service runs the full request pipeline: fact ingestion, node resolution,
// then the dual compile, with an audit record written per run.
type Service struct {
	ingestor *FactIngestor
	resolver *NodeResolver
	compiler *DualCompiler
	store    stores.Store
	log      zerolog.Logger
}

// NewService wires the pipeline. store may be nil, in which case no audit
// records are written.
func NewService(ingestor *FactIngestor, resolver *NodeResolver, compiler *DualCompiler, store stores.Store, logger zerolog.Logger) *Service {
	return &Service{
		ingestor: ingestor,
		resolver: resolver,
		compiler: compiler,
		store:    store,
		log:      logger,
	}
}

// Run executes one compile request end to end.
func (s *Service) Run(ctx context.Context, req *CompileRequest) (*catalog.CompileResult, error) {
	if req.Target() == "" && req.Options.UseNode == nil {
		return nil, NewArgumentError("request names no node to compile", nil)
	}
	if req.Options.TransactionUUID == "" {
		req.Options.TransactionUUID = uuid.New().String()
	}

	started := time.Now().UTC()

	if err := s.ingestor.ExtractFactsFromRequest(ctx, req); err != nil {
		return nil, err
	}

	node, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	baselineEnv := node.Environment

	result, err := s.compiler.Compile(ctx, node, req)
	s.recordRun(ctx, node.Name, baselineEnv, req, started, err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("node", node.Name).
		Str("baseline_env", baselineEnv).
		Str("preview_env", req.Options.PreviewEnvironment).
		Str("transaction_uuid", req.Options.TransactionUUID).
		Msg("Dual compilation completed")

	return result, nil
}

// recordRun writes the compile audit entry; failures to audit are logged
// but never mask the compile outcome.
func (s *Service) recordRun(ctx context.Context, nodeName, baselineEnv string, req *CompileRequest, started time.Time, compileErr error) {
	if s.store == nil {
		return
	}

	completed := time.Now().UTC()
	rec := &stores.CompileRecord{
		NodeName:        nodeName,
		BaselineEnv:     baselineEnv,
		PreviewEnv:      req.Options.PreviewEnvironment,
		TransactionUUID: req.Options.TransactionUUID,
		Status:          stores.CompileStatusSucceeded,
		StartedAt:       started,
		CompletedAt:     &completed,
	}
	if compileErr != nil {
		msg := compileErr.Error()
		rec.Status = stores.CompileStatusFailed
		rec.Error = &msg
	}

	if err := s.store.RecordCompile(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("node", nodeName).Msg("Failed to record compile audit entry")
	}
}
