package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/telemetry"
)

// FactIngestor decodes facts submitted inline with a compile request and
// persists them so the downstream node lookup observes up-to-date facts for
// the target node.
type FactIngestor struct {
	saver   FactSaver
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// NewFactIngestor creates a fact ingestor backed by the given fact storage.
func NewFactIngestor(saver FactSaver, logger zerolog.Logger) *FactIngestor {
	return &FactIngestor{
		saver: saver,
		log:   logger,
	}
}

// WithMetrics attaches a metrics collector.
func (fi *FactIngestor) WithMetrics(m *telemetry.Metrics) *FactIngestor {
	fi.metrics = m
	return fi
}

// ExtractFactsFromRequest decodes and persists the request's inline fact
// payload. Requests without a payload are a no-op. A payload without a
// declared format is an argument error; facts naming a different node than
// the request target are a consistency error and nothing is saved.
func (fi *FactIngestor) ExtractFactsFromRequest(ctx context.Context, req *CompileRequest) error {
	opts := &req.Options
	if opts.FactSet == nil && opts.Facts == "" {
		return nil
	}

	facts, format, err := fi.decode(opts)
	if err != nil {
		return err
	}

	if facts.Name != req.Target() {
		return NewConsistencyError(
			fmt.Sprintf("facts submitted for node %q do not match the request target %q", facts.Name, req.Target()),
			nil,
		).WithNode(req.Target())
	}

	if err := fi.saver.SaveFacts(ctx, facts, req.Environment, opts.TransactionUUID); err != nil {
		return fmt.Errorf("failed to save facts for %s: %w", facts.Name, err)
	}

	fi.metrics.ObserveFactIngest(format)
	fi.log.Debug().
		Str("node", facts.Name).
		Str("format", format).
		Str("environment", req.Environment).
		Str("transaction_uuid", opts.TransactionUUID).
		Int("fact_count", len(facts.Values)).
		Msg("Ingested request facts")

	return nil
}

// decode turns the request's fact payload into a FactSet. An already
// structured fact object is used directly; otherwise the percent-encoded
// payload is decoded per the declared format.
func (fi *FactIngestor) decode(opts *CompileOptions) (*catalog.FactSet, string, error) {
	if opts.FactSet != nil {
		return opts.FactSet, "structured", nil
	}

	if opts.FactsFormat == "" {
		return nil, "", NewArgumentError("facts were supplied without a fact format", nil)
	}

	payload, err := url.QueryUnescape(opts.Facts)
	if err != nil {
		return nil, "", NewArgumentError("fact payload is not valid percent-encoded data", err)
	}

	facts := &catalog.FactSet{}
	switch opts.FactsFormat {
	case "json":
		if err := json.Unmarshal([]byte(payload), facts); err != nil {
			return nil, "", NewArgumentError("failed to decode json fact payload", err)
		}
	case "yaml":
		if err := yaml.Unmarshal([]byte(payload), facts); err != nil {
			return nil, "", NewArgumentError("failed to decode yaml fact payload", err)
		}
	default:
		return nil, "", NewArgumentError(fmt.Sprintf("unsupported fact format %q", opts.FactsFormat), nil)
	}

	return facts, opts.FactsFormat, nil
}
