package stores

import (
	"context"
	"errors"
	"time"

	"github.com/catprev/catprev/pkg/catalog"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CompileStatus records the outcome of a dual-compile run.
type CompileStatus string

const (
	CompileStatusSucceeded CompileStatus = "succeeded"
	CompileStatusFailed    CompileStatus = "failed"
)

// SaveOptions carries the request context a fact save is performed under.
type SaveOptions struct {
	// Environment the facts were submitted for.
	Environment string `json:"environment,omitempty"`

	// TransactionUUID ties the save to the compile request that carried
	// the facts.
	TransactionUUID string `json:"transaction_uuid,omitempty"`
}

// CompileRecord is the audit entry for one dual-compile run.
type CompileRecord struct {
	ID              string        `json:"id"`
	NodeName        string        `json:"node_name"`
	BaselineEnv     string        `json:"baseline_env"`
	PreviewEnv      string        `json:"preview_env"`
	TransactionUUID string        `json:"transaction_uuid,omitempty"`
	Status          CompileStatus `json:"status"`
	Error           *string       `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Store is the persistence boundary for submitted facts and compile audit
// records.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Facts
	SaveFacts(ctx context.Context, facts *catalog.FactSet, opts SaveOptions) error
	GetFacts(ctx context.Context, nodeName string) (*catalog.FactSet, error)

	// Compile audit
	RecordCompile(ctx context.Context, rec *CompileRecord) error
	ListCompiles(ctx context.Context, nodeName string, limit, offset int) ([]*CompileRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
