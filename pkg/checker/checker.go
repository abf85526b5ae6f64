// Package checker provides migration-issue checking for preview compiles.
// A checker observes resources as the preview catalog is compiled,
// accumulates compatibility issues, and reports them through the preview
// pass's log destination at the end of the pass.
package checker

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/catprev/catprev/pkg/catalog"
)

// Severity classifies an accumulated issue.
type Severity string

const (
	SeverityWarning     Severity = "warning"
	SeverityError       Severity = "error"
	SeverityDeprecation Severity = "deprecation"
)

// Issue is a single migration concern observed during a preview compile.
type Issue struct {
	// Severity is the issue classification.
	Severity Severity `json:"severity"`

	// Resource is the "Type[title]" reference of the resource the issue
	// was observed on, if any.
	Resource string `json:"resource,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

// Thresholds bounds how many issues of each severity AssertAndReport
// tolerates. A negative maximum means unbounded.
type Thresholds struct {
	// EmitWarnings controls whether warning-level issues are written to
	// the log at all.
	EmitWarnings bool `json:"emit_warnings"`

	// MaxWarnings is the maximum tolerated warning count, -1 for unbounded.
	MaxWarnings int `json:"max_warnings"`

	// MaxErrors is the maximum tolerated error count, -1 for unbounded.
	MaxErrors int `json:"max_errors"`

	// MaxDeprecations is the maximum tolerated deprecation count, -1 for
	// unbounded.
	MaxDeprecations int `json:"max_deprecations"`
}

// Unbounded returns thresholds that emit everything and never trip.
func Unbounded() Thresholds {
	return Thresholds{
		EmitWarnings:    true,
		MaxWarnings:     -1,
		MaxErrors:       -1,
		MaxDeprecations: -1,
	}
}

// Checker accumulates migration issues during a preview compile.
//
// Observe is called by the compiler backend once per compiled resource.
// AssertAndReport is called by the orchestrator at the end of the preview
// pass: it emits every accumulated issue through the given logger and
// returns an error only when a non-negative threshold is exceeded.
type Checker interface {
	Observe(res catalog.Resource)
	AssertAndReport(logger zerolog.Logger, t Thresholds) error
}

// Accumulator is a plain issue collector. It satisfies Checker with a no-op
// Observe; issues are added explicitly via Add. It is also the base other
// checkers build on.
type Accumulator struct {
	mu     sync.Mutex
	issues []Issue
}

// Observe implements Checker. The plain accumulator derives nothing from
// resources on its own.
func (a *Accumulator) Observe(catalog.Resource) {}

// Add records an issue.
func (a *Accumulator) Add(issue Issue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.issues = append(a.issues, issue)
}

// Issues returns a copy of the accumulated issues.
func (a *Accumulator) Issues() []Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Issue, len(a.issues))
	copy(out, a.issues)
	return out
}

// AssertAndReport implements Checker.
func (a *Accumulator) AssertAndReport(logger zerolog.Logger, t Thresholds) error {
	var warnings, errs, deprecations int

	for _, issue := range a.Issues() {
		switch issue.Severity {
		case SeverityWarning:
			warnings++
			if t.EmitWarnings {
				logger.Warn().
					Str("resource", issue.Resource).
					Str("severity", string(issue.Severity)).
					Msg(issue.Message)
			}
		case SeverityError:
			errs++
			logger.Error().
				Str("resource", issue.Resource).
				Str("severity", string(issue.Severity)).
				Msg(issue.Message)
		case SeverityDeprecation:
			deprecations++
			logger.Warn().
				Str("resource", issue.Resource).
				Str("severity", string(issue.Severity)).
				Msg(issue.Message)
		default:
			warnings++
			logger.Warn().
				Str("resource", issue.Resource).
				Msg(issue.Message)
		}
	}

	if t.MaxWarnings >= 0 && warnings > t.MaxWarnings {
		return fmt.Errorf("%d migration warnings exceed maximum of %d", warnings, t.MaxWarnings)
	}
	if t.MaxErrors >= 0 && errs > t.MaxErrors {
		return fmt.Errorf("%d migration errors exceed maximum of %d", errs, t.MaxErrors)
	}
	if t.MaxDeprecations >= 0 && deprecations > t.MaxDeprecations {
		return fmt.Errorf("%d deprecations exceed maximum of %d", deprecations, t.MaxDeprecations)
	}
	return nil
}
