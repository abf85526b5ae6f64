// Package logdest manages log destinations for catalog compilation passes.
//
// Each compilation pass writes its compiler output to its own sink (usually
// a file) while the console destination is suppressed, so the two passes of
// a dual compile can be diffed from their log streams alone. Destinations
// are per-registry values, not process globals; a registry is owned by a
// single orchestration call path.
package logdest

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Console is the default destination identifier.
const Console = "console"

// Destination is an open log sink for one compilation pass.
type Destination struct {
	target string
	writer io.WriteCloser
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Target returns the destination's identifier (usually a file path).
func (d *Destination) Target() string { return d.target }

// Logger returns a structured logger writing to this destination.
func (d *Destination) Logger() zerolog.Logger { return d.logger }

// Close releases the underlying sink. Closing an already-closed destination
// is a no-op, so scoped defers and early explicit closes can coexist.
func (d *Destination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.writer != nil {
		return d.writer.Close()
	}
	return nil
}

// Closed reports whether the destination has been released.
func (d *Destination) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// SinkOpener opens the raw writer behind a destination target. The default
// opener treats the target as a file path; tests substitute in-memory
// buffers.
type SinkOpener func(target string) (io.WriteCloser, error)

// Registry tracks the console destination and any pass-scoped sinks opened
// through it.
type Registry struct {
	mu        sync.Mutex
	opener    SinkOpener
	console   zerolog.Logger
	active    bool
	open      map[string]*Destination
	allOpened []*Destination
}

// NewRegistry creates a registry whose console destination writes to stderr.
func NewRegistry() *Registry {
	return NewRegistryWithConsole(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger())
}

// NewRegistryWithConsole creates a registry with an explicit console logger.
func NewRegistryWithConsole(console zerolog.Logger) *Registry {
	return &Registry{
		opener:  fileOpener,
		console: console,
		active:  true,
		open:    make(map[string]*Destination),
	}
}

// SetOpener replaces the sink opener. Intended for tests.
func (r *Registry) SetOpener(opener SinkOpener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opener = opener
}

// Open creates a destination for target and registers it as open. Opening
// the console identifier is an error; the console is always present and is
// managed via Suppress/Restore.
func (r *Registry) Open(target string) (*Destination, error) {
	if target == "" || target == Console {
		return nil, fmt.Errorf("invalid log destination %q", target)
	}

	r.mu.Lock()
	opener := r.opener
	r.mu.Unlock()

	w, err := opener(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open log destination %s: %w", target, err)
	}

	dest := &Destination{
		target: target,
		writer: w,
		logger: zerolog.New(w).With().Timestamp().Str("destination", target).Logger(),
	}

	r.mu.Lock()
	r.open[target] = dest
	r.allOpened = append(r.allOpened, dest)
	r.mu.Unlock()

	return dest, nil
}

// ConsoleLogger returns the console logger, or a no-op logger while the
// console is suppressed.
func (r *Registry) ConsoleLogger() zerolog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return zerolog.Nop()
	}
	return r.console
}

// SuppressConsole stops console output until RestoreConsole is called.
func (r *Registry) SuppressConsole() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// RestoreConsole re-enables console output.
func (r *Registry) RestoreConsole() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
}

// ConsoleActive reports whether console output is currently enabled.
func (r *Registry) ConsoleActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// IsOpen reports whether a destination for target is currently open.
func (r *Registry) IsOpen(target string) bool {
	r.mu.Lock()
	dest, ok := r.open[target]
	r.mu.Unlock()
	return ok && !dest.Closed()
}

// CloseAll releases every destination still open. Used as a final safety net
// on cleanup paths.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	dests := make([]*Destination, 0, len(r.open))
	for _, d := range r.open {
		dests = append(dests, d)
	}
	r.mu.Unlock()

	var firstErr error
	for _, d := range dests {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func fileOpener(target string) (io.WriteCloser, error) {
	return os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
