package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/checker"
	"github.com/catprev/catprev/pkg/logdest"
)

// memSink is an in-memory log destination writer.
type memSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *memSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// newMemRegistry returns a registry whose sinks are in-memory buffers,
// indexed by target.
func newMemRegistry() (*logdest.Registry, map[string]*memSink) {
	sinks := make(map[string]*memSink)
	reg := logdest.NewRegistryWithConsole(zerolog.Nop())
	reg.SetOpener(func(target string) (io.WriteCloser, error) {
		s := &memSink{}
		sinks[target] = s
		return s, nil
	})
	return reg, sinks
}

type backendCall struct {
	pass        Pass
	environment string
	nodeEnv     string
	hasChecker  bool
}

// fakeBackend records every compile call and synthesizes one resource per
// catalog. failOn, when non-zero, fails the n-th call (1-based).
type fakeBackend struct {
	calls  []backendCall
	failOn int
	failAs error
}

func (b *fakeBackend) Compile(_ context.Context, pc PassContext) (*catalog.Catalog, error) {
	b.calls = append(b.calls, backendCall{
		pass:        pc.Pass,
		environment: pc.Environment,
		nodeEnv:     pc.Node.Environment,
		hasChecker:  pc.Checker != nil,
	})

	if b.failOn == len(b.calls) {
		if b.failAs != nil {
			return nil, b.failAs
		}
		return nil, fmt.Errorf("backend blew up on call %d", len(b.calls))
	}

	res := catalog.Resource{
		Type:       "file",
		Title:      "/etc/motd",
		Attributes: map[string]any{"environment": pc.Environment},
	}
	if pc.Checker != nil {
		pc.Checker.Observe(res)
	}

	return &catalog.Catalog{
		Name:        pc.Node.Name,
		Environment: pc.Environment,
		Version:     fmt.Sprintf("call-%d", len(b.calls)),
		Resources:   []catalog.Resource{res},
	}, nil
}

// fakeChecker records observations and reporting.
type fakeChecker struct {
	observed  []string
	reported  bool
	reportErr error
}

func (c *fakeChecker) Observe(res catalog.Resource) {
	c.observed = append(c.observed, res.Ref())
}

func (c *fakeChecker) AssertAndReport(zerolog.Logger, checker.Thresholds) error {
	c.reported = true
	return c.reportErr
}

func testRequest() *CompileRequest {
	return &CompileRequest{
		Key: "web01.example.com",
		Options: CompileOptions{
			PreviewEnvironment: "prod_v2",
			BaselineLog:        "baseline.log",
			PreviewLog:         "preview.log",
		},
	}
}

func TestDualCompilerCompilesBothPasses(t *testing.T) {
	backend := &fakeBackend{}
	reg, sinks := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	node := catalog.NewNode("web01.example.com", "production")
	result, err := dc.Compile(context.Background(), node, testRequest())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if result.Baseline == nil || result.Preview == nil {
		t.Fatal("expected both catalogs in the result")
	}
	if result.Baseline.Environment != "production" {
		t.Errorf("baseline environment = %q, want production", result.Baseline.Environment)
	}
	if result.Preview.Environment != "prod_v2" {
		t.Errorf("preview environment = %q, want prod_v2", result.Preview.Environment)
	}

	if len(backend.calls) != 3 {
		t.Fatalf("backend called %d times, want 3", len(backend.calls))
	}
	wantPasses := []Pass{PassBaseline, PassBaseline, PassPreview}
	wantEnvs := []string{"production", "production", "prod_v2"}
	for i, call := range backend.calls {
		if call.pass != wantPasses[i] {
			t.Errorf("call %d pass = %q, want %q", i, call.pass, wantPasses[i])
		}
		if call.environment != wantEnvs[i] {
			t.Errorf("call %d environment = %q, want %q", i, call.environment, wantEnvs[i])
		}
		if call.environment != call.nodeEnv {
			t.Errorf("call %d node environment %q does not match pass environment %q", i, call.nodeEnv, call.environment)
		}
	}

	if node.Environment != "prod_v2" {
		t.Errorf("node environment after compile = %q, want prod_v2", node.Environment)
	}

	for _, target := range []string{"baseline.log", "preview.log"} {
		if !sinks[target].Closed() {
			t.Errorf("sink %s left open", target)
		}
	}
	if !reg.ConsoleActive() {
		t.Error("console destination not restored")
	}
}

func TestDualCompilerWarmupKeepsFirstBaseline(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	node := catalog.NewNode("web01.example.com", "production")
	result, err := dc.Compile(context.Background(), node, testRequest())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	// The second baseline run warms the backend inside the preview log
	// scope; the catalog from the first run must stay authoritative.
	if result.Baseline.Version != "call-1" {
		t.Errorf("baseline catalog from %s, want call-1", result.Baseline.Version)
	}
	if result.Preview.Version != "call-3" {
		t.Errorf("preview catalog from %s, want call-3", result.Preview.Version)
	}
}

func TestDualCompilerLogIsolation(t *testing.T) {
	backend := &fakeBackend{}
	reg, sinks := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	node := catalog.NewNode("web01.example.com", "production")
	if _, err := dc.Compile(context.Background(), node, testRequest()); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	baseOut := sinks["baseline.log"].String()
	prevOut := sinks["preview.log"].String()

	if !strings.Contains(baseOut, `"environment":"production"`) {
		t.Error("baseline log has no baseline pass output")
	}
	if strings.Contains(baseOut, "prod_v2") {
		t.Error("baseline log contains preview pass output")
	}
	if !strings.Contains(prevOut, `"environment":"prod_v2"`) {
		t.Error("preview log has no preview pass output")
	}
}

func TestDualCompilerChecksPreviewPassOnly(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	chk := &fakeChecker{}
	req := testRequest()
	req.Options.MigrationChecker = chk

	node := catalog.NewNode("web01.example.com", "production")
	if _, err := dc.Compile(context.Background(), node, req); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	for i, call := range backend.calls {
		wantChecker := call.pass == PassPreview
		if call.hasChecker != wantChecker {
			t.Errorf("call %d (%s) checker installed = %v, want %v", i, call.pass, call.hasChecker, wantChecker)
		}
	}
	if len(chk.observed) != 1 {
		t.Errorf("checker observed %d resources, want 1", len(chk.observed))
	}
	if !chk.reported {
		t.Error("checker was never asked to report")
	}
}

func TestDualCompilerCheckerFailureCleansUp(t *testing.T) {
	backend := &fakeBackend{}
	reg, sinks := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	chk := &fakeChecker{reportErr: fmt.Errorf("3 migration errors exceed maximum of 0")}
	req := testRequest()
	req.Options.MigrationChecker = chk

	node := catalog.NewNode("web01.example.com", "production")
	_, err := dc.Compile(context.Background(), node, req)
	if err == nil {
		t.Fatal("expected checker failure to propagate")
	}
	if !IsCompilation(err) {
		t.Errorf("checker failure classified as %v, want compilation", err)
	}

	for _, target := range []string{"baseline.log", "preview.log"} {
		if !sinks[target].Closed() {
			t.Errorf("sink %s left open after failure", target)
		}
	}
	if !reg.ConsoleActive() {
		t.Error("console destination not restored after failure")
	}
}

func TestDualCompilerPreviewFailureCleansUp(t *testing.T) {
	backend := &fakeBackend{failOn: 3}
	reg, sinks := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	node := catalog.NewNode("web01.example.com", "production")
	result, err := dc.Compile(context.Background(), node, testRequest())
	if err == nil {
		t.Fatal("expected preview pass failure to propagate")
	}
	if result != nil {
		t.Error("partial result returned on failure")
	}
	if !IsCompilation(err) {
		t.Errorf("backend failure classified as %v, want compilation", err)
	}

	var perr *PreviewError
	if !errors.As(err, &perr) {
		t.Fatal("error is not a PreviewError")
	}
	if perr.Node != "web01.example.com" || perr.BaselineEnv != "production" || perr.PreviewEnv != "prod_v2" {
		t.Errorf("error context incomplete: %+v", perr)
	}

	for _, target := range []string{"baseline.log", "preview.log"} {
		if !sinks[target].Closed() {
			t.Errorf("sink %s left open after failure", target)
		}
		if reg.IsOpen(target) {
			t.Errorf("registry still reports %s open", target)
		}
	}
	if !reg.ConsoleActive() {
		t.Error("console destination not restored after failure")
	}
}

func TestDualCompilerBaselineFailureSkipsPreview(t *testing.T) {
	backend := &fakeBackend{failOn: 1}
	reg, sinks := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	node := catalog.NewNode("web01.example.com", "production")
	if _, err := dc.Compile(context.Background(), node, testRequest()); err == nil {
		t.Fatal("expected baseline failure to propagate")
	}

	if len(backend.calls) != 1 {
		t.Errorf("backend called %d times after baseline failure, want 1", len(backend.calls))
	}
	if node.Environment != "production" {
		t.Errorf("node environment repointed to %q despite baseline failure", node.Environment)
	}
	if _, ok := sinks["preview.log"]; ok {
		t.Error("preview sink opened despite baseline failure")
	}
	if !sinks["baseline.log"].Closed() {
		t.Error("baseline sink left open")
	}
}

func TestDualCompilerLogsFailuresForRemoteRequestsOnly(t *testing.T) {
	tests := []struct {
		name       string
		remote     bool
		wantLogged bool
	}{
		{"remote request", true, true},
		{"local request", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{failOn: 3}
			reg, sinks := newMemRegistry()
			dc := NewDualCompiler(backend, reg)

			req := testRequest()
			req.Remote = tt.remote

			node := catalog.NewNode("web01.example.com", "production")
			if _, err := dc.Compile(context.Background(), node, req); err == nil {
				t.Fatal("expected preview pass failure to propagate")
			}

			logged := strings.Contains(sinks["preview.log"].String(), "Dual compilation failed")
			if logged != tt.wantLogged {
				t.Errorf("failure logged = %v, want %v", logged, tt.wantLogged)
			}
		})
	}
}

func TestDualCompilerRequiresPreviewEnvironment(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	req := testRequest()
	req.Options.PreviewEnvironment = ""

	node := catalog.NewNode("web01.example.com", "production")
	_, err := dc.Compile(context.Background(), node, req)
	if err == nil {
		t.Fatal("expected missing preview environment to fail")
	}
	if !IsArgument(err) {
		t.Errorf("missing preview environment classified as %v, want argument", err)
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called %d times for invalid options", len(backend.calls))
	}
}

func TestDualCompilerGeneratesTransactionUUID(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	req := testRequest()
	node := catalog.NewNode("web01.example.com", "production")
	if _, err := dc.Compile(context.Background(), node, req); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if req.Options.TransactionUUID == "" {
		t.Fatal("no transaction UUID generated")
	}
	if _, err := uuid.Parse(req.Options.TransactionUUID); err != nil {
		t.Errorf("generated transaction UUID %q is invalid: %v", req.Options.TransactionUUID, err)
	}
}

func TestDualCompilerIdempotentForSameInputs(t *testing.T) {
	backend := &fakeBackend{}
	reg, _ := newMemRegistry()
	dc := NewDualCompiler(backend, reg)

	node := catalog.NewNode("web01.example.com", "production")
	first, err := dc.Compile(context.Background(), node, testRequest())
	if err != nil {
		t.Fatalf("first compile failed: %v", err)
	}

	node.Environment = "production"
	second, err := dc.Compile(context.Background(), node, testRequest())
	if err != nil {
		t.Fatalf("second compile failed: %v", err)
	}

	if len(first.Baseline.Resources) != len(second.Baseline.Resources) {
		t.Error("baseline catalogs differ between runs")
	}
	if first.Baseline.Environment != second.Baseline.Environment ||
		first.Preview.Environment != second.Preview.Environment {
		t.Error("catalog environments differ between runs")
	}
}
