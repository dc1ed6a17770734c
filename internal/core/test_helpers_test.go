package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"labcore/internal/reconcile"
	"labcore/pkg/domain"
)

type (
	lotItem    = reconcile.Item[LotFields]
	resultItem = reconcile.Item[ResultFields]
)

func strPtr(v string) *string { return &v }

func floatPtr(v float64) *float64 { return &v }

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc, err := NewInMemoryService(nil, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

// seedWorklist creates a worklist with the given techniques scheduled.
func seedWorklist(t *testing.T, svc *Service, techniques ...string) domain.Worklist {
	t.Helper()
	ctx := context.Background()
	worklist, _, err := svc.CreateWorklist(ctx, domain.Worklist{Name: "Chemistry bench"})
	if err != nil {
		t.Fatalf("create worklist: %v", err)
	}
	for _, technique := range techniques {
		if _, _, err := svc.AddTechnique(ctx, worklist.ID, technique); err != nil {
			t.Fatalf("add technique %s: %v", technique, err)
		}
	}
	return worklist
}

// startedWorklist seeds a worklist whose techniques are assigned and running.
func startedWorklist(t *testing.T, svc *Service, techniques ...string) domain.Worklist {
	t.Helper()
	ctx := context.Background()
	worklist := seedWorklist(t, svc, techniques...)
	if _, _, err := svc.AssignTechnician(ctx, worklist.ID, domain.Assignee{ID: "tech-1", Name: "Ana"}); err != nil {
		t.Fatalf("assign technician: %v", err)
	}
	if _, _, err := svc.StartTechniques(ctx, worklist.ID); err != nil {
		t.Fatalf("start techniques: %v", err)
	}
	return worklist
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) log(level, msg string, args []any) {
	c.mu.Lock()
	c.entries = append(c.entries, logEntry{level: level, msg: msg, args: args})
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, args ...any) { c.log("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.log("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.log("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.log("error", msg, args) }

func (c *captureLogger) has(level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// fakePersistentStore satisfies PersistentStore without NowFunc hooks.
type fakePersistentStore struct {
	viewErr error
}

func (f *fakePersistentStore) RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error) {
	return domain.Result{}, fmt.Errorf("fake store: transactions unsupported")
}

func (f *fakePersistentStore) View(_ context.Context, _ func(domain.TransactionView) error) error {
	return f.viewErr
}

func (f *fakePersistentStore) GetWorklist(string) (domain.Worklist, bool)          { return domain.Worklist{}, false }
func (f *fakePersistentStore) ListWorklists() []domain.Worklist                    { return nil }
func (f *fakePersistentStore) ListAssignments(string) []domain.TechniqueAssignment { return nil }
func (f *fakePersistentStore) ListLots(string) []domain.TechniqueLot               { return nil }
