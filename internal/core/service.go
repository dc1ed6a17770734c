// Package core exposes the transactional worklist service: stage-gated
// mutations, batch reconciliation of lots and results, and status reports,
// instrumented through pluggable logging, metrics, tracing and audit seams.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labcore/internal/blob"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/status"
	"labcore/internal/workflow"
	"labcore/pkg/domain"
)

// Service exposes higher-level transactional operations over worklists.
type Service struct {
	store     domain.PersistentStore
	validator *status.Validator
	resolver  *workflow.Resolver
	now       func() time.Time
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	archive   blob.Store
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger       Logger
	clock        Clock
	audit        AuditRecorder
	metrics      MetricsRecorder
	tracer       Tracer
	validator    *status.Validator
	resolverOpts []workflow.Option
	archive      blob.Store
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for audit timestamps and record
// timestamps of stores that accept one.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAuditRecorder sets the audit sink for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the operation tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithStatusValidator replaces the default catalog validator.
func WithStatusValidator(v *status.Validator) ServiceOption {
	return func(o *serviceOptions) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithResolverOptions forwards options to the workflow stage resolver.
func WithResolverOptions(opts ...workflow.Option) ServiceOption {
	return func(o *serviceOptions) {
		o.resolverOpts = append(o.resolverOpts, opts...)
	}
}

// WithReportArchive stores a JSON report of every reconciliation batch.
func WithReportArchive(store blob.Store) ServiceOption {
	return func(o *serviceOptions) {
		o.archive = store
	}
}

// DefaultStatusValidator builds a validator over the built-in status catalog.
func DefaultStatusValidator() (*status.Validator, error) {
	reg, err := status.NewRegistry(status.DefaultCatalog())
	if err != nil {
		return nil, fmt.Errorf("default status catalog: %w", err)
	}
	return status.NewValidator(reg), nil
}

func buildOptions(opts []ServiceOption) (serviceOptions, error) {
	cfg := serviceOptions{
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.validator == nil {
		v, err := DefaultStatusValidator()
		if err != nil {
			return serviceOptions{}, err
		}
		cfg.validator = v
	}
	return cfg, nil
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("core: persistent store required")
	}
	cfg, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newService(store, cfg)
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine installs the default rules for the configured status validator.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) (*Service, error) {
	cfg, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if engine == nil {
		engine = NewDefaultRulesEngine(cfg.validator)
	}
	return newService(memory.NewStore(engine), cfg)
}

func newService(store domain.PersistentStore, cfg serviceOptions) (*Service, error) {
	resolver, err := workflow.NewResolver(cfg.validator, cfg.resolverOpts...)
	if err != nil {
		return nil, fmt.Errorf("core: stage resolver: %w", err)
	}
	return &Service{
		store:     store,
		validator: cfg.validator,
		resolver:  resolver,
		now:       selectNowFunc(store, cfg.clock),
		logger:    cfg.logger,
		audit:     cfg.audit,
		metrics:   cfg.metrics,
		tracer:    cfg.tracer,
		archive:   cfg.archive,
	}, nil
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type nowFuncSetter interface {
	SetNowFunc(func() time.Time)
}

// selectNowFunc prefers an explicit clock and pushes it into the store so
// record timestamps agree with audit timestamps.
func selectNowFunc(store domain.PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		now := func() time.Time { return clock.Now() }
		if setter, ok := store.(nowFuncSetter); ok {
			setter.SetNowFunc(now)
		}
		return now
	}
	if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return ClockFunc(nil).Now
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Validator returns the status validator the service evaluates against.
func (s *Service) Validator() *status.Validator { return s.validator }

// Resolver returns the worklist stage resolver.
func (s *Service) Resolver() *workflow.Resolver { return s.resolver }

// run wraps one service operation with tracing, metrics, logging and audit.
// fn returns the identifier of the entity it acted on, if any.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	entityID, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err)
		s.recordAuditError(ctx, op, entityID, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

// Operation names reported to metrics, traces and audit.
const (
	opCreateWorklist       = "create_worklist"
	opAddTechnique         = "add_technique"
	opGetWorklist          = "get_worklist"
	opResolveStage         = "resolve_stage"
	opAssignTechnician     = "assign_technician"
	opStartTechniques      = "start_techniques"
	opUpdateTechniqueState = "update_technique_status"
	opSetTemplate          = "set_template"
	opReconcileLots        = "reconcile_lots"
	opReconcileResults     = "reconcile_results"
	opStatusCounts         = "technique_status_counts"
	opAssignmentsByStatus  = "assignments_by_priority"
)

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

// operationMetadata lists the audited operations. Reads are traced and
// measured but never audited.
var operationMetadata = map[string]operationMeta{
	opCreateWorklist:       {entity: domain.EntityWorklist, action: domain.ActionCreate},
	opAddTechnique:         {entity: domain.EntityAssignment, action: domain.ActionCreate},
	opAssignTechnician:     {entity: domain.EntityAssignment, action: domain.ActionUpdate},
	opStartTechniques:      {entity: domain.EntityAssignment, action: domain.ActionUpdate},
	opUpdateTechniqueState: {entity: domain.EntityAssignment, action: domain.ActionUpdate},
	opSetTemplate:          {entity: domain.EntityWorklist, action: domain.ActionUpdate},
	opReconcileLots:        {entity: domain.EntityLot, action: domain.ActionUpdate},
	opReconcileResults:     {entity: domain.EntityResult, action: domain.ActionUpdate},
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusSuccess, nil)
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusError, err)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, st AuditStatus, err error) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    st,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
