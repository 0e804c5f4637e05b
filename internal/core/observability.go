package core

import (
	"context"
	"time"

	"farmcore/pkg/domain"
)

// Logger is the structured logging contract used by the service. Arguments
// after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// AuditStatus labels the outcome of an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry records one mutating operation.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

// Mutating operations are audited; reads are only traced and timed.
var auditedOperations = map[string]operationMeta{
	opRegisterAnimal:    {domain.EntityAnimal, domain.ActionCreate},
	opRegeneratePayload: {domain.EntityAnimal, domain.ActionUpdate},
	opUpdateAnimal:      {domain.EntityAnimal, domain.ActionUpdate},
	opDeleteAnimal:      {domain.EntityAnimal, domain.ActionDelete},
	opPrunePayloads:     {domain.EntityAnimal, domain.ActionDelete},
	opCreateUser:        {domain.EntityUser, domain.ActionCreate},
	opChangeRole:        {domain.EntityProfile, domain.ActionUpdate},
	opSyncUser:          {domain.EntityMembership, domain.ActionUpdate},
	opSetupGroups:       {domain.EntityGroup, domain.ActionCreate},
}

const (
	opRegisterAnimal    = "register_animal"
	opRegeneratePayload = "regenerate_payload"
	opReadPayload       = "read_payload"
	opUpdateAnimal      = "update_animal"
	opDeleteAnimal      = "delete_animal"
	opPrunePayloads     = "prune_payloads"
	opCreateUser        = "create_user"
	opChangeRole        = "change_role"
	opSyncUser          = "sync_user"
	opReconcileUsers    = "reconcile_users"
	opSetupGroups       = "setup_groups"
	opAuthorize         = "authorize"
)

// run wraps fn with tracing, timing, auditing, and logging. fn returns the
// affected entity ID for the audit trail.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "entity_id", entityID, "duration", duration, "error", err)
		s.recordAudit(ctx, op, entityID, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAudit(ctx, op, entityID, duration, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
