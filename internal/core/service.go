// Package core implements the farm identity and access service: animal
// registration with sequential identifiers and scannable payloads, and the
// role-driven access synchronization for user accounts.
package core

import (
	"fmt"
	"time"

	"farmcore/internal/access"
	"farmcore/internal/blob"
	"farmcore/internal/infra/persistence/memory"
	"farmcore/internal/qrpayload"
	"farmcore/internal/sequence"
	"farmcore/pkg/domain"

	"github.com/go-playground/validator/v10"
)

// Default retry policy for RegisterAnimalWithRetry.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 10 * time.Millisecond
)

// Service coordinates persistence, identifier allocation, payload storage and
// access synchronization.
type Service struct {
	store     domain.PersistentStore
	allocator sequence.Allocator
	blobs     blob.Store
	encoder   *qrpayload.Encoder
	farm      string
	validate  *validator.Validate

	roles     access.RoleMachine
	sync      access.Synchronizer
	userLocks access.KeyedMutex

	retryAttempts uint64
	retryBase     time.Duration

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithAllocator replaces the store-backed sequence allocator.
func WithAllocator(a sequence.Allocator) Option {
	return func(s *Service) {
		if a != nil {
			s.allocator = a
		}
	}
}

// WithBlobStore sets where payload images are kept.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) {
		if b != nil {
			s.blobs = b
		}
	}
}

// WithEncoder overrides the payload encoder.
func WithEncoder(e *qrpayload.Encoder) Option {
	return func(s *Service) {
		if e != nil {
			s.encoder = e
		}
	}
}

// WithFarmLabel sets the facility label embedded in payloads.
func WithFarmLabel(label string) Option {
	return func(s *Service) {
		if label != "" {
			s.farm = label
		}
	}
}

// WithRetryPolicy tunes RegisterAnimalWithRetry.
func WithRetryPolicy(attempts uint64, base time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if base > 0 {
			s.retryBase = base
		}
	}
}

// NewService wires a service over store. Without options it allocates
// identifiers inside the store's own transactions and keeps payloads in
// memory.
func NewService(store domain.PersistentStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("core: store is required")
	}
	svc := &Service{
		store:         store,
		farm:          qrpayload.DefaultFarm,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		retryAttempts: DefaultRetryAttempts,
		retryBase:     DefaultRetryBase,
		logger:        noopLogger{},
		metrics:       noopMetrics{},
		tracer:        noopTracer{},
		audit:         noopAudit{},
		clock:         ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.allocator == nil {
		alloc, err := sequence.NewStoreAllocator(store)
		if err != nil {
			return nil, err
		}
		svc.allocator = alloc
	}
	if svc.blobs == nil {
		svc.blobs = blob.NewMemory()
	}
	if svc.encoder == nil {
		enc, err := qrpayload.NewEncoder("", qrpayload.DefaultSize)
		if err != nil {
			return nil, err
		}
		svc.encoder = enc
	}
	return svc, nil
}

// NewInMemoryService builds a service over a fresh memory store. A nil engine
// gets the default farm rules.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) (*Service, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the backing store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Blobs returns the payload blob store.
func (s *Service) Blobs() blob.Store { return s.blobs }
