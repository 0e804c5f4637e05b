package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"farmcore/internal/blob"
	"farmcore/internal/config"
	"farmcore/internal/core"
	"farmcore/internal/infra/persistence/memory"
	"farmcore/internal/infra/persistence/postgres"
	"farmcore/internal/infra/persistence/sqlite"
	"farmcore/internal/logger"
	"farmcore/internal/qrpayload"
	"farmcore/internal/sequence"
	"farmcore/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"
)

// app is the wired service plus whatever must be released on exit.
type app struct {
	cfg     config.Config
	svc     *core.Service
	log     *logger.Logger
	closers []func() error

	expvar   *core.ExpvarMetricsRecorder
	registry *prometheus.Registry
}

type sqlBacked interface {
	DB() *sql.DB
}

func newApp(ctx context.Context, cfg config.Config, log *logger.Logger, trace io.Writer) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []core.Option{
		core.WithLogger(log),
		core.WithFarmLabel(cfg.Payload.Farm),
		core.WithRetryPolicy(cfg.Retry.Attempts, cfg.Retry.Base),
	}

	alloc, err := a.openAllocator(ctx, store)
	if err != nil {
		return nil, err
	}
	if alloc != nil {
		opts = append(opts, core.WithAllocator(alloc))
	}

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	opts = append(opts, core.WithBlobStore(blobs))

	enc, err := qrpayload.NewEncoder(cfg.Payload.Recovery, cfg.Payload.Size)
	if err != nil {
		return nil, err
	}
	opts = append(opts, core.WithEncoder(enc))

	switch cfg.Metrics.Backend {
	case config.MetricsExpvar:
		a.expvar = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(a.expvar))
	case config.MetricsPrometheus:
		a.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(a.registry, cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	if trace != nil {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(trace)))
	}

	svc, err := core.NewService(store, opts...)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context) (domain.PersistentStore, error) {
	engine := core.NewDefaultRulesEngine()
	switch a.cfg.Store.Driver {
	case config.StoreMemory:
		return memory.NewStore(engine), nil
	case config.StoreSQLite:
		s, err := sqlite.NewStore(a.cfg.Store.Path, engine)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.StorePostgres:
		s, err := postgres.NewStore(ctx, a.cfg.Store.DSN, engine)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

// openAllocator returns nil for the store allocator, which the service
// builds itself.
func (a *app) openAllocator(ctx context.Context, store domain.PersistentStore) (sequence.Allocator, error) {
	switch a.cfg.Sequence.Allocator {
	case config.AllocatorStore:
		return nil, nil
	case config.AllocatorMemory:
		alloc := sequence.NewMemoryAllocator()
		seedFromAnimals(alloc, store.ListAnimals())
		return alloc, nil
	case config.AllocatorSQL:
		backed, ok := store.(sqlBacked)
		if !ok {
			return nil, fmt.Errorf("store %s has no sql database", a.cfg.Store.Driver)
		}
		dialect := sequence.DialectSQLite
		if a.cfg.Store.Driver == config.StorePostgres {
			dialect = sequence.DialectPostgres
		}
		return sequence.NewSQLAllocator(ctx, backed.DB(), dialect)
	case config.AllocatorRedis:
		rc := a.cfg.Sequence.Redis
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", rc.Addr, err)
		}
		return sequence.NewRedisAllocator(client, rc.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown allocator %q", a.cfg.Sequence.Allocator)
	}
}

// seedFromAnimals starts each in-memory counter past the highest identifier
// already issued.
func seedFromAnimals(alloc *sequence.MemoryAllocator, animals []domain.Animal) {
	for _, animal := range animals {
		prefix, n, err := sequence.Parse(animal.Identifier)
		if err != nil {
			continue
		}
		alloc.Seed(prefix, n)
	}
}

// writeMetrics dumps the configured metrics backend.
func (a *app) writeMetrics(w io.Writer) error {
	switch {
	case a.expvar != nil:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a.expvar.Snapshot())
	case a.registry != nil:
		families, err := a.registry.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func parseSex(raw string) (domain.Sex, error) {
	for _, s := range []domain.Sex{domain.SexMale, domain.SexFemale} {
		if strings.EqualFold(raw, string(s)) || strings.EqualFold(raw, string(s)[:1]) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown sex %q", raw)
}

func parseBreed(raw string) (domain.Breed, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	for _, b := range domain.Breeds() {
		if strings.EqualFold(normalized, string(b)) {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown breed %q", raw)
}
