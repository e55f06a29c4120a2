// Package service wires the record store, the event engine, the leaderboard
// projector and the notification fan-out into one runnable service.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/bet/internal/adapters/http/api"
	"github.com/okian/bet/internal/adapters/http/swagger"
	"github.com/okian/bet/internal/adapters/http/ws"
	eventqueue "github.com/okian/bet/internal/adapters/mq/queue"
	workerpool "github.com/okian/bet/internal/adapters/mq/worker"
	"github.com/okian/bet/internal/adapters/pubsub"
	"github.com/okian/bet/internal/adapters/repository"
	"github.com/okian/bet/internal/domain/catalog"
	"github.com/okian/bet/internal/domain/dedupe"
	"github.com/okian/bet/internal/domain/engine"
	"github.com/okian/bet/internal/domain/leaderboard"
	"github.com/okian/bet/pkg/logger"
)

// Store drivers accepted by WithStoreDriver.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

const stopTimeout = 10 * time.Second

// ErrUnknownDriver is returned by Start for an unsupported store driver.
var ErrUnknownDriver = errors.New("unknown store driver")

// Service owns the scoreboard components and their lifecycle.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	catalog   *catalog.Catalog
	engine    *engine.Engine
	projector *leaderboard.Projector
	deduper   dedupe.Deduper
	queue     *eventqueue.Partitioned
	pool      *workerpool.Pool
	bus       *pubsub.Bus
	ws        *ws.Handler

	// Configuration
	storeDriver    string
	sqlitePath     string
	partitions     int
	queueSize      int
	wsSendBuffer   int
	recentLimit    int
	maxRecentLimit int
	dedupeSize     int
	seedDemo       bool
	seed           Seed

	// State
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreDriver selects the record store: "memory" or "sqlite".
func WithStoreDriver(driver string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
		}
	}
}

// WithSQLitePath sets the sqlite database file. Empty keeps it in memory.
func WithSQLitePath(path string) Option {
	return func(s *Service) {
		s.sqlitePath = path
	}
}

// WithFanout sets the number of notification partitions and the capacity
// of each partition queue.
func WithFanout(partitions, queueSize int) Option {
	return func(s *Service) {
		if partitions > 0 {
			s.partitions = partitions
		}
		if queueSize > 0 {
			s.queueSize = queueSize
		}
	}
}

// WithWSSendBuffer bounds frames waiting on one slow WebSocket client.
func WithWSSendBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.wsSendBuffer = n
		}
	}
}

// WithRecentLimit sets the default and maximum recent events page size.
func WithRecentLimit(def, maxLimit int) Option {
	return func(s *Service) {
		if def > 0 {
			s.recentLimit = def
		}
		if maxLimit > 0 {
			s.maxRecentLimit = maxLimit
		}
	}
}

// WithDedupeSize sets how many Idempotency-Key values are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDemoSeed toggles loading the demo data on start.
func WithDemoSeed(enabled bool) Option {
	return func(s *Service) {
		s.seedDemo = enabled
	}
}

// WithSeed adds records loaded on start, after the demo data.
func WithSeed(seed Seed) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeDriver:    DriverMemory,
		partitions:     4,
		queueSize:      1024,
		wsSendBuffer:   64,
		recentLimit:    10,
		maxRecentLimit: 100,
		dedupeSize:     50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, starts the fan-out workers and seeds data.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting scoreboard service...", logger.String("store", s.storeDriver))

	store, err := s.openStore(ctx)
	if err != nil {
		return err
	}
	s.store = store
	s.catalog = catalog.New(store)
	s.projector = leaderboard.NewProjector(store)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	s.bus = pubsub.NewBus(pubsub.WithBuffer(s.wsSendBuffer), pubsub.WithLogger(s.logger))
	s.queue = eventqueue.NewPartitioned(
		eventqueue.WithPartitions(s.partitions),
		eventqueue.WithCapacity(s.queueSize),
	)
	s.pool = workerpool.NewPool(s.queue, s.bus, s.logger)
	s.pool.Start(ctx)
	s.ws = ws.NewHandler(s.bus, ws.WithLogger(s.logger), ws.WithSendBuffer(s.wsSendBuffer))

	s.engine = engine.New(store, s.catalog,
		engine.WithPublisher(s.queue),
		engine.WithLogger(s.logger),
		engine.WithRecentLimit(s.recentLimit, s.maxRecentLimit),
	)

	seed := s.seed
	if s.seedDemo {
		seed = DemoSeed().Merge(seed)
	}
	if err := s.applySeed(ctx, seed); err != nil {
		s.closeLocked(ctx)
		return fmt.Errorf("seed: %w", err)
	}

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "scoreboard service started",
		logger.Int("partitions", s.partitions),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	switch s.storeDriver {
	case DriverMemory:
		return repository.NewMemStore(ctx), nil
	case DriverSQLite:
		return repository.NewSQLStore(ctx, repository.WithSQLitePath(s.sqlitePath))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, s.storeDriver)
	}
}

// Stop drains queued notifications and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping scoreboard service...")
	s.closeLocked(ctx)
	s.started = false
	s.logger.Info(ctx, "scoreboard service stopped")
}

func (s *Service) closeLocked(ctx context.Context) {
	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn(ctx, "bus close failed", logger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "store close failed", logger.Error(err))
		}
	}
}

// Handler returns the HTTP surface: the JSON API, the push channel and docs.
// Call it after Start.
func (s *Service) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deps := api.Dependencies{
		Engine:      s.engine,
		Leaderboard: s.projector,
		Rules:       s.catalog,
		Users:       s.store,
		Dedupe:      s.deduper,
		Stats:       s,
		Docs:        swagger.Register,
		Logger:      s.logger,
	}
	if s.ws != nil {
		deps.WS = s.ws
	}
	return api.NewServer(deps).Router()
}

// Engine exposes the event engine.
func (s *Service) Engine() *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Projector exposes the leaderboard projector.
func (s *Service) Projector() *leaderboard.Projector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projector
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":    s.started,
		"store":      s.storeDriver,
		"partitions": s.partitions,
		"queueSize":  s.queueSize,
	}
	if !s.started {
		return stats
	}
	stats["uptimeSeconds"] = int(time.Since(s.startedAt).Seconds())
	stats["queueLength"] = s.queue.Len(ctx)
	stats["notificationsForwarded"] = s.pool.Processed()
	stats["idempotencyKeys"] = s.deduper.Size()
	if groups, events, err := s.store.Counts(ctx); err == nil {
		stats["groups"] = groups
		stats["events"] = events
	} else {
		s.logger.Warn(ctx, "stats: counts failed", logger.Error(err))
	}
	return stats
}
