// Package service wires the solving pipeline: ingestion queue, group registry,
// devices, scheduler and the optional MQTT bridge.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/okian/patpat/internal/adapters/device"
	bridge "github.com/okian/patpat/internal/adapters/mq/mqtt"
	"github.com/okian/patpat/internal/adapters/mq/queue"
	workerpool "github.com/okian/patpat/internal/adapters/mq/worker"
	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/types"
	"github.com/okian/patpat/internal/registry"
	"github.com/okian/patpat/internal/scheduler"
	"github.com/okian/patpat/pkg/logger"
)

// Service owns every runtime component built from one configuration store.
type Service struct {
	mu sync.RWMutex

	store *config.Store

	// Core components
	queue     *queue.InMemoryQueue
	pool      *workerpool.Pool
	devices   *device.Manager
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	bridge    *bridge.Bridge

	// Configuration
	workerCount  int
	watchConfig  bool
	clock        scheduler.Clock
	mqttClient   paho.Client
	serialOpener device.SerialOpener

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingestion workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConfigWatch reloads the configuration file when it changes.
func WithConfigWatch(enabled bool) Option {
	return func(s *Service) {
		s.watchConfig = enabled
	}
}

// WithClock sets the scheduler clock.
func WithClock(c scheduler.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithMQTTClient uses c instead of connecting to the configured broker.
func WithMQTTClient(c paho.Client) Option {
	return func(s *Service) {
		s.mqttClient = c
	}
}

// WithSerialOpener replaces how serial devices are opened.
func WithSerialOpener(open device.SerialOpener) Option {
	return func(s *Service) {
		s.serialOpener = open
	}
}

// New constructs a Service reading its configuration from store.
func New(store *config.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		workerCount: 2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components from the current configuration and starts them.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	cfg, err := s.store.Config()
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "starting patpat service...")

	ctx, s.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			s.cancel()
			s.teardown(context.Background())
		}
	}()

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))

	if cfg.MQTT.Broker != "" || s.mqttClient != nil {
		s.bridge, err = bridge.New(cfg.MQTT,
			bridge.WithClient(s.mqttClient),
			bridge.WithEnqueuer(s.queue),
			bridge.WithEnabler(s),
			bridge.WithLogger(s.logger.Named("mqtt")))
		if err != nil {
			return err
		}
		if err = s.bridge.Connect(ctx); err != nil {
			return err
		}
	}

	devOpts := []device.Option{
		device.WithLogger(s.logger.Named("device")),
		device.WithTopicPrefix(cfg.MQTT.TopicPrefix),
		device.WithSerialOpener(s.serialOpener),
	}
	regOpts := []registry.Option{registry.WithLogger(s.logger.Named("registry"))}
	schedOpts := []scheduler.Option{
		scheduler.WithTPS(cfg.Program.MainTPS),
		scheduler.WithLogger(s.logger.Named("scheduler")),
	}
	if s.clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(s.clock))
	}
	if s.bridge != nil {
		devOpts = append(devOpts, device.WithPublisher(s.bridge.Client()))
		regOpts = append(regOpts, registry.WithPointObserver(s.bridge.PublishPoint))
		schedOpts = append(schedOpts, scheduler.WithObserver(s.bridge))
	}

	if s.devices, err = device.NewManager(cfg.Devices, devOpts...); err != nil {
		return err
	}
	if err = s.devices.Start(ctx); err != nil {
		return err
	}

	s.registry = registry.New(s.store, s.devices.Output, regOpts...)
	s.scheduler = scheduler.New(s.registry, schedOpts...)
	s.registry.Bind(s.scheduler)
	if err = s.registry.Start(ctx); err != nil {
		return err
	}

	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.registry,
		workerpool.WithIgnoredError(registry.ErrUnrouted))
	s.pool.Start(ctx)

	if err = s.scheduler.Start(ctx); err != nil {
		return err
	}

	if s.watchConfig && s.store.Path() != "" {
		err = s.store.Watch(ctx, func(werr error) {
			s.logger.Error(context.Background(), "config reload failed", logger.Error(werr))
		})
		if err != nil {
			return err
		}
	}

	s.started = true
	s.logger.Info(ctx, "patpat service started",
		logger.Int("groups", len(s.registry.Groups())),
		logger.Int("tps", s.scheduler.TPS()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", cfg.QueueSize),
		logger.Bool("mqtt", s.bridge != nil),
	)
	return nil
}

// Stop shuts down in dependency order: the in-flight tick completes before
// groups are closed, and devices get a final all-zero frame.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping patpat service...")
	s.cancel()
	s.teardown(context.Background())
	s.started = false
	s.logger.Info(context.Background(), "patpat service stopped")
}

// teardown stops whatever Start managed to build. Callers hold mu.
func (s *Service) teardown(ctx context.Context) {
	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	} else if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.registry != nil {
		s.registry.Stop()
	}
	if s.devices != nil {
		if err := s.devices.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.bridge != nil {
		s.bridge.Disconnect()
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn(ctx, "shutdown finished with errors", logger.Error(err))
	}
	s.queue, s.pool, s.devices, s.registry, s.scheduler, s.bridge = nil, nil, nil, nil, nil, nil
}

// Enqueue submits a contact reading for asynchronous recording.
func (s *Service) Enqueue(ctx context.Context, r model.Reading) error {
	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()
	if q == nil {
		return queue.ErrClosed
	}
	return q.Enqueue(ctx, r)
}

// Views returns the state of every active group.
func (s *Service) Views() []types.GroupView {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return []types.GroupView{}
	}
	return reg.Views()
}

// SetStrength changes the output scale of a group.
func (s *Service) SetStrength(id, percent int) error {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return fmt.Errorf("%w: %d", registry.ErrGroupNotFound, id)
	}
	return reg.SetStrength(id, percent)
}

// SetEnabled gates device transmission.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.RLock()
	devices := s.devices
	s.mu.RUnlock()
	if devices != nil {
		devices.SetEnabled(enabled)
	}
}

// Store returns the configuration store.
func (s *Service) Store() *config.Store { return s.store }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
	}
	if !s.started {
		return stats
	}
	stats["scheduler"] = s.scheduler.Stats()
	stats["queueLength"] = s.queue.Len()
	stats["queueCapacity"] = s.queue.Cap()
	stats["groups"] = len(s.registry.Groups())
	stats["transmitEnabled"] = s.devices.Enabled()
	stats["mqtt"] = s.bridge != nil
	return stats
}
