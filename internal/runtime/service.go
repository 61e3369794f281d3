package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/mojocn/base64Captcha"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/drblury/commentflow/internal/broadcast"
	"github.com/drblury/commentflow/internal/broker"
	"github.com/drblury/commentflow/internal/captcha"
	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/consumer"
	"github.com/drblury/commentflow/internal/intake"
	configpkg "github.com/drblury/commentflow/internal/runtime/config"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/commentflow/internal/runtime/logging"
	metricspkg "github.com/drblury/commentflow/internal/runtime/metrics"
	"github.com/drblury/commentflow/internal/store"
	"github.com/drblury/commentflow/internal/validation"
	"github.com/drblury/commentflow/transport"
)

const httpShutdownTimeout = 10 * time.Second

// ServiceDependencies holds optional collaborators. Nil fields are built from
// the configuration.
type ServiceDependencies struct {
	// Registerer receives the pipeline collectors. Defaults to a fresh registry.
	Registerer prometheus.Registerer
	// Transports resolves the broadcast backend. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// DB replaces the connection opened from DB config.
	DB *gorm.DB
	// CaptchaStore replaces the Redis or in-memory store.
	CaptchaStore base64Captcha.Store
	Tracer       trace.Tracer
	// Hooks run after the logging hooks on every consumed message.
	Hooks consumer.JobHooks
}

// Service wires the comment pipeline for one process: the intake API, the
// consumer, or both.
type Service struct {
	Conf    *configpkg.Config
	Logger  loggingpkg.ServiceLogger
	Metrics *metricspkg.PipelineMetrics

	deps ServiceDependencies

	broadcastOnce sync.Once
	broadcastTr   transport.Transport
	broadcastErr  error

	httpMu      sync.Mutex
	httpServers map[int]*http.ServeMux

	closersMu sync.Mutex
	closers   []func() error
}

// NewService validates conf for role and registers the metrics collectors.
// Connections are opened by Run.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, role configpkg.Role, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.ValidateFor(role); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Transports == nil {
		deps.Transports = transport.DefaultRegistry
	}

	s := &Service{
		Conf:    conf,
		Logger:  log,
		Metrics: metricspkg.NewPipelineMetrics(deps.Registerer),
		deps:    deps,
	}
	if conf.Metrics.Enabled {
		if err := s.Metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		s.RegisterHTTPHandler(conf.Metrics.Port, "/metrics", s.Metrics.Handler())
		s.RegisterHTTPHandler(conf.Metrics.Port, "/api/pipeline", http.HandlerFunc(s.handleGetStatus))
	}

	log.Info("Creating comment service", loggingpkg.LogFields{
		"broadcast": conf.Broadcast.Transport,
		"queue":     conf.Broker.QueueName,
		"config":    conf.String(),
	})
	return s, nil
}

// Run starts the components of role and blocks until ctx ends or one of them
// fails. Resources opened along the way are released before it returns.
func (s *Service) Run(ctx context.Context, role configpkg.Role) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.Logger.Error("Service shutdown incomplete", err, nil)
		}
	}()

	var tasks []func(context.Context) error
	if role&configpkg.RoleConsumer != 0 {
		t, err := s.consumerTasks(ctx)
		if err != nil {
			return err
		}
		tasks = append(tasks, t...)
	}
	if role&configpkg.RoleAPI != 0 {
		t, err := s.apiTasks(ctx)
		if err != nil {
			return err
		}
		tasks = append(tasks, t...)
	}
	tasks = append(tasks, s.httpServerTasks()...)

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}

func (s *Service) apiTasks(ctx context.Context) ([]func(context.Context) error, error) {
	producer := broker.NewProducer(s.Conf.Broker, s.Logger, broker.WithProducerMetrics(s.Metrics))
	s.onClose(producer.Close)

	captchaStore := s.deps.CaptchaStore
	if captchaStore == nil {
		var closeStore func() error
		captchaStore, closeStore = captcha.NewStore(s.Conf.Redis, s.Conf.Captcha.Lifetime)
		s.onClose(closeStore)
	}
	gate := captcha.NewGate(s.Conf.Captcha, captchaStore)

	svc, err := intake.NewService(gate, validation.New(), producer, s.Logger, s.Conf.Broker.PublishTimeout)
	if err != nil {
		return nil, err
	}

	tasks := []func(context.Context) error{producer.Run}

	var opts []intake.ServerOption
	sub, err := s.broadcastSubscriber(ctx)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		relay, err := broadcast.NewRelay(sub, s.Conf.Broadcast.Topic, s.Logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, intake.WithStream(relay.Subscriber(), relay.Topic()))
		tasks = append(tasks, relay.Run)
	}

	server := intake.NewServer(s.Conf.HTTP, svc, gate, producer, s.Logger, opts...)
	return append(tasks, server.Run), nil
}

func (s *Service) consumerTasks(ctx context.Context) ([]func(context.Context) error, error) {
	db := s.deps.DB
	if db == nil {
		opened, err := store.Open(s.Conf.DB, s.Logger)
		if err != nil {
			return nil, err
		}
		s.onClose(func() error { return store.Close(opened) })
		db = opened
	}
	if s.Conf.DB.AutoMigrate {
		if err := store.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	cs, err := store.NewCommentStore(db, s.Conf.DB.UserCacheSize)
	if err != nil {
		return nil, err
	}

	broadcaster, err := s.broadcaster(ctx)
	if err != nil {
		return nil, err
	}

	opts := []consumer.Option{
		consumer.WithMetrics(s.Metrics),
		consumer.WithHooks(consumer.LoggingHooks(s.Logger)),
		consumer.WithHooks(s.deps.Hooks),
	}
	if s.deps.Tracer != nil {
		opts = append(opts, consumer.WithTracer(s.deps.Tracer))
	}
	c, err := consumer.New(s.Conf.Broker, cs.Scope, broadcaster, s.Logger, opts...)
	if err != nil {
		return nil, err
	}
	return []func(context.Context) error{c.Run}, nil
}

// broadcastTransport builds the backend once so an api and a consumer in the
// same process share it.
func (s *Service) broadcastTransport(ctx context.Context) (transport.Transport, error) {
	s.broadcastOnce.Do(func() {
		s.broadcastTr, s.broadcastErr = s.deps.Transports.Build(ctx, &s.Conf.Broadcast, loggingpkg.NewWatermillAdapter(s.Logger))
		if s.broadcastErr == nil {
			s.onClose(s.broadcastTr.Close)
			caps := s.deps.Transports.Capabilities(s.Conf.Broadcast.Transport)
			if !caps.ReachesAllViewers() {
				s.Logger.Info("Broadcast transport does not reach viewers of other processes", loggingpkg.LogFields{
					"transport": caps.Name,
				})
			}
		}
	})
	return s.broadcastTr, s.broadcastErr
}

func (s *Service) broadcaster(ctx context.Context) (comments.Broadcaster, error) {
	if !s.Conf.Broadcast.Enabled() {
		return broadcast.Nop, nil
	}
	tr, err := s.broadcastTransport(ctx)
	if err != nil {
		return nil, err
	}
	return broadcast.NewPublisher(tr.Publisher, s.Conf.Broadcast.Topic)
}

func (s *Service) broadcastSubscriber(ctx context.Context) (message.Subscriber, error) {
	if !s.Conf.Broadcast.Enabled() {
		return nil, nil
	}
	tr, err := s.broadcastTransport(ctx)
	if err != nil {
		return nil, err
	}
	return tr.Subscriber, nil
}

// RegisterHTTPHandler mounts handler on a side server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}
	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (s *Service) httpServerTasks() []func(context.Context) error {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	tasks := make([]func(context.Context) error, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		tasks = append(tasks, func(ctx context.Context) error {
			return s.serveHTTP(ctx, srv)
		})
	}
	return tasks
}

func (s *Service) serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Service) onClose(fn func() error) {
	if fn == nil {
		return
	}
	s.closersMu.Lock()
	defer s.closersMu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close releases everything Run opened, most recent first.
func (s *Service) Close() error {
	s.closersMu.Lock()
	closers := s.closers
	s.closers = nil
	s.closersMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	return errors.Join(errs...)
}
