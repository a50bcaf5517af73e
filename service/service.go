package service

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/client"
	"github.com/saiset-co/sai-desa/config"
	"github.com/saiset-co/sai-desa/cron"
	"github.com/saiset-co/sai-desa/health"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/metrics"
	"github.com/saiset-co/sai-desa/middleware"
	"github.com/saiset-co/sai-desa/portal"
	"github.com/saiset-co/sai-desa/server"
	"github.com/saiset-co/sai-desa/storage"
	"github.com/saiset-co/sai-desa/tls"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/web"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	JobRefreshConfig   = "refresh-desa-config"
	JobRefreshArticles = "refresh-home-articles"
)

type Option func(*options)

type options struct {
	client   []client.Option
	listener net.Listener
	signals  bool
}

// WithClientOptions is applied to the backend HTTP client.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) { o.client = append(o.client, opts...) }
}

// WithListener serves HTTP on ln instead of the configured address.
func WithListener(ln net.Listener) Option {
	return func(o *options) { o.listener = ln }
}

// WithoutSignals leaves SIGINT and SIGTERM to the caller.
func WithoutSignals() Option {
	return func(o *options) { o.signals = false }
}

// Service owns every component of the portal and their start and stop order.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.ServiceConfig
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	signals         bool

	configManager *config.ConfigurationManager
	logger        *logger.Manager
	metrics       types.MetricsManager
	store         types.Store
	client        *client.HTTPClient
	portal        *portal.State
	health        *health.Manager
	cron          *cron.Manager
	middlewares   *middleware.Manager
	router        *server.Router
	tls           *tls.CertManager
	http          *server.FastHTTPServer
}

func NewService(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}

	return build(ctx, configManager, opts...)
}

// NewFromConfig builds the service from an already loaded configuration.
func NewFromConfig(ctx context.Context, cfg *types.ServiceConfig, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "service")
	}
	return build(ctx, config.NewStaticManager(cfg), opts...)
}

func build(ctx context.Context, configManager *config.ConfigurationManager, opts ...Option) (*Service, error) {
	o := &options{signals: true}
	for _, opt := range opts {
		opt(o)
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          configManager.GetConfig(),
		configManager:   configManager,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
		signals:         o.signals,
	}
	s.state.Store(StateStopped)

	if err := s.registerComponents(o); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register components")
	}

	return s, nil
}

func (s *Service) registerComponents(o *options) error {
	cfg := s.config
	var err error

	s.logger, err = logger.NewManager(s.ctx, cfg.Logger)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		promMetrics, err := metrics.NewPrometheusMetrics(cfg.Metrics, s.logger)
		if err != nil {
			return types.WrapError(err, "failed to register metrics manager")
		}
		s.metrics = promMetrics
	}

	s.store, err = storage.New(s.ctx, cfg.Storage, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to register storage")
	}

	clientOpts := o.client
	if s.metrics != nil {
		clientOpts = append([]client.Option{client.WithMetrics(s.metrics)}, clientOpts...)
	}
	s.client, err = client.NewHTTPClient("backend", cfg.Backend, s.logger, clientOpts...)
	if err != nil {
		return types.WrapError(err, "failed to register backend client")
	}

	api := backend.New(s.client, cfg.Backend, s.logger)

	s.portal, err = portal.NewState(s.ctx, cfg, s.store, api, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to register portal state")
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		s.health = health.NewManager(s.ctx, cfg.Health, types.ServiceInfo{Name: cfg.Name, Version: cfg.Version}, s.logger)
		s.health.RegisterChecker("storage", health.StorageChecker(s.store))
		s.health.RegisterChecker("backend", health.BackendChecker(s.client))
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		if err := s.registerCron(); err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}
	}

	middlewaresConfig := cfg.Middlewares
	if middlewaresConfig == nil {
		middlewaresConfig = &types.MiddlewaresConfig{}
	}
	s.middlewares = middleware.NewManager(s.ctx, middlewaresConfig, s.logger, s.metrics, s.portal)
	if err := s.middlewares.RegisterMiddlewares(); err != nil {
		return types.WrapError(err, "failed to register middlewares")
	}

	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		s.tls, err = tls.NewCertManager(s.ctx, cfg.Server.TLS, s.logger)
		if err != nil {
			return types.WrapError(err, "failed to register TLS manager")
		}
	}

	handler, err := web.New(s.ctx, s.portal, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to register web handler")
	}

	s.router = server.NewRouter()
	handler.Register(s.router)
	s.registerInternalRoutes()

	serverOpts := []server.Option{server.WithNotFound(handler.NotFound)}
	if o.listener != nil {
		serverOpts = append(serverOpts, server.WithListener(o.listener))
	}

	var tlsManager types.TLSManager
	if s.tls != nil {
		tlsManager = s.tls
	}

	s.http, err = server.NewHTTPServer(s.ctx, cfg.Server, s.logger, s.middlewares, tlsManager, s.router, serverOpts...)
	if err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}

	return nil
}

func (s *Service) registerCron() error {
	cfg := s.config.Cron

	var err error
	s.cron, err = cron.NewManager(s.ctx, cfg, s.logger, s.metrics)
	if err != nil {
		return err
	}

	if cfg.ConfigRefresh != "" {
		if err := s.cron.Add(JobRefreshConfig, cfg.ConfigRefresh, s.portal.Config.Refresh); err != nil {
			return err
		}
	}

	if cfg.ArticlesRefresh != "" {
		if err := s.cron.Add(JobRefreshArticles, cfg.ArticlesRefresh, s.portal.Articles.Refresh); err != nil {
			return err
		}
	}

	return nil
}

// registerInternalRoutes exposes metrics, health and version. They skip the
// rate limit and compression so probes stay cheap.
func (s *Service) registerInternalRoutes() {
	internal := []string{"rate-limit", "compression"}

	if s.metrics != nil {
		handler := s.metrics.Handler()
		s.router.GET(s.config.Metrics.Path, func(ctx *fasthttp.RequestCtx) { handler(ctx) }).
			WithoutMiddlewares(internal...)
	}

	if s.health != nil {
		path := s.config.Health.Path
		if path == "" {
			path = "/health"
		}
		s.router.GET(path, s.health.Handler).WithoutMiddlewares(internal...)
		s.router.GET("/version", s.health.VersionHandler).WithoutMiddlewares(internal...)
	}
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServiceIsRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.state.Store(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service", zap.String("name", s.config.Name), zap.String("version", s.config.Version))

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.state.Store(StateStopped)
		_ = s.stopComponents()
		return types.WrapError(err, "failed to start components")
	}

	s.state.Store(StateRunning)
	if s.signals {
		s.setupSignalHandling()
	}

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.state.Store(StateStopped)

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) Portal() *portal.State {
	return s.portal
}

func (s *Service) Router() *server.Router {
	return s.router
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// startComponents brings up config and logging first, then the independent
// infrastructure concurrently, then the portal state, the HTTP server and
// finally the scheduler.
func (s *Service) startComponents(ctx context.Context) error {
	if err := s.configManager.Start(); err != nil {
		return types.WrapError(err, "failed to start config manager")
	}

	if err := s.logger.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	g, gCtx := errgroup.WithContext(ctx)

	if s.metrics != nil {
		g.Go(func() error {
			return startWithin(gCtx, s.metrics, "metrics manager")
		})
	}

	if s.health != nil {
		g.Go(func() error {
			return startWithin(gCtx, s.health, "health manager")
		})
	}

	if s.tls != nil {
		g.Go(func() error {
			return startWithin(gCtx, s.tls, "TLS manager")
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	if err := s.portal.Start(); err != nil {
		return types.WrapError(err, "failed to start portal state")
	}

	if err := s.http.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	if s.cron != nil {
		if err := s.cron.Start(); err != nil {
			s.logger.Error("Failed to start cron manager", zap.Error(err))
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

func startWithin(ctx context.Context, manager types.LifecycleManager, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := manager.Start(); err != nil {
		return types.Errorf(types.ErrComponentStartFailed, "%s: %v", name, err)
	}
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	s.logger.Info("Stopping service components...")

	if s.cron != nil && s.cron.IsRunning() {
		if err := s.cron.Stop(); err != nil {
			s.logger.Error("Failed to stop cron manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.http.IsRunning() {
		if err := s.http.Stop(); err != nil {
			s.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, err)
		}
	}

	s.middlewares.Clear()

	g, gCtx := errgroup.WithContext(ctx)

	for name, manager := range s.infrastructure() {
		name, manager := name, manager
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if err := manager.Stop(); err != nil {
				s.logger.Error("Failed to stop component", zap.String("component", name), zap.Error(err))
				return types.Errorf(types.ErrComponentStopFailed, "%s: %v", name, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	s.client.Close()

	if s.configManager.IsRunning() {
		if err := s.configManager.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

// infrastructure lists the running components that stop independently of
// each other.
func (s *Service) infrastructure() map[string]types.LifecycleManager {
	out := make(map[string]types.LifecycleManager)

	if s.portal.IsRunning() {
		out["portal"] = s.portal
	}
	if s.metrics != nil && s.metrics.IsRunning() {
		out["metrics"] = s.metrics
	}
	if s.health != nil && s.health.IsRunning() {
		out["health"] = s.health
	}
	if s.tls != nil && s.tls.IsRunning() {
		out["tls"] = s.tls
	}

	return out
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}
