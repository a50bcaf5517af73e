package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Option func(*FastHTTPServer)

// WithNotFound replaces the plain-text 404 answer.
func WithNotFound(handler types.FastHTTPHandler) Option {
	return func(s *FastHTTPServer) { s.notFound = handler }
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(s *FastHTTPServer) { s.listener = ln }
}

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	middlewares     types.MiddlewareManager
	router          *Router
	tlsManager      types.TLSManager
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	notFound        types.FastHTTPHandler
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	config *types.ServerConfig,
	logger types.Logger,
	middlewares types.MiddlewareManager,
	tlsManager types.TLSManager,
	router *Router,
	opts ...Option) (*FastHTTPServer, error) {
	if config == nil || config.HTTP == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.http")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	tlsConfig := config.TLS
	if tlsConfig == nil {
		tlsConfig = &types.TLSConfig{}
	}

	shutdownTimeout := 5 * time.Second
	if config.HTTP.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(config.HTTP.ShutdownTimeout) * time.Second
	}

	s := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		middlewares:     middlewares,
		tlsManager:      tlsManager,
		router:          router,
		httpConfig:      config.HTTP,
		tlsConfig:       tlsConfig,
		shutdownTimeout: shutdownTimeout,
		notFound: func(ctx *fasthttp.RequestCtx) {
			ctx.Error(types.ErrPathNotFound.Error(), fasthttp.StatusNotFound)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (h *FastHTTPServer) Start() error {
	if !h.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := h.router.FinalizePendingRoutes(); err != nil {
		h.state.Store(StateStopped)
		return err
	}

	h.server = &fasthttp.Server{
		Handler:                      h.Handler(),
		Name:                         "sai-desa",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		CloseOnShutdown:              true,
		DisablePreParseMultipartForm: true,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	if h.listener == nil {
		var err error
		if h.tlsConfig.Enabled && h.tlsManager != nil {
			h.listener, err = h.tlsManager.Listen(addr)
		} else {
			h.listener, err = net.Listen("tcp", addr)
		}
		if err != nil {
			h.state.Store(StateStopped)
			return types.WrapError(types.ErrServerStartFailed, err.Error())
		}
	}

	go func() {
		if err := h.server.Serve(h.listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.state.Store(StateStopped)
		}
	}()

	h.state.Store(StateRunning)

	h.logger.Info("HTTP server started",
		zap.String("address", addr),
		zap.Bool("tls", h.tlsConfig.Enabled))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.state.Store(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	if err := h.server.ShutdownWithContext(ctx); err != nil {
		h.logger.Warn("Server stop timeout, open connections were dropped", zap.Error(err))
		return nil
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.state.Load().(State) == StateRunning
}

// Handler resolves the route, exposes path parameters as user values and
// runs the middleware chain selected for the route.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := utils.BytesToString(ctx.Method())
		path := utils.BytesToString(ctx.Path())

		info, params := h.router.Lookup(method, path)
		if info == nil && method == fasthttp.MethodHead {
			info, params = h.router.Lookup(fasthttp.MethodGet, path)
		}

		if info == nil {
			h.execute(ctx, h.notFound, nil)
			return
		}

		for name, value := range params {
			ctx.SetUserValue(name, value)
		}

		h.execute(ctx, info.Handler, info.Config)
	}
}

func (h *FastHTTPServer) execute(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if h.middlewares == nil {
		handler(ctx)
		return
	}

	h.middlewares.Execute(ctx, handler, config)
}
