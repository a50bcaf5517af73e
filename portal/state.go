package portal

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/cache"
	"github.com/saiset-co/sai-desa/textfmt"
	"github.com/saiset-co/sai-desa/types"
)

type StateStatus int32

const (
	StateStopped StateStatus = iota
	StateRunning
)

// State is the explicitly wired application state handed to every handler:
// the backend API plus the cached providers built on one store.
type State struct {
	ctx      context.Context
	logger   types.Logger
	store    types.Store
	config   *types.ServiceConfig
	API      *backend.API
	Config   *ConfigProvider
	Articles *ArticleProvider
	Sessions *SessionStore
	Text     *textfmt.Formatter
	status   atomic.Value
}

type StateOption func(*stateOptions)

type stateOptions struct {
	cache []cache.Option
}

func WithCacheOptions(opts ...cache.Option) StateOption {
	return func(o *stateOptions) { o.cache = append(o.cache, opts...) }
}

func NewState(ctx context.Context, config *types.ServiceConfig, store types.Store, api *backend.API, logger types.Logger, opts ...StateOption) (*State, error) {
	if config == nil || config.Cache == nil || config.Portal == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "portal state")
	}

	o := &stateOptions{}
	for _, opt := range opts {
		opt(o)
	}

	configCache, err := cache.NewTimed[backend.DesaConfig]("desa_config", store, config.Cache.ConfigTTL, logger, o.cache...)
	if err != nil {
		return nil, err
	}

	articleCache, err := cache.NewTimed[[]backend.Article]("home_articles", store, config.Cache.ArticlesTTL, logger, o.cache...)
	if err != nil {
		return nil, err
	}

	sessionCache, err := cache.NewTimed[Session]("session", store, config.Cache.SessionTTL, logger, o.cache...)
	if err != nil {
		return nil, err
	}

	s := &State{
		ctx:    ctx,
		logger: logger,
		store:  store,
		config: config,
		API:    api,
		Config: &ConfigProvider{api: api, cache: configCache, logger: logger},
		Articles: &ArticleProvider{
			api:    api,
			cache:  articleCache,
			limit:  config.Portal.HomeArticles,
			logger: logger,
		},
		Sessions: &SessionStore{cache: sessionCache, logger: logger},
		Text:     textfmt.New(textfmt.OptionsFromConfig(config.Portal.Text), logger),
	}
	s.status.Store(StateStopped)

	return s, nil
}

// Start opens the store and warms the caches. A backend that is down at
// start is logged, not fatal.
func (s *State) Start() error {
	if !s.status.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServiceIsRunning
	}

	if !s.store.IsRunning() {
		if err := s.store.Start(); err != nil {
			s.status.Store(StateStopped)
			return types.WrapError(err, "start storage")
		}
	}

	warmCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	if _, err := s.Config.Get(warmCtx); err != nil {
		s.logger.Warn("Desa config not available at start", zap.Error(err))
	}
	if _, err := s.Articles.Home(warmCtx); err != nil {
		s.logger.Warn("Home articles not available at start", zap.Error(err))
	}

	return nil
}

func (s *State) Stop() error {
	if !s.status.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServiceIsNotRunning
	}

	if s.store.IsRunning() {
		if err := s.store.Stop(); err != nil {
			return types.WrapError(err, "stop storage")
		}
	}

	return nil
}

func (s *State) IsRunning() bool {
	return s.status.Load().(StateStatus) == StateRunning
}

func (s *State) Store() types.Store {
	return s.store
}

func (s *State) SessionCookie() string {
	return s.config.Portal.SessionCookie
}

func (s *State) SecureCookie() bool {
	return s.config.Portal.SecureCookie
}

// Admin returns the backend API acting with the session's token. Without a
// session the calls go out anonymously and the backend answers 401.
func (s *State) Admin(session *Session) *backend.API {
	if session == nil {
		return s.API
	}
	return s.API.WithToken(session.Token)
}

// Unauthorized drops a session the backend no longer accepts.
func (s *State) Unauthorized(ctx context.Context, session *Session) {
	if session == nil {
		return
	}

	if err := s.Sessions.Destroy(ctx, session.ID); err != nil {
		s.logger.Warn("Failed to drop rejected session", zap.String("session", session.ID), zap.Error(err))
		return
	}

	s.logger.Info("Session dropped after backend rejected its token", zap.String("user", session.User.Username))
}

// ArticleChanged drops the cached home articles after an admin edit.
func (s *State) ArticleChanged(ctx context.Context) {
	if err := s.Articles.Invalidate(ctx); err != nil {
		s.logger.Warn("Failed to invalidate home articles", zap.Error(err))
	}
}
