package middleware

import (
	"context"
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/portal"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

const sessionKey = "admin_session"

// AuthMiddleware guards admin routes with the session cookie. Requests
// without a live session are sent to the login page.
type AuthMiddleware struct {
	ctx        context.Context
	state      *portal.State
	logger     types.Logger
	metrics    types.MetricsManager
	authConfig *AuthConfig
	weight     int
}

type AuthConfig struct {
	LoginPath string `json:"login_path"`
}

func NewAuthMiddleware(ctx context.Context, item *types.MiddlewareItemConfig, state *portal.State, logger types.Logger, metrics types.MetricsManager) *AuthMiddleware {
	authConfig := &AuthConfig{LoginPath: "/admin/login"}

	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, authConfig); err != nil {
			logger.Error("Failed to unmarshal Auth middleware config", zap.Error(err))
		}
	}

	return &AuthMiddleware{
		ctx:        ctx,
		state:      state,
		logger:     logger,
		metrics:    metrics,
		authConfig: authConfig,
		weight:     weightOf(item, 60),
	}
}

func (a *AuthMiddleware) Name() string { return "auth" }
func (a *AuthMiddleware) Weight() int  { return a.weight }

func (a *AuthMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	id := string(ctx.Request.Header.Cookie(a.state.SessionCookie()))
	if id == "" {
		utils.Redirect(ctx, a.authConfig.LoginPath)
		return
	}

	session, err := a.state.Sessions.Get(a.ctx, id)
	if err != nil {
		if !errors.Is(err, types.ErrSessionNotFound) && !errors.Is(err, types.ErrSessionInvalid) {
			a.logger.Error("Session lookup failed", zap.Error(err))
		}

		ClearSessionCookie(ctx, a.state)
		utils.Redirect(ctx, a.authConfig.LoginPath)
		return
	}

	ctx.SetUserValue(sessionKey, session)
	next(ctx)
}

// SessionFrom returns the session attached by the auth middleware.
func SessionFrom(ctx *fasthttp.RequestCtx) *portal.Session {
	session, _ := ctx.UserValue(sessionKey).(*portal.Session)
	return session
}

func SetSessionCookie(ctx *fasthttp.RequestCtx, state *portal.State, id string) {
	cookie := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(cookie)

	cookie.SetKey(state.SessionCookie())
	cookie.SetValue(id)
	cookie.SetPath("/")
	cookie.SetHTTPOnly(true)
	cookie.SetSecure(state.SecureCookie())
	cookie.SetSameSite(fasthttp.CookieSameSiteLaxMode)

	ctx.Response.Header.SetCookie(cookie)
}

// ClearSessionCookie expires the session cookie on the same path it was set
// on.
func ClearSessionCookie(ctx *fasthttp.RequestCtx, state *portal.State) {
	cookie := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(cookie)

	cookie.SetKey(state.SessionCookie())
	cookie.SetValue("")
	cookie.SetPath("/")
	cookie.SetHTTPOnly(true)
	cookie.SetSecure(state.SecureCookie())
	cookie.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	cookie.SetExpire(fasthttp.CookieExpireDelete)

	ctx.Response.Header.SetCookie(cookie)
}
