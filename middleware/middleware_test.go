package middleware

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/backend/backendtest"
	"github.com/saiset-co/sai-desa/config"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/portal"
	"github.com/saiset-co/sai-desa/storage"
	"github.com/saiset-co/sai-desa/types"
)

func newPortal(t *testing.T) *portal.State {
	t.Helper()

	srv := backendtest.New(t)
	cfg := config.NewLoader().Defaults()
	cfg.Backend = srv.Config()

	log := logger.NewNop()
	store := storage.NewMemoryStore(log)
	if err := store.Start(); err != nil {
		t.Fatalf("start store: %v", err)
	}

	state, err := portal.NewState(context.Background(), cfg, store,
		backend.New(srv.Client(t, cfg.Backend), cfg.Backend, log), log)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return state
}

func enabled(weight int) *types.MiddlewareItemConfig {
	return &types.MiddlewareItemConfig{Enabled: true, Weight: weight}
}

func newManager(t *testing.T, cfg *types.MiddlewaresConfig, state *portal.State) *Manager {
	t.Helper()

	m := NewManager(context.Background(), cfg, logger.NewNop(), nil, state)
	if err := m.RegisterMiddlewares(); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(m.Clear)
	return m
}

func TestManagerOrdersByWeight(t *testing.T) {
	m := newManager(t, &types.MiddlewaresConfig{
		Enabled:     true,
		Recovery:    enabled(10),
		Compression: enabled(5),
		Logging:     enabled(20),
	}, nil)

	got := strings.Join(m.Names(), ",")
	if got != "compression,recovery,logging" {
		t.Fatalf("order = %s", got)
	}
}

func TestManagerRejectsDuplicateWeights(t *testing.T) {
	m := NewManager(context.Background(), &types.MiddlewaresConfig{
		Enabled:   true,
		Recovery:  enabled(10),
		BodyLimit: enabled(10),
	}, logger.NewNop(), nil, nil)

	if err := m.RegisterMiddlewares(); err == nil {
		t.Fatalf("expected duplicate weight error")
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	m := newManager(t, &types.MiddlewaresConfig{Enabled: true, Recovery: enabled(10), Logging: enabled(20)}, nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/boom")
	m.Execute(&ctx, func(*fasthttp.RequestCtx) { panic("boom") }, nil)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", ctx.Response.StatusCode())
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	m := newManager(t, &types.MiddlewaresConfig{Enabled: true, Logging: enabled(20)}, nil)

	var ctx fasthttp.RequestCtx
	m.Execute(&ctx, func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(200) }, nil)

	if len(ctx.Response.Header.Peek(RequestIDHeader)) == 0 {
		t.Fatalf("expected request id header")
	}
}

func TestDisabledMiddlewareIsSkipped(t *testing.T) {
	m := newManager(t, &types.MiddlewaresConfig{Enabled: true, BodyLimit: &types.MiddlewareItemConfig{
		Enabled: true, Weight: 40, Params: map[string]interface{}{"max_body_size": 4},
	}}, nil)

	run := func(config *types.RouteConfig) int {
		var ctx fasthttp.RequestCtx
		ctx.Request.Header.SetMethod("POST")
		ctx.Request.SetBodyString("too large")
		m.Execute(&ctx, func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(204) }, config)
		return ctx.Response.StatusCode()
	}

	if got := run(nil); got != fasthttp.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", got)
	}
	if got := run(&types.RouteConfig{DisabledMiddlewares: []string{"body-limit"}}); got != 204 {
		t.Fatalf("expected body limit skipped, got %d", got)
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimitMiddleware(context.Background(), &types.MiddlewareItemConfig{
		Enabled: true, Params: map[string]interface{}{"requests_per_minute": 2},
	}, logger.NewNop(), nil)
	defer rl.Stop()

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		var ctx fasthttp.RequestCtx
		ctx.Request.Header.Set("X-Real-IP", "10.0.0.1")
		rl.Handle(&ctx, func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(200) }, nil)
		statuses = append(statuses, ctx.Response.StatusCode())
	}

	if statuses[0] != 200 || statuses[1] != 200 || statuses[2] != fasthttp.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	var other fasthttp.RequestCtx
	other.Request.Header.Set("X-Real-IP", "10.0.0.2")
	rl.Handle(&other, func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(200) }, nil)
	if other.Response.StatusCode() != 200 {
		t.Fatalf("other client should not be limited")
	}
}

func TestCompression(t *testing.T) {
	page := strings.Repeat("<p>Desa Sukamaju</p>", 200)

	tests := []struct {
		name     string
		accept   string
		encoding string
	}{
		{"brotli preferred", "gzip, deflate, br", "br"},
		{"gzip", "gzip", "gzip"},
		{"identity", "", ""},
	}

	c := NewCompressionMiddleware(enabled(50), logger.NewNop(), nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctx fasthttp.RequestCtx
			ctx.Request.Header.Set("Accept-Encoding", tt.accept)
			c.Handle(&ctx, func(ctx *fasthttp.RequestCtx) {
				ctx.SetContentType("text/html; charset=utf-8")
				ctx.SetBodyString(page)
			}, nil)

			if got := string(ctx.Response.Header.Peek("Content-Encoding")); got != tt.encoding {
				t.Fatalf("encoding = %q, want %q", got, tt.encoding)
			}

			var reader io.Reader = bytes.NewReader(ctx.Response.Body())
			switch tt.encoding {
			case "br":
				reader = brotli.NewReader(reader)
			case "gzip":
				gz, err := gzip.NewReader(reader)
				if err != nil {
					t.Fatalf("gzip reader: %v", err)
				}
				reader = gz
			}

			body, err := io.ReadAll(reader)
			if err != nil || string(body) != page {
				t.Fatalf("round trip failed: %v", err)
			}
		})
	}
}

func TestAuthRedirectsWithoutSession(t *testing.T) {
	state := newPortal(t)
	m := newManager(t, &types.MiddlewaresConfig{Enabled: true, Auth: enabled(60)}, state)
	admin := &types.RouteConfig{Middlewares: []string{"auth"}}

	called := false
	handler := func(ctx *fasthttp.RequestCtx) { called = true }

	var anonymous fasthttp.RequestCtx
	m.Execute(&anonymous, handler, admin)
	if called || anonymous.Response.StatusCode() != fasthttp.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", anonymous.Response.StatusCode())
	}
	if loc := string(anonymous.Response.Header.Peek("Location")); !strings.HasSuffix(loc, "/admin/login") {
		t.Fatalf("unexpected location %q", loc)
	}

	var public fasthttp.RequestCtx
	m.Execute(&public, handler, nil)
	if !called {
		t.Fatalf("auth must not run on routes that do not request it")
	}
}

func TestAuthAttachesSession(t *testing.T) {
	state := newPortal(t)
	m := newManager(t, &types.MiddlewaresConfig{Enabled: true, Auth: enabled(60)}, state)

	session, err := state.Sessions.Create(context.Background(), "token-1", backend.User{Username: "admin"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetCookie(state.SessionCookie(), session.ID)

	var got *portal.Session
	m.Execute(&ctx, func(ctx *fasthttp.RequestCtx) { got = SessionFrom(ctx) },
		&types.RouteConfig{Middlewares: []string{"auth"}})

	if got == nil || got.Token != "token-1" {
		t.Fatalf("expected session in context, got %+v", got)
	}
}

func TestClearSessionCookieExpiresOnSetPath(t *testing.T) {
	state := newPortal(t)

	var ctx fasthttp.RequestCtx
	ClearSessionCookie(&ctx, state)

	var c fasthttp.Cookie
	c.SetKey(state.SessionCookie())
	if !ctx.Response.Header.Cookie(&c) {
		t.Fatalf("no session cookie in response")
	}
	if string(c.Value()) != "" {
		t.Fatalf("cookie value not cleared: %q", c.Value())
	}
	if string(c.Path()) != "/" {
		t.Fatalf("cookie path = %q, want /", c.Path())
	}
	if c.Expire().IsZero() || !c.Expire().Before(time.Now()) {
		t.Fatalf("cookie not expired: %v", c.Expire())
	}
}
