package portal

import (
	"context"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/backend/backendtest"
	"github.com/saiset-co/sai-desa/cache"
	"github.com/saiset-co/sai-desa/config"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/storage"
	"github.com/saiset-co/sai-desa/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newState(t *testing.T) (*State, *backendtest.Server, *clock) {
	t.Helper()

	srv := backendtest.New(t)
	cfg := config.NewLoader().Defaults()
	cfg.Backend = srv.Config()

	log := logger.NewNop()
	api := backend.New(srv.Client(t, cfg.Backend), cfg.Backend, log)
	clk := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	store := storage.NewMemoryStore(log)
	if err := store.Start(); err != nil {
		t.Fatalf("start store: %v", err)
	}

	state, err := NewState(context.Background(), cfg, store, api, log,
		WithCacheOptions(cache.WithClock(clk.now)))
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	return state, srv, clk
}

func TestConfigProviderCachesForTTL(t *testing.T) {
	state, srv, clk := newState(t)
	srv.JSON("GET", "/api/desa-config", 200, map[string]interface{}{"data": backend.DesaConfig{NamaDesa: "Sukamaju"}})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		cfg, err := state.Config.Get(ctx)
		if err != nil || cfg.NamaDesa != "Sukamaju" {
			t.Fatalf("get: %v %+v", err, cfg)
		}
	}
	if got := srv.Count("GET", "/api/desa-config"); got != 1 {
		t.Fatalf("expected one backend call, got %d", got)
	}

	clk.t = clk.t.Add(24 * time.Hour)
	if _, err := state.Config.Get(ctx); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got := srv.Count("GET", "/api/desa-config"); got != 2 {
		t.Fatalf("expected refetch after 24h, got %d calls", got)
	}
}

func TestConfigFailureIsNotCached(t *testing.T) {
	state, srv, _ := newState(t)
	srv.JSON("GET", "/api/desa-config", 500, map[string]string{"message": "db down"})

	ctx := context.Background()
	if _, err := state.Config.Get(ctx); err == nil {
		t.Fatalf("expected error")
	}

	srv.JSON("GET", "/api/desa-config", 200, backend.DesaConfig{NamaDesa: "Sukamaju"})
	cfg, err := state.Config.Get(ctx)
	if err != nil || cfg.NamaDesa != "Sukamaju" {
		t.Fatalf("expected recovery, got %v %+v", err, cfg)
	}
}

func TestConfigUpdateInvalidates(t *testing.T) {
	state, srv, _ := newState(t)
	srv.JSON("GET", "/api/desa-config", 200, backend.DesaConfig{NamaDesa: "Lama"})
	srv.JSON("PUT", "/api/desa-config", 200, map[string]string{"message": "ok"})

	ctx := context.Background()
	_, _ = state.Config.Get(ctx)

	if err := state.Config.Update(ctx, state.API.WithToken("t"), &backend.DesaConfig{NamaDesa: "Baru"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	srv.JSON("GET", "/api/desa-config", 200, backend.DesaConfig{NamaDesa: "Baru"})
	cfg, _ := state.Config.Get(ctx)
	if cfg.NamaDesa != "Baru" {
		t.Fatalf("stale config after update: %+v", cfg)
	}
}

func TestHomeArticlesLimit(t *testing.T) {
	state, srv, _ := newState(t)

	articles := make([]backend.Article, 10)
	for i := range articles {
		articles[i] = backend.Article{ID: int64(i + 1), Judul: "Berita", Status: "published"}
	}
	srv.JSON("GET", "/api/artikel", 200, articles)

	home, err := state.Articles.Home(context.Background())
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	if len(home) != 6 {
		t.Fatalf("expected 6 home articles, got %d", len(home))
	}
}

func TestSessionLifecycle(t *testing.T) {
	state, _, clk := newState(t)
	ctx := context.Background()

	session, err := state.Sessions.Create(ctx, "tok", backend.User{Username: "admin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := state.Sessions.Get(ctx, session.ID)
	if err != nil || got.Token != "tok" {
		t.Fatalf("get: %v %+v", err, got)
	}

	clk.t = clk.t.Add(20 * time.Minute)
	if _, err := state.Sessions.Get(ctx, session.ID); err != nil {
		t.Fatalf("session should be renewed: %v", err)
	}
	clk.t = clk.t.Add(20 * time.Minute)
	if _, err := state.Sessions.Get(ctx, session.ID); err != nil {
		t.Fatalf("renewed session expired early: %v", err)
	}

	clk.t = clk.t.Add(31 * time.Minute)
	if _, err := state.Sessions.Get(ctx, session.ID); !types.IsError(err, types.ErrSessionNotFound) {
		t.Fatalf("expected idle session to expire, got %v", err)
	}

	if _, err := state.Sessions.Get(ctx, "not-a-uuid"); !types.IsError(err, types.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for malformed id")
	}
}

type failingSetStore struct {
	types.Store
	fail bool
}

func (s *failingSetStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail {
		return types.ErrStorageOperationFailed
	}
	return s.Store.Set(ctx, key, value)
}

func TestSessionRenewalFailureIsLogged(t *testing.T) {
	srv := backendtest.New(t)
	cfg := config.NewLoader().Defaults()
	cfg.Backend = srv.Config()

	core, logs := observer.New(zap.WarnLevel)
	log := logger.NewZapWrapper(zap.New(core))
	api := backend.New(srv.Client(t, cfg.Backend), cfg.Backend, log)

	mem := storage.NewMemoryStore(log)
	if err := mem.Start(); err != nil {
		t.Fatalf("start store: %v", err)
	}
	store := &failingSetStore{Store: mem}

	state, err := NewState(context.Background(), cfg, store, api, log)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	ctx := context.Background()
	session, err := state.Sessions.Create(ctx, "tok", backend.User{Username: "admin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.fail = true
	if _, err := state.Sessions.Get(ctx, session.ID); err != nil {
		t.Fatalf("get should still succeed: %v", err)
	}

	if n := logs.FilterMessage("Session renewal failed").Len(); n != 1 {
		t.Fatalf("expected one renewal warning, got %d", n)
	}
}

func TestUnauthorizedDropsSession(t *testing.T) {
	state, srv, _ := newState(t)
	srv.JSON("GET", "/api/users", fasthttp.StatusUnauthorized, map[string]string{"message": "expired"})
	ctx := context.Background()

	session, _ := state.Sessions.Create(ctx, "tok", backend.User{Username: "admin"})

	_, err := state.Admin(session).Users(ctx)
	if !backend.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	state.Unauthorized(ctx, session)
	if _, err := state.Sessions.Get(ctx, session.ID); !types.IsError(err, types.ErrSessionNotFound) {
		t.Fatalf("session survived a 401")
	}
}

func TestDashboardAggregates(t *testing.T) {
	state, srv, _ := newState(t)
	srv.JSON("GET", "/api/penduduk/statistik", 200, backend.PopulationStats{TotalPenduduk: 100, TotalLakiLaki: 60, TotalPerempuan: 40, TotalKK: 25})
	srv.JSON("GET", "/api/artikel", 200, []backend.Article{{Status: "published"}, {Status: "draft"}})
	srv.JSON("GET", "/api/pengaduan", 200, []backend.Complaint{{Status: "pending"}, {Status: "selesai"}})
	srv.JSON("GET", "/api/apbdes/pendapatan", 200, []backend.BudgetEntry{{Anggaran: 1000}})
	srv.JSON("GET", "/api/apbdes/belanja", 200, []backend.BudgetEntry{{Anggaran: 400}})

	d, err := state.Dashboard(context.Background(), state.API.WithToken("t"), 2024)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}

	if d.Population.Ratio != "1.5 : 1 (L:P)" || d.Population.MalePercent != 60 {
		t.Fatalf("unexpected population %+v", d.Population)
	}
	if d.Articles != 2 || d.Published != 1 || d.Complaints != 2 || d.PendingComplaints != 1 {
		t.Fatalf("unexpected counters %+v", d)
	}
	if d.Budget.Balance != 600 {
		t.Fatalf("unexpected balance %v", d.Budget.Balance)
	}
}

func TestDashboardFailsWhenAnyCallFails(t *testing.T) {
	state, srv, _ := newState(t)
	srv.JSON("GET", "/api/penduduk/statistik", 200, backend.PopulationStats{})
	srv.JSON("GET", "/api/artikel", 200, []backend.Article{})
	srv.JSON("GET", "/api/apbdes/pendapatan", 200, []backend.BudgetEntry{})
	srv.JSON("GET", "/api/apbdes/belanja", 200, []backend.BudgetEntry{})

	if _, err := state.Dashboard(context.Background(), state.API, 2024); err == nil {
		t.Fatalf("expected error when complaints endpoint is missing")
	}
}

func TestStartWarmsCaches(t *testing.T) {
	state, srv, _ := newState(t)
	srv.JSON("GET", "/api/desa-config", 200, backend.DesaConfig{NamaDesa: "Sukamaju"})
	srv.JSON("GET", "/api/artikel", 200, []backend.Article{{Judul: "A"}})

	if err := state.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = state.Stop() }()

	if err := state.Start(); !types.IsError(err, types.ErrServiceIsRunning) {
		t.Fatalf("expected ErrServiceIsRunning, got %v", err)
	}

	_, _ = state.Config.Get(context.Background())
	_, _ = state.Articles.Home(context.Background())

	if srv.Count("GET", "/api/desa-config") != 1 || srv.Count("GET", "/api/artikel") != 1 {
		t.Fatalf("warm caches should serve later reads: %+v", srv.Requests())
	}
}

func TestStartToleratesBackendOutage(t *testing.T) {
	state, _, _ := newState(t)

	if err := state.Start(); err != nil {
		t.Fatalf("start must not fail on backend outage: %v", err)
	}
	if err := state.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if state.Store().IsRunning() {
		t.Fatalf("store should stop with the state")
	}
}
