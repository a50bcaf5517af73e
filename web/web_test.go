package web

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/backend/backendtest"
	"github.com/saiset-co/sai-desa/config"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/middleware"
	"github.com/saiset-co/sai-desa/portal"
	"github.com/saiset-co/sai-desa/server"
	"github.com/saiset-co/sai-desa/storage"
	"github.com/saiset-co/sai-desa/types"
)

type env struct {
	backend *backendtest.Server
	state   *portal.State
	handler fasthttp.RequestHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	ctx := context.Background()
	srv := backendtest.New(t)
	cfg := config.NewLoader().Defaults()
	cfg.Backend = srv.Config()

	log := logger.NewNop()
	store := storage.NewMemoryStore(log)
	if err := store.Start(); err != nil {
		t.Fatalf("start store: %v", err)
	}

	state, err := portal.NewState(ctx, cfg, store, backend.New(srv.Client(t, cfg.Backend), cfg.Backend, log), log)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	h, err := New(ctx, state, log, WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	router := server.NewRouter()
	h.Register(router)
	if err := router.FinalizePendingRoutes(); err != nil {
		t.Fatalf("finalize routes: %v", err)
	}

	mw := middleware.NewManager(ctx, &types.MiddlewaresConfig{
		Enabled:  true,
		Recovery: &types.MiddlewareItemConfig{Enabled: true, Weight: 10},
		Auth:     &types.MiddlewareItemConfig{Enabled: true, Weight: 60},
	}, log, nil, state)
	if err := mw.RegisterMiddlewares(); err != nil {
		t.Fatalf("register middlewares: %v", err)
	}
	t.Cleanup(mw.Clear)

	httpServer, err := server.NewHTTPServer(ctx, cfg.Server, log, mw, nil, router, server.WithNotFound(h.NotFound))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	srv.JSON("GET", "/api/desa-config", 200, map[string]interface{}{
		"data": backend.DesaConfig{NamaDesa: "Sukamaju", Kecamatan: "Cibiru", TahunAnggaran: 2024},
	})

	return &env{backend: srv, state: state, handler: httpServer.Handler()}
}

func (e *env) do(method, uri string, form url.Values, session string) *fasthttp.Response {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.Header.SetHost("desa.test")
	ctx.Request.SetRequestURI(uri)
	if form != nil {
		ctx.Request.Header.SetContentType("application/x-www-form-urlencoded")
		ctx.Request.SetBodyString(form.Encode())
	}
	if session != "" {
		ctx.Request.Header.SetCookie(e.state.SessionCookie(), session)
	}

	e.handler(&ctx)

	resp := &fasthttp.Response{}
	ctx.Response.CopyTo(resp)
	return resp
}

// login plants a live session directly in the store.
func (e *env) login(t *testing.T) *portal.Session {
	t.Helper()

	session, err := e.state.Sessions.Create(context.Background(), "token-1", backend.User{Username: "admin"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func location(resp *fasthttp.Response) string {
	return string(resp.Header.Peek("Location"))
}

func sessionCookie(resp *fasthttp.Response, name string) (string, bool) {
	var c fasthttp.Cookie
	c.SetKey(name)
	if !resp.Header.Cookie(&c) {
		return "", false
	}
	return string(c.Value()), true
}

func TestPublicPagesRender(t *testing.T) {
	e := newEnv(t)
	e.backend.JSON("GET", "/api/artikel", 200, []backend.Article{
		{ID: 1, Judul: "Panen Raya", Ringkasan: "Hasil panen melimpah", Status: "published"},
	})
	e.backend.JSON("GET", "/api/fasilitas", 200, []backend.Facility{{ID: 1, Nama: "Puskesmas", Jenis: "kesehatan"}})
	e.backend.JSON("GET", "/api/potensi", 200, []backend.Potential{{ID: 1, Nama: "Kopi", Kategori: "pertanian"}})

	tests := []struct {
		path string
		want string
	}{
		{"/", "Panen Raya"},
		{"/profil", "Cibiru"},
		{"/artikel", "Hasil panen melimpah"},
		{"/peta", "Puskesmas"},
		{"/layanan/surat", "Surat Keterangan Domisili"},
		{"/pengaduan", "Isi pengaduan"},
		{"/admin/login", "Password"},
	}

	for _, tt := range tests {
		resp := e.do("GET", tt.path, nil, "")
		if resp.StatusCode() != 200 {
			t.Fatalf("%s: status %d", tt.path, resp.StatusCode())
		}
		body := string(resp.Body())
		if !strings.Contains(body, tt.want) {
			t.Fatalf("%s: body does not contain %q", tt.path, tt.want)
		}
		if !strings.Contains(body, "Sukamaju") {
			t.Fatalf("%s: village name missing", tt.path)
		}
	}
}

func TestInfographicsShowsRatioAndPercentages(t *testing.T) {
	e := newEnv(t)
	e.backend.JSON("GET", "/api/penduduk/statistik", 200, map[string]interface{}{
		"data": backend.PopulationStats{TotalPenduduk: 100, TotalLakiLaki: 60, TotalPerempuan: 40, TotalKK: 25},
	})
	e.backend.JSON("GET", "/api/idm", 200, []backend.IDMScore{
		{Tahun: 2023, Skor: 0.70, Status: "Maju"},
		{Tahun: 2022, Skor: 0.65, Status: "Berkembang"},
	})

	resp := e.do("GET", "/infografis", nil, "")
	if resp.StatusCode() != 200 {
		t.Fatalf("status %d", resp.StatusCode())
	}

	body := string(resp.Body())
	for _, want := range []string{"1.5 : 1 (L:P)", "60%", "40%", "4.0", "Maju"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body does not contain %q", want)
		}
	}
}

func TestBackendFailureShowsErrorStateWithRetry(t *testing.T) {
	e := newEnv(t)
	e.backend.JSON("GET", "/api/penduduk/statistik", 500, map[string]string{"message": "database offline"})
	e.backend.JSON("GET", "/api/idm", 200, []backend.IDMScore{})

	resp := e.do("GET", "/infografis?x=1", nil, "")
	if resp.StatusCode() != fasthttp.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode())
	}

	body := string(resp.Body())
	if !strings.Contains(body, "database offline") {
		t.Fatalf("backend message missing")
	}
	if !strings.Contains(body, `href="/infografis?x=1"`) || !strings.Contains(body, "Coba lagi") {
		t.Fatalf("retry link missing")
	}
}

func TestArticleNotFound(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/artikel/abc", "/artikel/99", "/tidak-ada"} {
		if resp := e.do("GET", path, nil, ""); resp.StatusCode() != 404 {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode())
		}
	}
}

func TestLetterFormValidation(t *testing.T) {
	e := newEnv(t)

	resp := e.do("POST", "/layanan/surat", url.Values{"nama": {"Budi"}, "nik": {"123"}}, "")
	if resp.StatusCode() != fasthttp.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode())
	}

	body := string(resp.Body())
	for _, want := range []string{"NIK harus 16 digit angka", "Pilih jenis surat", "Keperluan wajib diisi", `value="Budi"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body does not contain %q", want)
		}
	}
	if e.backend.Count("POST", "/api/surat") != 0 {
		t.Fatalf("invalid form must not reach the backend")
	}
}

func TestLetterFormSubmission(t *testing.T) {
	valid := url.Values{
		"nama":        {"Budi"},
		"nik":         {"3201010101010001"},
		"jenis_surat": {"Surat Keterangan Usaha"},
		"keperluan":   {"Pengajuan modal"},
	}

	t.Run("accepted", func(t *testing.T) {
		e := newEnv(t)
		e.backend.JSON("POST", "/api/surat", 201, map[string]string{"message": "ok"})

		resp := e.do("POST", "/layanan/surat", valid, "")
		if resp.StatusCode() != fasthttp.StatusSeeOther || !strings.Contains(location(resp), "/layanan/surat?terkirim=1") {
			t.Fatalf("expected redirect, got %d %q", resp.StatusCode(), location(resp))
		}
	})

	t.Run("rejected by backend", func(t *testing.T) {
		e := newEnv(t)
		e.backend.JSON("POST", "/api/surat", 422, map[string]interface{}{
			"message": "Data tidak valid",
			"errors":  map[string]interface{}{"nik": []string{"NIK tidak terdaftar"}},
		})

		resp := e.do("POST", "/layanan/surat", valid, "")
		if resp.StatusCode() != fasthttp.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", resp.StatusCode())
		}
		body := string(resp.Body())
		if !strings.Contains(body, "NIK tidak terdaftar") || !strings.Contains(body, "Data tidak valid") {
			t.Fatalf("backend messages missing")
		}
	})
}

func TestLoginCreatesSession(t *testing.T) {
	e := newEnv(t)
	e.backend.JSON("POST", "/api/auth/login", 200, backend.LoginResponse{
		Token: "secret",
		User:  backend.User{Username: "admin", Role: "admin"},
	})

	resp := e.do("POST", "/admin/login", url.Values{"username": {"admin"}, "password": {"rahasia"}}, "")
	if resp.StatusCode() != fasthttp.StatusSeeOther || !strings.HasSuffix(location(resp), "/admin") {
		t.Fatalf("expected redirect to dashboard, got %d %q", resp.StatusCode(), location(resp))
	}

	id, ok := sessionCookie(resp, e.state.SessionCookie())
	if !ok || id == "" {
		t.Fatalf("session cookie not set")
	}

	session, err := e.state.Sessions.Get(context.Background(), id)
	if err != nil || session.Token != "secret" {
		t.Fatalf("session: %v %+v", err, session)
	}
}

func TestLoginRejected(t *testing.T) {
	e := newEnv(t)
	e.backend.JSON("POST", "/api/auth/login", 401, map[string]string{"message": "Username atau password salah"})

	resp := e.do("POST", "/admin/login", url.Values{"username": {"admin"}, "password": {"keliru"}}, "")
	if resp.StatusCode() != fasthttp.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode())
	}

	body := string(resp.Body())
	if !strings.Contains(body, "Username atau password salah") {
		t.Fatalf("backend message missing")
	}
	if strings.Contains(body, "keliru") {
		t.Fatalf("password echoed back")
	}
}

func TestAdminRequiresSession(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/admin", "/admin/artikel", "/admin/konfigurasi"} {
		resp := e.do("GET", path, nil, "")
		if resp.StatusCode() != fasthttp.StatusSeeOther || !strings.HasSuffix(location(resp), "/admin/login") {
			t.Fatalf("%s: expected login redirect, got %d %q", path, resp.StatusCode(), location(resp))
		}
	}
}

func TestDashboardWithSession(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)

	e.backend.JSON("GET", "/api/penduduk/statistik", 200, backend.PopulationStats{TotalPenduduk: 10, TotalLakiLaki: 5, TotalPerempuan: 5})
	e.backend.JSON("GET", "/api/artikel", 200, []backend.Article{{ID: 1, Status: "published"}, {ID: 2, Status: "draft"}})
	e.backend.JSON("GET", "/api/pengaduan", 200, []backend.Complaint{{ID: 1, Judul: "Jalan rusak", Status: "baru"}})
	e.backend.JSON("GET", "/api/apbdes/pendapatan", 200, []backend.BudgetEntry{{Kategori: "Dana Desa", Anggaran: 1000000}})
	e.backend.JSON("GET", "/api/apbdes/belanja", 200, []backend.BudgetEntry{})

	resp := e.do("GET", "/admin", nil, session.ID)
	if resp.StatusCode() != 200 {
		t.Fatalf("status %d", resp.StatusCode())
	}

	body := string(resp.Body())
	for _, want := range []string{"Jalan rusak", "Keluar (admin)", "1.0 : 1 (L:P)"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body does not contain %q", want)
		}
	}

	for _, r := range e.backend.Requests() {
		if r.Path == "/api/pengaduan" && r.Auth != "Bearer token-1" {
			t.Fatalf("admin call without token: %q", r.Auth)
		}
	}
}

func TestBackendUnauthorizedEndsSession(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)
	e.backend.JSON("GET", "/api/artikel", 401, map[string]string{"message": "token expired"})

	resp := e.do("GET", "/admin/artikel", nil, session.ID)
	if resp.StatusCode() != fasthttp.StatusSeeOther || !strings.HasSuffix(location(resp), "/admin/login") {
		t.Fatalf("expected login redirect, got %d %q", resp.StatusCode(), location(resp))
	}

	if value, ok := sessionCookie(resp, e.state.SessionCookie()); !ok || value != "" {
		t.Fatalf("session cookie not cleared: %q %v", value, ok)
	}

	if _, err := e.state.Sessions.Get(context.Background(), session.ID); err == nil {
		t.Fatalf("session still alive")
	}
}

func TestUnknownResourceIs404(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)

	if resp := e.do("GET", "/admin/tidakada", nil, session.ID); resp.StatusCode() != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode())
	}
	if resp := e.do("GET", "/admin/chatbot/1", nil, session.ID); resp.StatusCode() != 404 {
		t.Fatalf("read-only edit: expected 404, got %d", resp.StatusCode())
	}
}

func TestResourceCreateRedirectsAndInvalidatesArticles(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)
	e.backend.JSON("GET", "/api/artikel", 200, []backend.Article{{ID: 1, Judul: "Lama", Status: "published"}})
	e.backend.JSON("POST", "/api/artikel", 201, map[string]interface{}{"id": 2})

	if _, err := e.state.Articles.Home(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	before := e.backend.Count("GET", "/api/artikel")

	resp := e.do("POST", "/admin/artikel", url.Values{
		"judul":  {"Baru"},
		"konten": {"Isi artikel baru."},
		"status": {"published"},
	}, session.ID)
	if resp.StatusCode() != fasthttp.StatusSeeOther || !strings.Contains(location(resp), "/admin/artikel?tersimpan=1") {
		t.Fatalf("expected redirect, got %d %q", resp.StatusCode(), location(resp))
	}

	if _, err := e.state.Articles.Home(context.Background()); err != nil {
		t.Fatalf("home: %v", err)
	}
	if got := e.backend.Count("GET", "/api/artikel"); got != before+1 {
		t.Fatalf("expected home articles refetch, calls %d -> %d", before, got)
	}
}

func TestConfigUpdateInvalidatesCache(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)
	e.backend.JSON("PUT", "/api/desa-config", 200, map[string]string{"message": "ok"})

	if _, err := e.state.Config.Get(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	before := e.backend.Count("GET", "/api/desa-config")

	resp := e.do("POST", "/admin/konfigurasi", url.Values{
		"nama_desa":      {"Sukamaju"},
		"kepala_desa":    {"Pak Lurah"},
		"tahun_anggaran": {"2024"},
		"latitude":       {"-6.9"},
		"longitude":      {"107.6"},
	}, session.ID)
	if resp.StatusCode() != fasthttp.StatusSeeOther {
		t.Fatalf("expected redirect, got %d: %s", resp.StatusCode(), resp.Body())
	}

	if _, err := e.state.Config.Get(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := e.backend.Count("GET", "/api/desa-config"); got != before+1 {
		t.Fatalf("expected refetch after update, calls %d -> %d", before, got)
	}

	put := e.backend.Requests()
	var body string
	for _, r := range put {
		if r.Method == "PUT" {
			body = string(r.Body)
		}
	}
	if !strings.Contains(body, `"tahun_anggaran":2024`) {
		t.Fatalf("numbers not sent as numbers: %s", body)
	}
}

func TestComplaintStatusRejectsUnknownStatus(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)
	e.backend.JSON("PUT", "/api/pengaduan/7/status", 200, map[string]string{})

	e.do("POST", "/admin/pengaduan/7/status", url.Values{"status": {"hilang"}}, session.ID)
	if e.backend.Count("PUT", "/api/pengaduan/7/status") != 0 {
		t.Fatalf("invalid status reached the backend")
	}

	resp := e.do("POST", "/admin/pengaduan/7/status", url.Values{"status": {"selesai"}}, session.ID)
	if resp.StatusCode() != fasthttp.StatusSeeOther || e.backend.Count("PUT", "/api/pengaduan/7/status") != 1 {
		t.Fatalf("status update not forwarded: %d", resp.StatusCode())
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	e := newEnv(t)
	session := e.login(t)

	resp := e.do("POST", "/admin/logout", nil, session.ID)
	if resp.StatusCode() != fasthttp.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", resp.StatusCode())
	}
	if _, err := e.state.Sessions.Get(context.Background(), session.ID); err == nil {
		t.Fatalf("session still alive after logout")
	}
}
