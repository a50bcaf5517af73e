package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-desa/backend/backendtest"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/types"
)

func newAPI(t *testing.T) (*API, *backendtest.Server) {
	t.Helper()

	srv := backendtest.New(t)
	cfg := srv.Config()
	return New(srv.Client(t, cfg), cfg, logger.NewNop()), srv
}

func TestDecodeAcceptsBareAndEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare", `{"total_penduduk":100,"total_laki_laki":60,"total_perempuan":40,"total_kk":25}`},
		{"envelope", `{"data":{"total_penduduk":100,"total_laki_laki":60,"total_perempuan":40,"total_kk":25}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stats PopulationStats
			if err := decode([]byte(tt.body), &stats); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if stats.TotalPenduduk != 100 || stats.TotalKK != 25 {
				t.Fatalf("unexpected stats %+v", stats)
			}
		})
	}
}

func TestPopulationStatsRetriesTwice(t *testing.T) {
	api, srv := newAPI(t)

	calls := 0
	srv.Handle("GET", "/api/penduduk/statistik", func(ctx *fasthttp.RequestCtx) {
		calls++
		if calls < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"data":{"total_penduduk":100,"total_laki_laki":60,"total_perempuan":40,"total_kk":25}}`)
	})

	stats, err := api.PopulationStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalLakiLaki != 60 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := srv.Count("GET", "/api/penduduk/statistik"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestPopulationStatsFailsAfterRetries(t *testing.T) {
	api, srv := newAPI(t)
	srv.JSON("GET", "/api/penduduk/statistik", fasthttp.StatusServiceUnavailable, map[string]string{"message": "down"})

	if _, err := api.PopulationStats(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := srv.Count("GET", "/api/penduduk/statistik"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestOtherCallsDoNotRetry(t *testing.T) {
	api, srv := newAPI(t)
	srv.JSON("GET", "/api/idm", fasthttp.StatusServiceUnavailable, nil)

	_, _ = api.IDM(context.Background())
	if got := srv.Count("GET", "/api/idm"); got != 1 {
		t.Fatalf("expected single attempt, got %d", got)
	}
}

func TestUnauthorizedAndAPIError(t *testing.T) {
	api, srv := newAPI(t)
	srv.JSON("GET", "/api/users", fasthttp.StatusUnauthorized, map[string]string{"message": "Token expired"})
	srv.JSON("POST", "/api/penduduk", fasthttp.StatusUnprocessableEntity, map[string]interface{}{
		"message": "NIK sudah terdaftar",
		"errors":  map[string]interface{}{"nik": []string{"NIK sudah terdaftar"}},
	})

	admin := api.WithToken("secret")

	_, err := admin.Users(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	res, _ := LookupResource("penduduk")
	err = admin.Create(context.Background(), res, Record{"nik": "1"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 422 || apiErr.Message != "NIK sudah terdaftar" || apiErr.Fields["nik"] != "NIK sudah terdaftar" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}

	for _, r := range srv.Requests() {
		if r.Auth != "Bearer secret" {
			t.Fatalf("request %s %s without bearer token", r.Method, r.Path)
		}
	}
}

func TestAPIErrorFallsBackToStatusText(t *testing.T) {
	err := newAPIError(fasthttp.StatusNotFound, []byte("<html>"))
	if err.Message != "Not Found" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if !types.IsError(err, types.ErrBackendNotFound) {
		t.Fatalf("404 should unwrap to ErrBackendNotFound")
	}
}

func TestPublishedArticlesAndBudgetQueries(t *testing.T) {
	api, srv := newAPI(t)
	srv.JSON("GET", "/api/artikel", 200, []Article{{ID: 1, Judul: "Musdes"}})
	srv.JSON("GET", "/api/apbdes/belanja", 200, map[string]interface{}{"data": []BudgetEntry{{Tahun: 2024, Anggaran: 1000}}})

	articles, err := api.PublishedArticles(context.Background())
	if err != nil || len(articles) != 1 || articles[0].Judul != "Musdes" {
		t.Fatalf("articles: %v %+v", err, articles)
	}

	entries, err := api.Expense(context.Background(), 2024)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expense: %v %+v", err, entries)
	}

	var queries []string
	for _, r := range srv.Requests() {
		queries = append(queries, r.Query)
	}
	if strings.Join(queries, "|") != "status=published|tahun=2024" {
		t.Fatalf("unexpected queries %v", queries)
	}
}

func TestReadOnlyResource(t *testing.T) {
	api, srv := newAPI(t)
	res, _ := LookupResource("chatbot")

	if err := api.Delete(context.Background(), res, "1"); !types.IsError(err, types.ErrResourceReadOnly) {
		t.Fatalf("expected ErrResourceReadOnly, got %v", err)
	}
	if len(srv.Requests()) != 0 {
		t.Fatalf("read-only guard must not reach the backend")
	}
}

func TestIDsAreEscapedInBackendPaths(t *testing.T) {
	api, srv := newAPI(t)
	ctx := context.Background()
	penduduk, _ := LookupResource("penduduk")

	_, _ = api.Article(ctx, "1?x=2")
	_ = api.Delete(ctx, penduduk, "7#catatan")
	_ = api.UpdateComplaintStatus(ctx, "5 6", "selesai")

	want := []struct {
		method string
		path   string
	}{
		{"GET", "/api/artikel/1?x=2"},
		{"DELETE", "/api/penduduk/7#catatan"},
		{"PUT", "/api/pengaduan/5 6/status"},
	}

	requests := srv.Requests()
	if len(requests) != len(want) {
		t.Fatalf("expected %d requests, got %+v", len(want), requests)
	}
	for i, w := range want {
		r := requests[i]
		if r.Method != w.method || r.Path != w.path || r.Query != "" {
			t.Fatalf("request %d = %s %q query %q, want %s %q", i, r.Method, r.Path, r.Query, w.method, w.path)
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	r := Record{"id": float64(42), "jumlah": 1.5, "nama": "Budi"}
	if r.ID() != "42" || r.String("jumlah") != "1.5" || r.String("nama") != "Budi" || r.String("none") != "" {
		t.Fatalf("unexpected helpers output")
	}
}
