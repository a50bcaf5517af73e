package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/storage"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

type fakeClient struct{ state string }

func (f fakeClient) Call(context.Context, string, string, interface{}, *types.CallOptions) ([]byte, int, error) {
	return nil, 0, errors.New("not used")
}
func (f fakeClient) BreakerState() string { return f.state }
func (f fakeClient) Close()               {}

func newManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()

	m := NewManager(context.Background(), &types.HealthConfig{Enabled: true, CheckTimeout: timeout},
		types.ServiceInfo{Name: "sai-desa", Version: "test"}, logger.NewNop())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestCheckAggregates(t *testing.T) {
	tests := []struct {
		name    string
		breaker string
		want    types.HealthStatus
	}{
		{"all healthy", "closed", types.StatusHealthy},
		{"breaker disabled", "disabled", types.StatusHealthy},
		{"recovering", "half-open", types.StatusUnknown},
		{"backend down", "open", types.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, time.Second)

			store := storage.NewMemoryStore(logger.NewNop())
			_ = store.Start()

			m.RegisterChecker("storage", StorageChecker(store))
			m.RegisterChecker("backend", BackendChecker(fakeClient{state: tt.breaker}))

			report := m.Check(context.Background())
			if report.Status != tt.want {
				t.Fatalf("status = %s, want %s", report.Status, tt.want)
			}
			if report.Summary.Total != 2 || report.Service.Name != "sai-desa" {
				t.Fatalf("unexpected report %+v", report)
			}
		})
	}
}

func TestStoppedStorageIsUnhealthy(t *testing.T) {
	m := newManager(t, time.Second)
	m.RegisterChecker("storage", StorageChecker(storage.NewMemoryStore(logger.NewNop())))

	report := m.Check(context.Background())
	if report.Checks["storage"].Status != types.StatusUnhealthy {
		t.Fatalf("expected unhealthy storage, got %+v", report.Checks["storage"])
	}
}

func TestSlowAndPanickingCheckers(t *testing.T) {
	m := newManager(t, 20*time.Millisecond)
	m.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		time.Sleep(200 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	m.RegisterChecker("panics", func(context.Context) types.HealthCheck { panic("boom") })

	report := m.Check(context.Background())
	if report.Checks["slow"].Message != "check timeout" {
		t.Fatalf("expected timeout, got %+v", report.Checks["slow"])
	}
	if report.Checks["panics"].Status != types.StatusUnhealthy {
		t.Fatalf("expected panic to be unhealthy")
	}
}

func TestHandler(t *testing.T) {
	m := newManager(t, time.Second)
	m.RegisterChecker("backend", BackendChecker(fakeClient{state: "open"}))

	var ctx fasthttp.RequestCtx
	m.Handler(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", ctx.Response.StatusCode())
	}

	var report types.HealthReport
	if err := utils.Unmarshal(ctx.Response.Body(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Checks["backend"].Details["breaker"] != "open" {
		t.Fatalf("unexpected details %+v", report.Checks["backend"])
	}
}
