package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	service      types.ServiceInfo
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config *types.HealthConfig, service types.ServiceInfo, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	timeout := 5 * time.Second
	if config != nil && config.CheckTimeout > 0 {
		timeout = config.CheckTimeout
	}

	m := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		service:      service,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: timeout,
	}
	m.state.Store(StateStopped)

	return m
}

func (m *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkers[name] = checker
}

// Check runs every checker concurrently, each bounded by the check timeout.
func (m *Manager) Check(ctx context.Context) types.HealthReport {
	m.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := m.execute(gCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return m.report(results)
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	m.startTime = time.Now()
	m.logger.Info("Health manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	m.cancel()
	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

// Handler answers with the JSON report; 503 when anything is unhealthy.
func (m *Manager) Handler(ctx *fasthttp.RequestCtx) {
	if !m.IsRunning() {
		utils.CreateJSONError(ctx, fasthttp.StatusServiceUnavailable, types.ErrHealthIsNotRunning.Error())
		return
	}

	report := m.Check(m.ctx)

	body, err := utils.Marshal(report)
	if err != nil {
		m.logger.Error("Failed to encode health report", zap.Error(err))
		utils.CreateJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func (m *Manager) VersionHandler(ctx *fasthttp.RequestCtx) {
	body, _ := utils.Marshal(types.VersionInfo{
		Version:   m.service.Version,
		BuildInfo: buildInfo(),
	})

	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (m *Manager) execute(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("check panicked: %v", r),
				}
			}
		}()
		resultChan <- checker(checkCtx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-m.ctx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "health manager shutting down"}
	case <-checkCtx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "check timeout"}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)

	return result
}

func (m *Manager) report(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{Total: len(results)}

	overall := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overall = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overall == types.StatusHealthy {
				overall = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime),
		Service:   m.service,
		Checks:    results,
		Summary:   summary,
	}
}
