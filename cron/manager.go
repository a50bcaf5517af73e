package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

type registered struct {
	entry types.JobEntry
	job   types.CronJob
}

// Manager schedules refresh jobs. Every run gets a context derived from the
// manager's; Stop cancels all running jobs and waits for them.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	jobs            map[string]*registered
	mu              sync.RWMutex
	active          map[string]context.CancelFunc
	activeMu        sync.Mutex
	running         sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, config *types.CronConfig, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "cron")
	}

	timezone, err := time.LoadLocation(config.Timezone)
	if err != nil {
		logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", config.Timezone))
		timezone = time.UTC
	}

	jobTimeout := config.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		jobs:            make(map[string]*registered),
		active:          make(map[string]context.CancelFunc),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      jobTimeout,
	}
	m.state.Store(StateStopped)

	return m, nil
}

func (m *Manager) Add(jobName, spec string, job types.CronJob) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getState() == StateStopping {
		return types.ErrCronSchedulerStopped
	}
	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "%s", jobName)
	}

	id, err := m.cron.AddFunc(spec, func() { m.run(jobName) })
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	m.jobs[jobName] = &registered{
		entry: types.JobEntry{
			ID:      id,
			Name:    jobName,
			Spec:    spec,
			AddedAt: time.Now(),
			NextRun: m.cron.Entry(id).Next,
		},
		job: job,
	}

	m.logger.Info("Cron job added", zap.String("job_name", jobName), zap.String("spec", spec))
	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	reg, exists := m.jobs[jobName]
	if exists {
		m.cron.Remove(reg.entry.ID)
		delete(m.jobs, jobName)
	}
	m.mu.Unlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	m.cancelActive(jobName)
	return nil
}

// Trigger runs a registered job immediately on the caller's goroutine.
func (m *Manager) Trigger(jobName string) error {
	m.mu.RLock()
	_, exists := m.jobs[jobName]
	m.mu.RUnlock()

	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	return m.run(jobName)
}

func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.JobEntry, 0, len(m.jobs))
	for _, reg := range m.jobs {
		entry := reg.entry
		if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
			entry.NextRun = cronEntry.Next
		}
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrCronIsRunning
	}

	m.cron.Start()
	m.gauge("cron_scheduler_running", 1)
	m.logger.Info("Cron manager started", zap.Int("jobs", len(m.Jobs())))

	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer m.state.Store(StateStopped)

	m.cancel()

	m.activeMu.Lock()
	for name, cancel := range m.active {
		cancel()
		m.logger.Debug("Cancelled running job", zap.String("job_name", name))
	}
	m.activeMu.Unlock()

	stopCtx := m.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		m.running.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Cron manager stop timeout, jobs still running")
		return types.ErrCronJobTimeout
	}

	m.gauge("cron_scheduler_running", 0)
	m.logger.Info("Cron manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) run(jobName string) error {
	if m.ctx.Err() != nil {
		m.logger.Debug("Job skipped, scheduler stopped", zap.String("job_name", jobName))
		return types.ErrCronSchedulerStopped
	}

	m.mu.RLock()
	reg, exists := m.jobs[jobName]
	m.mu.RUnlock()
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "%s", jobName)
	}

	m.running.Add(1)
	defer m.running.Done()

	jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
	defer cancel()

	m.activeMu.Lock()
	if previous, ok := m.active[jobName]; ok {
		previous()
	}
	m.active[jobName] = cancel
	m.activeMu.Unlock()
	defer m.cancelActive(jobName)

	start := time.Now()
	err := m.invoke(jobCtx, reg.job)
	duration := time.Since(start)

	if err != nil && types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
		err = types.Errorf(types.ErrCronJobTimeout, "after %s: %v", m.jobTimeout, err)
	}

	m.finish(jobName, start, duration, err)
	return err
}

func (m *Manager) invoke(ctx context.Context, job types.CronJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "panic: %v", r)
		}
	}()
	return job(ctx)
}

func (m *Manager) finish(jobName string, start time.Time, duration time.Duration, err error) {
	m.mu.Lock()
	if reg, ok := m.jobs[jobName]; ok {
		e := &reg.entry
		e.LastRun = start
		e.LastDuration = duration
		e.TotalDuration += duration
		e.RunCount++
		e.AvgDuration = e.TotalDuration / time.Duration(e.RunCount)
		e.Error = err
	}
	m.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
		m.logger.Error("Cron job failed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}

	if m.metrics == nil {
		return
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.05, 0.1, 0.5, 1, 5, 30, 60},
		map[string]string{"job_name": jobName},
	).Observe(duration.Seconds())
}

func (m *Manager) cancelActive(jobName string) {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()

	if cancel, ok := m.active[jobName]; ok {
		cancel()
		delete(m.active, jobName)
	}
}

func (m *Manager) gauge(name string, value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge(name, nil).Set(value)
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
