package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/types"
)

func newManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), &types.CronConfig{
		Enabled:    true,
		Timezone:   "Asia/Jakarta",
		JobTimeout: timeout,
	}, logger.NewNop(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAddValidation(t *testing.T) {
	m := newManager(t, time.Second)
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name string
		job  string
		spec string
		fn   types.CronJob
		want error
	}{
		{"empty name", "", "* * * * * *", noop, types.ErrCronJobNameIsEmpty},
		{"empty spec", "a", "", noop, types.ErrCronExpressionInvalid},
		{"nil job", "a", "* * * * * *", nil, types.ErrCronJobIsNil},
		{"bad spec", "a", "every day", noop, types.ErrCronExpressionInvalid},
	}

	for _, tt := range tests {
		if err := m.Add(tt.job, tt.spec, tt.fn); !types.IsError(err, tt.want) {
			t.Fatalf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}

	if err := m.Add("refresh-desa-config", "0 */5 * * * *", noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add("refresh-desa-config", "0 */5 * * * *", noop); !types.IsError(err, types.ErrCronJobExists) {
		t.Fatalf("expected ErrCronJobExists, got %v", err)
	}
}

func TestTriggerRecordsStats(t *testing.T) {
	m := newManager(t, time.Second)
	boom := errors.New("backend down")
	fail := true

	_ = m.Add("refresh-home-articles", "30 */5 * * * *", func(context.Context) error {
		if fail {
			return boom
		}
		return nil
	})

	if err := m.Trigger("refresh-home-articles"); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	fail = false
	if err := m.Trigger("refresh-home-articles"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	jobs := m.Jobs()
	if len(jobs) != 1 || jobs[0].RunCount != 2 || jobs[0].Error != nil {
		t.Fatalf("unexpected stats %+v", jobs)
	}

	if err := m.Trigger("missing"); !types.IsError(err, types.ErrCronJobNotFound) {
		t.Fatalf("expected ErrCronJobNotFound, got %v", err)
	}
}

func TestJobPanicBecomesError(t *testing.T) {
	m := newManager(t, time.Second)
	_ = m.Add("panics", "0 0 * * * *", func(context.Context) error { panic("boom") })

	if err := m.Trigger("panics"); !types.IsError(err, types.ErrCronJobFailed) {
		t.Fatalf("expected ErrCronJobFailed, got %v", err)
	}
}

func TestJobTimeout(t *testing.T) {
	m := newManager(t, 20*time.Millisecond)
	_ = m.Add("slow", "0 0 * * * *", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := m.Trigger("slow"); !types.IsError(err, types.ErrCronJobTimeout) {
		t.Fatalf("expected ErrCronJobTimeout, got %v", err)
	}
}

func TestScheduledRunAndStopCancels(t *testing.T) {
	m := newManager(t, time.Minute)

	var (
		runs      int32
		cancelled int32
	)

	_ = m.Add("every-second", "* * * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-ctx.Done()
		atomic.AddInt32(&cancelled, 1)
		return ctx.Err()
	})

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&runs) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&runs) == 0 {
		t.Fatalf("job never ran")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if atomic.LoadInt32(&cancelled) != atomic.LoadInt32(&runs) {
		t.Fatalf("stop returned before running jobs were cancelled")
	}
	if m.IsRunning() {
		t.Fatalf("manager still running")
	}

	if err := m.Trigger("every-second"); !types.IsError(err, types.ErrCronSchedulerStopped) {
		t.Fatalf("expected ErrCronSchedulerStopped after stop, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	m := newManager(t, time.Second)
	_ = m.Add("a", "0 0 * * * *", func(context.Context) error { return nil })

	if err := m.Remove("a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := m.Remove("a"); !types.IsError(err, types.ErrCronJobNotFound) {
		t.Fatalf("expected ErrCronJobNotFound, got %v", err)
	}
}
