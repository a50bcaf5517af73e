package types

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// CronJob receives a context that is cancelled when the job times out or the
// scheduler stops.
type CronJob func(ctx context.Context) error

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job CronJob) error
	Remove(jobName string) error
	Jobs() []JobEntry
}

type JobEntry struct {
	ID            cron.EntryID
	Name          string
	Spec          string
	AddedAt       time.Time
	LastRun       time.Time
	NextRun       time.Time
	LastDuration  time.Duration
	TotalDuration time.Duration
	AvgDuration   time.Duration
	RunCount      int64
	Error         error
}
