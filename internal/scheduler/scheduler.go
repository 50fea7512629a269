// Package scheduler runs an agent's periodic measurement workers. Every
// dispatched task becomes a set of jobs, one per requested metric plus the
// hardware alert job, supervised together so a task can be stopped or
// replaced as a unit.
package scheduler

import (
	"context"
	"time"
)

// Job is a unit of work repeated on a fixed period.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Loop runs job immediately and then every job.Every until ctx is done.
// A run that overlaps a tick delays the next run rather than queueing it.
func Loop(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	job.Run(ctx)

	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job.Run(ctx)
		}
	}
}

func seconds(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Second
}
