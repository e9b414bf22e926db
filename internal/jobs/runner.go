// Package jobs runs the maintenance tasks that live outside the request and
// connection path: the typing safety-net scan, notification retention, and
// inquiry expiration. Each job owns its own timer goroutine with a
// Start/Stop lifecycle; a failed or panicking run is logged and counted and
// never cancels future runs or the hosting process.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/roamly/travel-app/internal/metrics"
)

// RunFunc is one job execution. The context carries the per-run timeout.
type RunFunc func(ctx context.Context) error

// Job is a named maintenance task on either an interval or a daily
// schedule.
type Job struct {
	name     string
	every    time.Duration // interval schedule; zero when daily
	hour     int           // daily schedule hour (local time); -1 when interval
	timeout  time.Duration // per-run timeout
	run      RunFunc
	done     chan struct{}
	stopped  chan struct{}
}

// NewInterval creates a job that runs every `every`.
func NewInterval(name string, every time.Duration, run RunFunc) *Job {
	return &Job{
		name:    name,
		every:   every,
		hour:    -1,
		timeout: every,
		run:     run,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// NewDaily creates a job that runs once a day at the given local hour.
// Daily hours are staggered across jobs so the sweeps never overlap.
func NewDaily(name string, hour int, run RunFunc) *Job {
	return &Job{
		name:    name,
		hour:    hour,
		timeout: 10 * time.Minute,
		run:     run,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Name returns the job name.
func (j *Job) Name() string {
	return j.name
}

// Start launches the job's timer goroutine and returns immediately.
func (j *Job) Start() {
	go j.loop()
	if j.hour >= 0 {
		log.Printf("jobs: %s scheduled daily at %02d:00", j.name, j.hour)
	} else {
		log.Printf("jobs: %s scheduled every %s", j.name, j.every)
	}
}

// Stop signals the job to exit and waits for the goroutine to finish. A run
// in flight completes (or times out) first.
func (j *Job) Stop() {
	close(j.done)
	<-j.stopped
}

func (j *Job) loop() {
	defer close(j.stopped)

	if j.hour < 0 {
		ticker := time.NewTicker(j.every)
		defer ticker.Stop()
		for {
			select {
			case <-j.done:
				return
			case <-ticker.C:
				j.runOnce()
			}
		}
	}

	for {
		timer := time.NewTimer(time.Until(nextDaily(time.Now(), j.hour)))
		select {
		case <-j.done:
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce()
		}
	}
}

// runOnce executes one run with panic recovery. Failures are contained
// here: logged, counted, forgotten.
func (j *Job) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			metrics.JobRuns.WithLabelValues(j.name, "panic").Inc()
			log.Printf("jobs: %s panicked: %v", j.name, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.run(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(j.name, "error").Inc()
		log.Printf("jobs: %s run failed: %v", j.name, err)
		return
	}
	metrics.JobRuns.WithLabelValues(j.name, "ok").Inc()
}

// nextDaily returns the next occurrence of the given hour after now.
func nextDaily(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
