// Package scheduler elects a master, keeps the per-monitor job queue primed
// and runs the worker pool that executes checks. Every process is a worker;
// exactly one is master and owns enqueueing.
package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulseguard/pulseguard/internal/db"
	"github.com/pulseguard/pulseguard/internal/logging"
	"github.com/pulseguard/pulseguard/internal/metrics"
)

// CheckRunner executes one check for a monitor. The runner package
// implements it.
type CheckRunner interface {
	Run(ctx context.Context, monitorID string) error
}

const (
	// SentinelEvery is how often the master sweeps for stranded monitors.
	SentinelEvery = 5 * time.Minute

	// sentinelMinBuffer is the grace period before a monitor counts as
	// stranded. Monitors with long intervals get the interval itself.
	sentinelMinBuffer = 2 * time.Minute

	defaultClaimTick = 250 * time.Millisecond
	defaultMaintTick = time.Second
)

type Scheduler struct {
	queue  *Queue
	lock   *Lock
	store  *db.Store
	runner CheckRunner
	log    *log.Logger
	debug  *log.Logger

	workers     int
	forceMaster bool
	master      atomic.Bool

	// Tick intervals, shortened in tests.
	claimTick time.Duration
	maintTick time.Duration
	lockTick  time.Duration
}

func New(queue *Queue, lock *Lock, store *db.Store, workers int, forceMaster bool) *Scheduler {
	return &Scheduler{
		queue:       queue,
		lock:        lock,
		store:       store,
		log:         logging.New("scheduler"),
		debug:       logging.Debug("scheduler"),
		workers:     workers,
		forceMaster: forceMaster,
		claimTick:   defaultClaimTick,
		maintTick:   defaultMaintTick,
		lockTick:    LockTTL / 2,
	}
}

// SetRunner wires the check runner. Must be called before Start; the runner
// and scheduler reference each other, so one side is set late.
func (s *Scheduler) SetRunner(r CheckRunner) {
	s.runner = r
}

// IsMaster reports whether this node currently holds the master lock.
func (s *Scheduler) IsMaster() bool {
	return s.master.Load()
}

// Start runs the election loop, the queue maintenance loop and the worker
// pool until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.masterLoop(ctx) })
	g.Go(func() error { return s.maintenanceLoop(ctx) })
	for i := 0; i < s.workers; i++ {
		g.Go(func() error { return s.workerLoop(ctx) })
	}

	s.log.Printf("started: %d workers, lock id %s", s.workers, s.lock.ID())
	err := g.Wait()
	if s.master.Load() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.lock.Release(releaseCtx)
	}
	return err
}

// ScheduleAfter re-arms the next periodic check. This is the runner's
// reschedule hook, so it must work from any node, master or not.
func (s *Scheduler) ScheduleAfter(monitorID string, delay time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.queue.Enqueue(ctx, monitorID, KindScheduled, delay)
	return err
}

// TriggerImmediate enqueues a high-priority check. Returns false when an
// immediate job for the monitor is already pending.
func (s *Scheduler) TriggerImmediate(ctx context.Context, monitorID string) (bool, error) {
	return s.queue.Enqueue(ctx, monitorID, KindImmediate, 0)
}

// RemoveMonitor evicts a deleted or deactivated monitor from the queue.
func (s *Scheduler) RemoveMonitor(ctx context.Context, monitorID string) error {
	return s.queue.RemoveMonitor(ctx, monitorID)
}

func (s *Scheduler) masterLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.lockTick)
	defer ticker.Stop()

	var lastSweep time.Time
	for {
		isMaster := s.forceMaster
		if !isMaster {
			var err error
			isMaster, err = s.lock.TryAcquire(ctx)
			if err != nil {
				s.debug.Printf("lock attempt: %v", err)
				isMaster = false
			}
		}

		wasMaster := s.master.Swap(isMaster)
		if isMaster && !wasMaster {
			s.log.Printf("became master")
			metrics.Master.Set(1)
			if err := s.startupSync(ctx); err != nil {
				s.log.Printf("startup sync: %v", err)
			}
			lastSweep = time.Now()
		}
		if !isMaster && wasMaster {
			s.log.Printf("lost master lock, standing by")
			metrics.Master.Set(0)
		}

		if isMaster && time.Since(lastSweep) >= SentinelEvery {
			s.sentinel(ctx)
			lastSweep = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// maintenanceLoop promotes due jobs, reclaims expired leases and reports
// queue depth. Runs only while master so promotion is single-writer.
func (s *Scheduler) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.maintTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !s.master.Load() {
			continue
		}

		if _, err := s.queue.Promote(ctx); err != nil && ctx.Err() == nil {
			s.debug.Printf("promote: %v", err)
		}
		if n, err := s.queue.Reclaim(ctx); err != nil && ctx.Err() == nil {
			s.debug.Printf("reclaim: %v", err)
		} else if n > 0 {
			s.log.Printf("reclaimed %d expired job leases", n)
		}

		if delayed, waiting, active, err := s.queue.Counts(ctx); err == nil {
			metrics.QueueJobs.WithLabelValues("delayed").Set(float64(delayed))
			metrics.QueueJobs.WithLabelValues("waiting").Set(float64(waiting))
			metrics.QueueJobs.WithLabelValues("active").Set(float64(active))
		}
	}
}

func (s *Scheduler) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobs, err := s.queue.Claim(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.debug.Printf("claim: %v", err)
			sleepCtx(ctx, s.claimTick)
			continue
		}
		if len(jobs) == 0 {
			sleepCtx(ctx, s.claimTick)
			continue
		}
		s.execute(ctx, jobs[0])
	}
}

// execute runs one claimed job, renewing its lease at half-life so a slow
// probe is not reclaimed out from under the worker.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(JobLease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.queue.ExtendLease(ctx, job.ID); err != nil {
					s.debug.Printf("lease renewal for %s: %v", job.ID, err)
				}
			}
		}
	}()

	if err := s.runner.Run(ctx, job.MonitorID); err != nil {
		s.log.Printf("check %s: %v", job.MonitorID, err)
	}
	close(done)

	completeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.Complete(completeCtx, job.ID); err != nil {
		s.debug.Printf("complete %s: %v", job.ID, err)
	}
}

// startupSync runs once per master tenure: drop every pending job (active
// ones drain), then rebuild the schedule from the store.
func (s *Scheduler) startupSync(ctx context.Context) error {
	purged, err := s.queue.Purge(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		s.log.Printf("purged %d stale jobs", purged)
	}

	monitors, err := s.store.GetActiveMonitors()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, m := range monitors {
		delay := resumeDelay(m, now)
		kind := KindScheduled
		if delay == 0 {
			kind = KindImmediate
		}
		if _, err := s.queue.Enqueue(ctx, m.ID, kind, delay); err != nil {
			s.log.Printf("sync enqueue %s: %v", m.ID, err)
		}
	}
	s.log.Printf("synced %d active monitors", len(monitors))
	return nil
}

// resumeDelay decides where a monitor resumes after a master change: never
// checked or overdue runs now, otherwise it picks up the remainder of its
// interval.
func resumeDelay(m db.Monitor, now time.Time) time.Duration {
	if m.LastChecked == nil {
		return 0
	}
	interval := time.Duration(m.Interval) * time.Second
	elapsed := now.Sub(*m.LastChecked)
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// sentinel reissues checks for monitors whose reschedule was lost. This is
// the safety net behind the runner's reschedule retries.
func (s *Scheduler) sentinel(ctx context.Context) {
	monitors, err := s.store.GetActiveMonitors()
	if err != nil {
		s.log.Printf("sentinel: %v", err)
		return
	}

	now := time.Now()
	for _, m := range monitors {
		if !stranded(m, now) {
			continue
		}
		s.log.Printf("sentinel reissuing stranded monitor %s", m.ID)
		if err := s.queue.RemoveMonitor(ctx, m.ID); err != nil {
			s.log.Printf("sentinel remove %s: %v", m.ID, err)
			continue
		}
		if _, err := s.queue.Enqueue(ctx, m.ID, KindImmediate, 0); err != nil {
			s.log.Printf("sentinel enqueue %s: %v", m.ID, err)
		}
	}
}

// stranded reports whether the monitor has gone too long without a check.
// The buffer absorbs normal jitter: max(2 minutes, one interval). New
// monitors get the strict 2 minute buffer from creation.
func stranded(m db.Monitor, now time.Time) bool {
	interval := time.Duration(m.Interval) * time.Second
	buffer := interval
	if buffer < sentinelMinBuffer {
		buffer = sentinelMinBuffer
	}
	if m.LastChecked == nil {
		return now.Sub(m.CreatedAt) > sentinelMinBuffer
	}
	return now.Sub(*m.LastChecked) > interval+buffer
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
