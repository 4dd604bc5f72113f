// Package scheduler runs the monthly late-comers reset on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"latecomers/internal/ledger"
)

// lockTTL outlives a month so a finished run is not repeated in the same period.
const lockTTL = 32 * 24 * time.Hour

// Resetter is the job the scheduler fires.
type Resetter interface {
	ResetMonthly(ctx context.Context) (int, error)
}

// Locker claims a run across replicas. store.Redis satisfies it.
type Locker interface {
	AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Options configure the schedule.
type Options struct {
	Schedule string
	Timeout  time.Duration
	Location *time.Location
}

// Scheduler wraps a cron runner firing the monthly reset.
type Scheduler struct {
	cron    *cron.Cron
	reset   Resetter
	lock    Locker
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time
}

// New registers the monthly reset. lock may be nil for single-replica runs.
func New(reset Resetter, lock Locker, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Minute
	}
	s := &Scheduler{
		reset:   reset,
		lock:    lock,
		timeout: opts.Timeout,
		loc:     opts.Location,
		now:     time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := s.cron.AddFunc(opts.Schedule, s.fire); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", opts.Schedule, err)
	}
	log.Printf("[SCHEDULER] monthly reset schedule=%q tz=%s timeout=%s", opts.Schedule, opts.Location, opts.Timeout)
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.RunMonthly(ctx); err != nil {
		log.Printf("[SCHEDULER] monthly reset error: %v", err)
	}
}

// LockKey is the claim key of the monthly reset for a period tag.
func LockKey(period string) string {
	return "latecomers:reset:monthly:" + period
}

// RunMonthly performs one monthly reset, claiming the current period first
// when a locker is configured. An unreachable locker does not skip the run.
// A failed run releases its claim so it can be retried.
func (s *Scheduler) RunMonthly(ctx context.Context) error {
	key := LockKey(ledger.PeriodOf(s.now().In(s.loc)))
	claimed := false
	if s.lock != nil {
		ok, err := s.lock.AcquireOnce(ctx, key, lockTTL)
		switch {
		case err != nil:
			log.Printf("[SCHEDULER] claim %s: %v, running without the lock", key, err)
		case !ok:
			log.Printf("[SCHEDULER] %s already claimed, skipping", key)
			return nil
		default:
			claimed = true
		}
	}

	n, err := s.reset.ResetMonthly(ctx)
	if err != nil {
		if claimed {
			if rerr := s.lock.Release(context.Background(), key); rerr != nil {
				log.Printf("[SCHEDULER] release %s: %v", key, rerr)
			}
		}
		return err
	}
	log.Printf("[SCHEDULER] monthly reset done, %d documents", n)
	return nil
}
