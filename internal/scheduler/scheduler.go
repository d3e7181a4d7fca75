// Package scheduler runs the periodic money jobs: auto-release on every tick,
// and the daily payout followed by aura decay once per UTC day.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"marketescrow/internal/config"
	"marketescrow/internal/errors"
	"marketescrow/internal/model"
	"marketescrow/internal/service"
)

const (
	autoReleaseLockKey = "scheduler:auto_release"
	dailyLockPrefix    = "scheduler:daily:"
	dailyLockTTL       = 25 * time.Hour
)

// Jobs is the payout work the scheduler drives.
type Jobs interface {
	ProcessAutoReleases(ctx context.Context, now time.Time) (service.AutoReleaseResult, error)
	ProcessDailyPayout(ctx context.Context, reference time.Time, force bool) (*model.PayoutBatch, error)
}

// Decayer applies the daily aura decay.
type Decayer interface {
	Decay(ctx context.Context, now time.Time) (int64, error)
}

// Locker elects one instance per job run. cache.Client satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) bool
	Unlock(ctx context.Context, key, owner string)
}

// Scheduler is safe to run on several instances when they share a Locker.
type Scheduler struct {
	jobs   Jobs
	decay  Decayer
	locker Locker
	policy config.Policy
	now    service.Clock
	owner  string

	lastDaily time.Time
}

// New creates a scheduler. A nil now uses the wall clock.
func New(jobs Jobs, decay Decayer, locker Locker, policy config.Policy, now service.Clock) *Scheduler {
	if now == nil {
		now = service.SystemClock
	}
	return &Scheduler{
		jobs:   jobs,
		decay:  decay,
		locker: locker,
		policy: policy,
		now:    now,
		owner:  uuid.NewString(),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.policy.SchedulerTick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.Printf("scheduler: started tick=%s payout_hour=%d", tick, s.policy.PayoutHourUTC)
	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			log.Printf("scheduler: stopped")
			return nil
		}
	}
}

// Tick runs whatever is due at the current time.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.autoRelease(ctx, now)
	s.daily(ctx, now)
}

func (s *Scheduler) autoRelease(ctx context.Context, now time.Time) {
	if !s.locker.TryLock(ctx, autoReleaseLockKey, s.owner, s.lockTTL()) {
		return
	}
	defer s.locker.Unlock(ctx, autoReleaseLockKey, s.owner)

	if _, err := s.jobs.ProcessAutoReleases(ctx, now); err != nil {
		log.Printf("scheduler: auto-release failed: %v", err)
	}
}

// daily runs the payout and then decay, once per UTC day after the payout hour.
func (s *Scheduler) daily(ctx context.Context, now time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if now.Hour() < s.policy.PayoutHourUTC || s.lastDaily.Equal(day) {
		return
	}
	key := dailyLockPrefix + day.Format("2006-01-02")
	if !s.locker.TryLock(ctx, key, s.owner, dailyLockTTL) {
		// Another instance owns today's run.
		s.lastDaily = day
		return
	}

	if _, err := s.jobs.ProcessDailyPayout(ctx, now, false); err != nil && !errors.Is(err, errors.ErrAlreadyProcessed) {
		log.Printf("scheduler: daily payout failed, retrying next tick: %v", err)
		s.locker.Unlock(ctx, key, s.owner)
		return
	}
	if _, err := s.decay.Decay(ctx, now); err != nil {
		log.Printf("scheduler: aura decay failed, retrying next tick: %v", err)
		s.locker.Unlock(ctx, key, s.owner)
		return
	}
	// The lock is kept until it expires so other instances skip the day.
	s.lastDaily = day
}

func (s *Scheduler) lockTTL() time.Duration {
	if s.policy.SchedulerTick > 0 {
		return 2 * s.policy.SchedulerTick
	}
	return 2 * time.Minute
}
