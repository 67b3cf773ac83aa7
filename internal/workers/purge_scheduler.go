package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/propertyhub-dev/propertyhub/internal/tasks"
)

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PurgeScheduler enqueues a session purge whenever its cron schedule comes due
type PurgeScheduler struct {
	enqueuer  Enqueuer
	schedule  cron.Schedule
	retention time.Duration
	logger    zerolog.Logger

	nextRun time.Time
}

// NewPurgeScheduler parses a standard 5-field cron expression
func NewPurgeScheduler(enqueuer Enqueuer, cronExpr string, retention time.Duration, logger zerolog.Logger) (*PurgeScheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", cronExpr, err)
	}

	return &PurgeScheduler{
		enqueuer:  enqueuer,
		schedule:  schedule,
		retention: retention,
		logger:    logger.With().Str("component", "purge_scheduler").Logger(),
	}, nil
}

// Run checks every minute until ctx is done
func (p *PurgeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	p.tick(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

// tick enqueues a purge if one is due and reports whether it did
func (p *PurgeScheduler) tick(now time.Time) bool {
	if p.nextRun.IsZero() {
		// First run waits for the schedule instead of firing at start-up
		p.nextRun = p.schedule.Next(now)
		p.logger.Info().Time("next_run_at", p.nextRun).Msg("Session purge scheduled")
		return false
	}

	if now.Before(p.nextRun) {
		p.logger.Debug().Time("next_run_at", p.nextRun).Msg("Purge not due yet")
		return false
	}

	task, err := tasks.NewPurgeExpiredSessionsTask(p.retention, "")
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to create purge task")
		return false
	}

	if _, err := p.enqueuer.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(10*time.Minute)); err != nil {
		// Left due so the next tick tries again
		p.logger.Error().Err(err).Msg("Failed to enqueue purge task")
		return false
	}

	p.nextRun = p.schedule.Next(now)
	p.logger.Info().Time("next_run_at", p.nextRun).Msg("Session purge enqueued")
	return true
}
