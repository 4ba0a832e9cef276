package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CZERTAINLY/jqplay/internal/model"

	gocron "github.com/go-co-op/gocron/v2"
)

// jobDefinition turns pool.maintenance into a gocron job, cron has a
// precedence over duration.
func jobDefinition(ctx context.Context, cfg model.Schedule) (gocron.JobDefinition, error) {
	if cfg.Cron != "" {
		if _, err := model.ParseCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing pool.maintenance.cron: %w", err)
		}
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
		return gocron.CronJob(cfg.Cron, false), nil
	}
	d, err := cfg.Interval()
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
	return gocron.DurationJob(d), nil
}

func newScheduler(job gocron.JobDefinition, task func()) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
