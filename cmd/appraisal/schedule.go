package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/logger"
	"github.com/stwalsh4118/appraisal/internal/repository"
	"github.com/stwalsh4118/appraisal/internal/services"
)

type ratioRefresher interface {
	RefreshAll(ctx context.Context, year int) (*services.RefreshReport, error)
}

type cachePurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// maintenance is the nightly job: refresh every neighborhood's ratio study
// for the current roll year, then drop stale comparable-cache rows.
type maintenance struct {
	ratios    ratioRefresher
	purger    cachePurger // nil when the cache expires entries itself
	freshness time.Duration
	timeout   time.Duration
	log       *logger.Logger
	now       func() time.Time
}

func (m *maintenance) run(ctx context.Context) {
	ctx, cancel := withDeadline(ctx, 0, m.timeout)
	defer cancel()

	now := m.now()
	year := now.Year()

	report, err := m.ratios.RefreshAll(ctx, year)
	if err != nil {
		m.log.Error("Scheduled ratio study refresh failed", err, map[string]interface{}{"year": year})
	} else {
		m.log.Info("Scheduled ratio study refresh finished", map[string]interface{}{
			"year":         year,
			"updated":      len(report.Updated),
			"insufficient": len(report.Insufficient),
			"failed":       len(report.Failed),
		})
	}

	if m.purger == nil {
		return
	}
	n, err := m.purger.PurgeOlderThan(ctx, now.Add(-m.freshness))
	if err != nil {
		m.log.Error("Cache purge failed", err, nil)
		return
	}
	m.log.Info("Cache purged", map[string]interface{}{"removed": n})
}

// newScheduler registers m on spec, a standard five-field cron expression.
func newScheduler(ctx context.Context, spec string, m *maintenance) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.run(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return c, nil
}

func ScheduleCmd() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run ratio-study refreshes and cache cleanup on RATIO_STUDY_CRON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			m := &maintenance{
				ratios:    newRatioStudyService(e),
				freshness: e.cfg.Cache.Freshness,
				timeout:   e.cfg.Schedule.RatioStudyTimeout,
				log:       e.log.WithComponent("scheduler"),
				now:       time.Now,
			}
			if e.cfg.Cache.Backend == config.CacheBackendPostgres {
				m.purger = repository.NewCacheRepository(e.db)
			}

			c, err := newScheduler(ctx, e.cfg.Schedule.RatioStudyCron, m)
			if err != nil {
				return err
			}

			if runNow {
				m.run(ctx)
			}

			c.Start()
			m.log.Info("Scheduler started", map[string]interface{}{"cron": e.cfg.Schedule.RatioStudyCron})

			<-ctx.Done()
			<-c.Stop().Done()
			m.log.Info("Scheduler stopped", nil)
			return nil
		},
	}

	cmd.Flags().BoolVar(&runNow, "now", false, "Run once immediately before waiting for the schedule")

	return cmd
}
