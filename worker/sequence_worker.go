package worker

import (
	"context"
	"fmt"
	"time"

	"automail/config"
	"automail/engine"
	"automail/metrics"
	"automail/tags"
	"automail/utils"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SequenceWorker schedules the periodic jobs of the automation engine:
// the engine tick, the tag catalog refresh and the daily sender reset.
// Overlapping runs of the same job are skipped, not queued.
type SequenceWorker struct {
	DB      *gorm.DB
	Engine  *engine.Engine
	Metrics *metrics.Metrics
	Config  config.SequenceConfig
	Logger  logrus.FieldLogger

	cron *cron.Cron
}

func NewSequenceWorker(db *gorm.DB, eng *engine.Engine, m *metrics.Metrics, cfg config.SequenceConfig, logger logrus.FieldLogger) *SequenceWorker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cronLogger := cron.PrintfLogger(logger)
	return &SequenceWorker{
		DB:      db,
		Engine:  eng,
		Metrics: m,
		Config:  cfg,
		Logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
	}
}

// Schedule registers all jobs. Each job runs with a context derived from ctx.
func (w *SequenceWorker) Schedule(ctx context.Context) error {
	if w.Config.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", w.Config.TickInterval)
	}
	if _, err := w.cron.AddFunc("@every "+w.Config.TickInterval.String(), func() { w.RunTick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	if w.Config.TagCatalogCron != "" {
		if _, err := w.cron.AddFunc(w.Config.TagCatalogCron, func() { w.RefreshTags(ctx) }); err != nil {
			return fmt.Errorf("schedule tag catalog: %w", err)
		}
	}
	if w.Config.SenderResetCron != "" {
		if _, err := w.cron.AddFunc(w.Config.SenderResetCron, func() { w.ResetSenders(ctx) }); err != nil {
			return fmt.Errorf("schedule sender reset: %w", err)
		}
	}
	return nil
}

// Start schedules the jobs, runs them until ctx is done and then waits for
// running jobs to finish.
func (w *SequenceWorker) Start(ctx context.Context) error {
	if err := w.Schedule(ctx); err != nil {
		return err
	}

	w.Logger.WithField("tick_interval", w.Config.TickInterval.String()).Info("Sequence worker started")
	w.cron.Start()

	<-ctx.Done()
	w.Logger.Info("Sequence worker shutting down...")
	<-w.cron.Stop().Done()
	return nil
}

// RunTick runs one engine tick bounded by TickTimeout. Claims outlive the
// timeout, so the reaper never requeues a row a running tick still holds.
func (w *SequenceWorker) RunTick(ctx context.Context) {
	timeout := w.Config.TickTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := w.Engine.Tick(ctx)
	if err != nil {
		utils.LogError("sequence_tick", err, map[string]interface{}{
			"claimed": report.Dispatch.Claimed,
			"sent":    report.Dispatch.Sent,
		})
		return
	}
	if report.Dispatch.Claimed > 0 || report.Triggers.Created > 0 || report.Requeued > 0 {
		w.Logger.WithFields(logrus.Fields{
			"requeued":  report.Requeued,
			"enrolled":  report.Triggers.Created,
			"claimed":   report.Dispatch.Claimed,
			"sent":      report.Dispatch.Sent,
			"completed": report.Dispatch.Completed,
			"failed":    report.Dispatch.Failed,
		}).Info("Sequence tick")
	}
}

// RefreshTags rebuilds the tag catalog.
func (w *SequenceWorker) RefreshTags(ctx context.Context) {
	n, err := tags.Refresh(ctx, w.DB, time.Now())
	if err != nil {
		utils.LogError("tag_catalog_refresh", err, nil)
		return
	}
	if w.Metrics != nil {
		w.Metrics.TagCatalogRows.Set(float64(n))
	}
}

// ResetSenders zeroes the daily send counters of every sender.
func (w *SequenceWorker) ResetSenders(ctx context.Context) {
	n, err := utils.ResetDailyCounters(w.DB.WithContext(ctx))
	if err != nil {
		utils.LogError("sender_reset", err, nil)
		return
	}
	w.Logger.WithField("senders", n).Info("Daily sender counters reset")
}
