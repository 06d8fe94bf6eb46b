package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// TickReport collects what one tick did.
type TickReport struct {
	Requeued int64          `json:"requeued"`
	Triggers TriggerReport  `json:"triggers"`
	Dispatch DispatchReport `json:"dispatch"`
	Duration time.Duration  `json:"duration"`
}

// Tick runs the reaper, the trigger evaluator and the dispatcher in that
// order. A failing phase does not stop the later ones; the joined error only
// aborts this tick, the next one starts from the store again.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	var report TickReport
	var errs []error

	requeued, err := e.RequeueStale(ctx)
	if err != nil {
		e.metrics.TickErrors.WithLabelValues("reaper").Inc()
		errs = append(errs, err)
	}
	report.Requeued = requeued

	triggers, err := e.EvaluateTriggers(ctx)
	if err != nil {
		e.metrics.TickErrors.WithLabelValues("triggers").Inc()
		errs = append(errs, err)
	}
	report.Triggers = triggers

	dispatch, err := e.Dispatch(ctx)
	if err != nil {
		e.metrics.TickErrors.WithLabelValues("dispatch").Inc()
		errs = append(errs, err)
	}
	report.Dispatch = dispatch

	report.Duration = time.Since(start)
	e.metrics.TickDuration.Observe(report.Duration.Seconds())

	e.log.WithFields(logrus.Fields{
		"requeued": report.Requeued,
		"enrolled": report.Triggers.Created,
		"claimed":  report.Dispatch.Claimed,
		"sent":     report.Dispatch.Sent,
		"duration": report.Duration.String(),
	}).Debug("Tick finished")

	return report, errors.Join(errs...)
}
