package engine

import (
	"context"
	"fmt"

	"automail/models"
)

// RequeueStale returns processing rows claimed longer than StaleProcessing
// ago to pending. A worker that died mid-send leaves such rows behind.
func (e *Engine) RequeueStale(ctx context.Context) (int64, error) {
	if e.opts.StaleProcessing <= 0 {
		return 0, nil
	}
	cutoff := e.clock().Add(-e.opts.StaleProcessing)

	res := e.db.WithContext(ctx).
		Model(&models.ScheduledSend{}).
		Where("status = ? AND claimed_at < ?", models.SendProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":      models.SendPending,
			"claimed_at":  nil,
			"claim_token": "",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stale sends: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		e.metrics.Requeued.WithLabelValues("stale").Add(float64(res.RowsAffected))
		e.log.WithField("count", res.RowsAffected).Warn("Requeued stale processing sends")
	}
	return res.RowsAffected, nil
}
