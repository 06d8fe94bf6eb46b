package engine

import (
	"context"
	"errors"
	"fmt"

	"automail/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// DispatchReport summarizes one claim-and-send pass.
type DispatchReport struct {
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Cancelled int `json:"cancelled"`
	Released  int `json:"released"`
	Deferred  int `json:"deferred"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type result int

const (
	resultSent result = iota
	resultCompleted
	resultFailed
	resultRetried
	resultCancelled
	resultReleased
	resultDeferred
	resultSkipped
	resultError
)

// ClaimDue moves up to limit due pending sends to processing and returns
// their ids. It is one UPDATE ... RETURNING statement: the status re-check in
// the outer WHERE makes concurrent claimers split the rows between them.
func (e *Engine) ClaimDue(ctx context.Context, limit int) ([]uint, error) {
	ids, _, err := e.claim(ctx, limit)
	return ids, err
}

// claim is ClaimDue that also returns the token stamped on every claimed row.
// Later writes for those rows only apply while the token is still theirs.
func (e *Engine) claim(ctx context.Context, limit int) ([]uint, string, error) {
	if limit <= 0 {
		limit = e.opts.ClaimBatch
	}
	now := e.clock()
	token := uuid.NewString()

	pick := "SELECT id FROM scheduled_sends WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for, id LIMIT ?"
	if e.db.Dialector.Name() == "postgres" {
		pick += " FOR UPDATE SKIP LOCKED"
	}

	var ids []uint
	err := e.db.WithContext(ctx).Raw(
		"UPDATE scheduled_sends SET status = ?, claimed_at = ?, claim_token = ?, updated_at = ? WHERE status = ? AND id IN ("+pick+") RETURNING id",
		models.SendProcessing, now, token, now, models.SendPending,
		models.SendPending, now, limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, "", err
	}

	e.metrics.Claimed.Add(float64(len(ids)))
	return ids, token, nil
}

// Dispatch claims due sends and processes them through a bounded pool. Only a
// failure of the claim itself is returned; per-send problems end up in the
// report and on the rows.
func (e *Engine) Dispatch(ctx context.Context) (DispatchReport, error) {
	var report DispatchReport

	ids, token, err := e.claim(ctx, e.opts.ClaimBatch)
	if err != nil {
		return report, fmt.Errorf("claim due sends: %w", err)
	}
	report.Claimed = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	results := make([]result, len(ids))
	var g errgroup.Group
	g.SetLimit(e.opts.SendConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = e.process(ctx, id, token)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r {
		case resultSent:
			report.Sent++
		case resultCompleted:
			report.Sent++
			report.Completed++
		case resultFailed:
			report.Failed++
		case resultRetried:
			report.Retried++
		case resultCancelled:
			report.Cancelled++
		case resultReleased:
			report.Released++
		case resultDeferred:
			report.Deferred++
		case resultSkipped:
			report.Skipped++
		case resultError:
			report.Errors++
		}
	}

	e.log.WithFields(logrus.Fields{
		"claimed":   report.Claimed,
		"sent":      report.Sent,
		"failed":    report.Failed,
		"retried":   report.Retried,
		"cancelled": report.Cancelled,
		"deferred":  report.Deferred,
	}).Info("Dispatch finished")

	return report, nil
}

func (e *Engine) process(ctx context.Context, id uint, token string) result {
	logger := e.log.WithField("send_id", id)

	if ctx.Err() != nil {
		return e.release(ctx, id, token, ctx.Err())
	}

	var send models.ScheduledSend
	err := e.db.WithContext(ctx).
		Preload("Enrollment.Sequence.Sender").
		Preload("Enrollment.Lead").
		Preload("Step.Template").
		First(&send, id).Error
	if err != nil {
		return e.release(ctx, id, token, err)
	}
	if send.Status != models.SendProcessing || send.ClaimToken != token {
		logger.WithField("status", send.Status).Warn("Claim lost before processing, skipping send")
		return resultSkipped
	}

	logger = logger.WithFields(logrus.Fields{
		"enrollment_id": send.EnrollmentID,
		"sequence_id":   send.Enrollment.SequenceID,
		"step_order":    send.Step.StepOrder,
	})

	if reason, contactLevel := guard(&send); reason != "" {
		return e.cancelSend(ctx, &send, reason, contactLevel, logger)
	}

	if sender := &send.Enrollment.Sequence.Sender; sender.DailyLimit > 0 && sender.SentToday >= sender.DailyLimit {
		return e.deferSend(ctx, &send, logger)
	}

	messageID := uuid.NewString()
	msg, err := e.personalizer.Personalize(&send, messageID)
	if err != nil {
		// bad content will not get better on retry
		return e.recordFailure(ctx, &send, err, false, logger)
	}

	// the claim may have been reaped and handed to another worker while this
	// one was loading; refreshing it here also restarts the stale clock
	if ok, err := e.touchClaim(ctx, &send); err != nil {
		return e.release(ctx, id, token, err)
	} else if !ok {
		logger.Warn("Claim lost before sending, skipping send")
		return resultSkipped
	}

	providerID, sendErr := e.transport.Send(ctx, msg)
	if sendErr != nil {
		return e.recordFailure(ctx, &send, sendErr, IsTransient(sendErr), logger)
	}
	if providerID == "" {
		providerID = messageID
	}

	completed, err := e.recordSent(ctx, &send, providerID)
	if err != nil {
		if errors.Is(err, errClaimLost) {
			logger.Warn("Send went out but the claim was lost before recording it")
		} else {
			e.reportError("record_sent", err, logrus.Fields{"send_id": id, "message_id": providerID})
		}
		return resultError
	}

	e.metrics.SendOutcomes.WithLabelValues("sent").Inc()
	if completed {
		e.metrics.Completed.Inc()
		logger.Info("Enrollment completed")
		return resultCompleted
	}
	return resultSent
}

// claimed scopes a write to the row while it is still processing under the
// claim that loaded it.
func claimed(db *gorm.DB, send *models.ScheduledSend) *gorm.DB {
	return db.Model(&models.ScheduledSend{}).
		Where("id = ? AND status = ? AND claim_token = ?", send.ID, models.SendProcessing, send.ClaimToken)
}

func (e *Engine) touchClaim(ctx context.Context, send *models.ScheduledSend) (bool, error) {
	res := claimed(e.db.WithContext(ctx), send).Update("claimed_at", e.clock())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// deferSend puts a send whose sender reached its daily limit back to pending
// at the next counter reset. Attempts are left alone.
func (e *Engine) deferSend(ctx context.Context, send *models.ScheduledSend, logger logrus.FieldLogger) result {
	until := e.opts.NextSenderReset(e.clock()).UTC()
	res := claimed(e.db.WithContext(context.WithoutCancel(ctx)), send).
		Updates(map[string]interface{}{
			"status":        models.SendPending,
			"scheduled_for": until,
			"claimed_at":    nil,
			"claim_token":   "",
		})
	if res.Error != nil {
		e.reportError("defer_send", res.Error, logrus.Fields{"send_id": send.ID})
		return resultError
	}
	if res.RowsAffected == 0 {
		logger.Warn("Claim lost before the send could be deferred")
		return resultSkipped
	}

	e.metrics.Requeued.WithLabelValues("sender_limit").Inc()
	logger.WithFields(logrus.Fields{
		"sender_id":   send.Enrollment.Sequence.SenderID,
		"daily_limit": send.Enrollment.Sequence.Sender.DailyLimit,
		"retry_at":    until,
	}).Info("Sender daily limit reached, send deferred")
	return resultDeferred
}

// guard returns a non-empty reason when the send must be cancelled instead of
// sent. contactLevel is true for reasons that stem from the contact itself.
func guard(send *models.ScheduledSend) (reason string, contactLevel bool) {
	enrollment := &send.Enrollment
	lead := &enrollment.Lead

	switch {
	case enrollment.Sequence.ID == 0 || enrollment.Sequence.Status != models.SequenceStatusActive:
		return "sequence_not_active", false
	case enrollment.Status != models.EnrollmentActive:
		return "enrollment_not_active", false
	case lead.ID == 0:
		return "contact_missing", true
	case lead.IsUnsubscribed:
		return "contact_unsubscribed", true
	case lead.IsBounced:
		return "contact_bounced", true
	case lead.IsDoNotContact:
		return "contact_do_not_contact", true
	case send.Step.ID == 0:
		return "step_missing", false
	}
	return "", false
}

func (e *Engine) cancelSend(ctx context.Context, send *models.ScheduledSend, reason string, contactLevel bool, logger logrus.FieldLogger) result {
	now := e.clock()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := claimed(tx, send).
			Updates(map[string]interface{}{
				"status":        models.SendCancelled,
				"error_message": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errClaimLost
		}

		if contactLevel && e.opts.CancelOnGuard {
			return tx.Model(&models.SequenceEnrollment{}).
				Where("id = ? AND status = ?", send.EnrollmentID, models.EnrollmentActive).
				Updates(map[string]interface{}{
					"status":                  models.EnrollmentCancelled,
					"cancelled_at":            now,
					"cancel_reason":           reason,
					"next_email_scheduled_at": nil,
				}).Error
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errClaimLost) {
			e.reportError("cancel_send", err, logrus.Fields{"send_id": send.ID})
		}
		return resultError
	}

	e.metrics.GuardCancels.WithLabelValues(reason).Inc()
	e.metrics.SendOutcomes.WithLabelValues("cancelled").Inc()
	logger.WithField("reason", reason).Info("Scheduled send cancelled by guard")
	return resultCancelled
}

// release puts a claimed row back to pending after an infrastructure failure
// so the next tick picks it up again.
func (e *Engine) release(ctx context.Context, id uint, token string, cause error) result {
	err := e.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.ScheduledSend{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, models.SendProcessing, token).
		Updates(map[string]interface{}{
			"status":      models.SendPending,
			"claimed_at":  nil,
			"claim_token": "",
		}).Error
	if err != nil {
		// the reaper will pick it up
		e.reportError("release_claim", err, logrus.Fields{"send_id": id, "cause": cause.Error()})
		return resultError
	}

	e.metrics.Requeued.WithLabelValues("fetch_error").Inc()
	e.log.WithField("send_id", id).WithError(cause).Warn("Released claimed send after fetch failure")
	return resultReleased
}
