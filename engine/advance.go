package engine

import (
	"context"
	"fmt"
	"time"

	"automail/models"
	"automail/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxErrorMessage = 1000

// recordSent marks the send as sent and advances its enrollment in one
// transaction. It reports whether the enrollment completed.
func (e *Engine) recordSent(ctx context.Context, send *models.ScheduledSend, messageID string) (bool, error) {
	now := e.clock()
	var completed bool

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := claimed(tx, send).
			Updates(map[string]interface{}{
				"status":        models.SendSent,
				"sent_at":       now,
				"message_id":    messageID,
				"attempts":      gorm.Expr("attempts + ?", 1),
				"error_message": "",
			})
		if res.Error != nil {
			return fmt.Errorf("mark sent: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errClaimLost
		}

		if err := tx.Model(&models.SequenceStep{}).
			Where("id = ?", send.StepID).
			UpdateColumn("sent_count", gorm.Expr("sent_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("bump step sent_count: %w", err)
		}

		if senderID := send.Enrollment.Sequence.SenderID; senderID != 0 {
			if err := utils.UpdateSenderUsage(tx, senderID); err != nil {
				return fmt.Errorf("bump sender usage: %w", err)
			}
		}

		var err error
		completed, err = e.advance(tx, send, now)
		return err
	})
	return completed, err
}

// advance schedules the step after the one just sent, or completes the
// enrollment when that was the last step. Every write is conditional on the
// enrollment still being active and behind this step, so a duplicate or late
// advancement is a no-op.
func (e *Engine) advance(tx *gorm.DB, send *models.ScheduledSend, now time.Time) (bool, error) {
	enrollment := &send.Enrollment
	order := send.Step.StepOrder

	var next []models.SequenceStep
	if err := tx.Where("sequence_id = ? AND step_order = ?", enrollment.SequenceID, order+1).
		Limit(1).
		Find(&next).Error; err != nil {
		return false, fmt.Errorf("load next step: %w", err)
	}

	if len(next) == 1 {
		step := next[0]
		nextAt := NextSendTime(now, step.DelayDays, step.DelayHours, step.SendTime, enrollment.Sequence.Location())

		res := tx.Model(&models.SequenceEnrollment{}).
			Where("id = ? AND status = ? AND current_step < ?", enrollment.ID, models.EnrollmentActive, order).
			Updates(map[string]interface{}{
				"current_step":            order,
				"last_email_sent_at":      now,
				"next_email_scheduled_at": nextAt,
			})
		if res.Error != nil {
			return false, fmt.Errorf("advance enrollment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			e.log.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"step_order":    order,
			}).Info("Enrollment no longer active, next step not scheduled")
			return false, nil
		}

		outcome, err := insertSend(tx, enrollment.ID, step.ID, nextAt)
		if err != nil {
			return false, err
		}
		if outcome == AlreadyExists {
			e.log.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"step_order":    step.StepOrder,
			}).Debug("Next step already scheduled")
		}
		return false, nil
	}

	res := tx.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_step < ?", enrollment.ID, models.EnrollmentActive, order).
		Updates(map[string]interface{}{
			"status":                  models.EnrollmentCompleted,
			"current_step":            order,
			"completed_at":            now,
			"last_email_sent_at":      now,
			"next_email_scheduled_at": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete enrollment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := tx.Model(&models.Sequence{}).
		Where("id = ?", enrollment.SequenceID).
		UpdateColumn("total_completed", gorm.Expr("total_completed + ?", 1)).Error; err != nil {
		return false, fmt.Errorf("bump total_completed: %w", err)
	}
	return true, nil
}

// recordFailure stores a transport or content failure. Transient failures go
// back to pending with exponential backoff while attempts remain; anything
// else is terminal for the step and the enrollment is left where it is.
func (e *Engine) recordFailure(ctx context.Context, send *models.ScheduledSend, sendErr error, transient bool, logger logrus.FieldLogger) result {
	now := e.clock()
	attempts := send.Attempts + 1
	msg := truncate(sendErr.Error(), maxErrorMessage)

	updates := map[string]interface{}{
		"attempts":      gorm.Expr("attempts + ?", 1),
		"error_message": msg,
	}
	outcome := resultFailed
	if transient && attempts < e.opts.MaxSendAttempts {
		outcome = resultRetried
		updates["status"] = models.SendPending
		updates["claimed_at"] = nil
		updates["claim_token"] = ""
		updates["scheduled_for"] = now.Add(e.backoff(attempts))
	} else {
		updates["status"] = models.SendFailed
	}

	res := claimed(e.db.WithContext(context.WithoutCancel(ctx)), send).
		Updates(updates)
	if res.Error != nil {
		e.reportError("record_failure", res.Error, logrus.Fields{"send_id": send.ID})
		return resultError
	}
	if res.RowsAffected == 0 {
		logger.Warn("Claim lost before the failure could be recorded")
		return resultError
	}

	entry := logger.WithError(sendErr).WithField("attempts", attempts)
	if outcome == resultRetried {
		e.metrics.SendOutcomes.WithLabelValues("retried").Inc()
		entry.WithField("retry_at", updates["scheduled_for"]).Warn("Send failed, retry scheduled")
	} else {
		e.metrics.SendOutcomes.WithLabelValues("failed").Inc()
		entry.Warn("Send failed")
	}
	return outcome
}

// backoff is RetryBackoff doubled for every attempt already made.
func (e *Engine) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	shift := attempts - 1
	if shift > 16 {
		shift = 16
	}
	return e.opts.RetryBackoff * time.Duration(1<<shift)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
