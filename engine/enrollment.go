package engine

import (
	"context"
	"errors"
	"fmt"

	"automail/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GetEnrollment loads an enrollment of the tenant with its send history.
func (e *Engine) GetEnrollment(ctx context.Context, userID, enrollmentID uint) (*models.SequenceEnrollment, error) {
	var enrollment models.SequenceEnrollment
	err := e.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", enrollmentID, userID).
		Preload("Sends", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Preload("Sends.Step").
		First(&enrollment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	return &enrollment, nil
}

// CancelEnrollment is the unsubscribe callback used by delivery-event
// ingestion. It moves an active or paused enrollment to cancelled and cancels
// its pending sends. It reports false when the enrollment was already terminal.
func (e *Engine) CancelEnrollment(ctx context.Context, enrollmentID uint, reason string) (bool, error) {
	now := e.clock()
	if reason == "" {
		reason = "unsubscribed"
	}

	var changed bool
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.SequenceEnrollment{}).Where("id = ?", enrollmentID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrEnrollmentNotFound
		}

		res := tx.Model(&models.SequenceEnrollment{}).
			Where("id = ? AND status IN ?", enrollmentID, []string{models.EnrollmentActive, models.EnrollmentPaused}).
			Updates(map[string]interface{}{
				"status":                  models.EnrollmentCancelled,
				"cancelled_at":            now,
				"cancel_reason":           reason,
				"next_email_scheduled_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true

		return tx.Model(&models.ScheduledSend{}).
			Where("enrollment_id = ? AND status = ?", enrollmentID, models.SendPending).
			Updates(map[string]interface{}{
				"status":        models.SendCancelled,
				"error_message": reason,
			}).Error
	})
	if err != nil {
		return false, err
	}

	if changed {
		e.log.WithFields(logrus.Fields{
			"enrollment_id": enrollmentID,
			"reason":        reason,
		}).Info("Enrollment cancelled")
	}
	return changed, nil
}
