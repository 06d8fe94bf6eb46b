package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"automail/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome is the result of an insert-or-ignore against a unique pair.
type Outcome int

const (
	Created Outcome = iota + 1
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// BulkEnrollResult reports what happened to each requested contact.
type BulkEnrollResult struct {
	Created         []uint `json:"created"`
	AlreadyEnrolled []uint `json:"already_enrolled"`
	Skipped         []uint `json:"skipped"` // unknown, other tenant, or not sendable
}

// Enroll creates the enrollment of leadID into seq together with its step 1
// send. Both rows and the total_enrolled increment commit or roll back as a unit.
func (e *Engine) Enroll(ctx context.Context, seq *models.Sequence, leadID uint, source string) (Outcome, error) {
	first, err := e.firstStep(ctx, seq.ID)
	if err != nil {
		return 0, err
	}
	return e.enroll(ctx, seq, first, leadID, source)
}

// BulkEnroll is the manual enrollment operation. Contacts that do not belong
// to the tenant or can no longer be mailed are skipped, not errors.
func (e *Engine) BulkEnroll(ctx context.Context, userID, sequenceID uint, leadIDs []uint) (*BulkEnrollResult, error) {
	var seq models.Sequence
	err := e.db.WithContext(ctx).Where("id = ? AND user_id = ?", sequenceID, userID).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	if seq.Status != models.SequenceStatusActive {
		return nil, ErrSequenceNotActive
	}

	first, err := e.firstStep(ctx, seq.ID)
	if err != nil {
		return nil, err
	}

	requested := dedupe(leadIDs)
	var eligible []uint
	if len(requested) > 0 {
		err = e.db.WithContext(ctx).Model(&models.Lead{}).
			Where("user_id = ? AND id IN ?", seq.UserID, requested).
			Where("is_unsubscribed = ? AND is_bounced = ? AND is_do_not_contact = ?", false, false, false).
			Order("id").
			Pluck("id", &eligible).Error
		if err != nil {
			return nil, fmt.Errorf("load contacts: %w", err)
		}
	}

	ok := make(map[uint]bool, len(eligible))
	for _, id := range eligible {
		ok[id] = true
	}

	res := &BulkEnrollResult{Created: []uint{}, AlreadyEnrolled: []uint{}, Skipped: []uint{}}
	for _, id := range requested {
		if !ok[id] {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		outcome, err := e.enroll(ctx, &seq, first, id, models.TriggerManual)
		if err != nil {
			return res, err
		}
		if outcome == Created {
			res.Created = append(res.Created, id)
		} else {
			res.AlreadyEnrolled = append(res.AlreadyEnrolled, id)
		}
	}

	e.log.WithFields(logrus.Fields{
		"sequence_id":      seq.ID,
		"created":          len(res.Created),
		"already_enrolled": len(res.AlreadyEnrolled),
		"skipped":          len(res.Skipped),
	}).Info("Bulk enrollment processed")

	return res, nil
}

func (e *Engine) enroll(ctx context.Context, seq *models.Sequence, first *models.SequenceStep, leadID uint, source string) (Outcome, error) {
	now := e.clock()
	sendAt := NextSendTime(now, first.DelayDays, first.DelayHours, firstSendTime(seq, first), seq.Location())

	var outcome Outcome
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollment := models.SequenceEnrollment{
			SequenceID:           seq.ID,
			LeadID:               leadID,
			UserID:               seq.UserID,
			Source:               source,
			Status:               models.EnrollmentActive,
			CurrentStep:          0,
			EnrolledAt:           now,
			NextEmailScheduledAt: &sendAt,
		}
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "sequence_id"}, {Name: "lead_id"}},
				DoNothing: true,
			}).
			Create(&enrollment)
		if res.Error != nil {
			return fmt.Errorf("insert enrollment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			outcome = AlreadyExists
			return nil
		}

		if _, err := insertSend(tx, enrollment.ID, first.ID, sendAt); err != nil {
			return err
		}

		if err := tx.Model(&models.Sequence{}).
			Where("id = ?", seq.ID).
			UpdateColumn("total_enrolled", gorm.Expr("total_enrolled + ?", 1)).Error; err != nil {
			return fmt.Errorf("bump total_enrolled: %w", err)
		}

		outcome = Created
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.metrics.Enrollments.WithLabelValues(source, outcome.String()).Inc()
	if outcome == Created {
		e.log.WithFields(logrus.Fields{
			"sequence_id":   seq.ID,
			"lead_id":       leadID,
			"source":        source,
			"scheduled_for": sendAt,
		}).Debug("Contact enrolled")
	}
	return outcome, nil
}

// insertSend queues one step for one enrollment. A conflicting row means the
// step is already scheduled, which is reported as AlreadyExists.
func insertSend(tx *gorm.DB, enrollmentID, stepID uint, at time.Time) (Outcome, error) {
	send := models.ScheduledSend{
		EnrollmentID: enrollmentID,
		StepID:       stepID,
		ScheduledFor: at,
		Status:       models.SendPending,
	}
	res := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "enrollment_id"}, {Name: "step_id"}},
			DoNothing: true,
		}).
		Create(&send)
	if res.Error != nil {
		return 0, fmt.Errorf("insert scheduled send: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (e *Engine) firstStep(ctx context.Context, sequenceID uint) (*models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := e.db.WithContext(ctx).
		Where("sequence_id = ?", sequenceID).
		Order("step_order ASC").
		Limit(1).
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("load first step: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	return &steps[0], nil
}

// firstSendTime picks the preferred time of day for step 1: the step's own
// setting wins over the sequence start time.
func firstSendTime(seq *models.Sequence, first *models.SequenceStep) string {
	if first.SendTime != "" {
		return first.SendTime
	}
	return seq.StartTime
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
