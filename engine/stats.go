package engine

import (
	"context"
	"errors"
	"fmt"

	"automail/models"

	"gorm.io/gorm"
)

// SequenceStats are derived from the enrollment and send rows. The
// denormalized counters on the sequence are reported next to them.
type SequenceStats struct {
	SequenceID  uint             `json:"sequence_id"`
	Enrollments map[string]int64 `json:"enrollments"`
	Sends       map[string]int64 `json:"sends"`
	Steps       []StepStats      `json:"steps"`

	TotalEnrolled  int64 `json:"total_enrolled"`
	TotalCompleted int64 `json:"total_completed"`

	CounterEnrolled  int `json:"counter_enrolled"`
	CounterCompleted int `json:"counter_completed"`
}

type StepStats struct {
	StepOrder  int `json:"step_order"`
	SentCount  int `json:"sent_count"`
	OpenCount  int `json:"open_count"`
	ClickCount int `json:"click_count"`
}

type statusCount struct {
	Status string
	Count  int64
}

func (e *Engine) SequenceStats(ctx context.Context, userID, sequenceID uint) (*SequenceStats, error) {
	db := e.db.WithContext(ctx)

	var seq models.Sequence
	err := db.Where("id = ? AND user_id = ?", sequenceID, userID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}

	var enrollments []statusCount
	if err := db.Model(&models.SequenceEnrollment{}).
		Select("status, count(*) AS count").
		Where("sequence_id = ?", seq.ID).
		Group("status").
		Scan(&enrollments).Error; err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}

	var sends []statusCount
	if err := db.Model(&models.ScheduledSend{}).
		Select("scheduled_sends.status AS status, count(*) AS count").
		Joins("JOIN sequence_enrollments ON sequence_enrollments.id = scheduled_sends.enrollment_id").
		Where("sequence_enrollments.sequence_id = ?", seq.ID).
		Group("scheduled_sends.status").
		Scan(&sends).Error; err != nil {
		return nil, fmt.Errorf("count sends: %w", err)
	}

	stats := &SequenceStats{
		SequenceID:       seq.ID,
		Enrollments:      toMap(enrollments),
		Sends:            toMap(sends),
		CounterEnrolled:  seq.TotalEnrolled,
		CounterCompleted: seq.TotalCompleted,
	}
	for _, c := range enrollments {
		stats.TotalEnrolled += c.Count
	}
	stats.TotalCompleted = stats.Enrollments[models.EnrollmentCompleted]

	for _, st := range seq.Steps {
		stats.Steps = append(stats.Steps, StepStats{
			StepOrder:  st.StepOrder,
			SentCount:  st.SentCount,
			OpenCount:  st.OpenCount,
			ClickCount: st.ClickCount,
		})
	}
	return stats, nil
}

func toMap(rows []statusCount) map[string]int64 {
	m := make(map[string]int64, len(rows))
	for _, r := range rows {
		m[r.Status] = r.Count
	}
	return m
}
