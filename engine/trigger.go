package engine

import (
	"context"
	"fmt"

	"automail/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TriggerReport summarizes one trigger evaluation pass.
type TriggerReport struct {
	Sequences       int `json:"sequences"`
	Created         int `json:"created"`
	AlreadyEnrolled int `json:"already_enrolled"`
	Errors          int `json:"errors"`
}

// EvaluateTriggers enrolls every contact that currently matches the trigger
// of an active tag or crm_campaign sequence and has never been enrolled in it.
// A failing sequence is logged and skipped so the others still run.
func (e *Engine) EvaluateTriggers(ctx context.Context) (TriggerReport, error) {
	var report TriggerReport

	var sequences []models.Sequence
	err := e.db.WithContext(ctx).
		Where("status = ? AND trigger_type IN ?", models.SequenceStatusActive,
			[]string{models.TriggerTag, models.TriggerCRMCampaign}).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Order("id").
		Find(&sequences).Error
	if err != nil {
		return report, fmt.Errorf("load triggered sequences: %w", err)
	}

	for i := range sequences {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		seq := &sequences[i]
		logger := e.log.WithFields(logrus.Fields{
			"sequence_id":  seq.ID,
			"trigger_type": seq.TriggerType,
		})

		if len(seq.Steps) == 0 {
			logger.Warn("Active sequence has no steps, skipping trigger")
			continue
		}
		report.Sequences++

		leadIDs, err := e.matchingLeads(ctx, seq)
		if err != nil {
			report.Errors++
			e.reportError("trigger_query", err, logrus.Fields{"sequence_id": seq.ID})
			continue
		}

		for _, leadID := range leadIDs {
			outcome, err := e.enroll(ctx, seq, &seq.Steps[0], leadID, seq.TriggerType)
			if err != nil {
				report.Errors++
				e.reportError("trigger_enroll", err, logrus.Fields{
					"sequence_id": seq.ID,
					"lead_id":     leadID,
				})
				continue
			}
			switch outcome {
			case Created:
				report.Created++
			case AlreadyExists:
				report.AlreadyEnrolled++
			}
		}

		if len(leadIDs) > 0 {
			logger.WithField("matched", len(leadIDs)).Info("Trigger enrolled contacts")
		}
	}

	return report, nil
}

// matchingLeads selects contacts of the sequence tenant that match its
// trigger, pass its recipient filter, can still be mailed, and have no
// enrollment row for this sequence in any status. Filtering happens in the
// query so an unsubscribe recorded before the scan is never enrolled.
func (e *Engine) matchingLeads(ctx context.Context, seq *models.Sequence) ([]uint, error) {
	q := e.db.WithContext(ctx).Model(&models.Lead{}).
		Where("leads.user_id = ?", seq.UserID).
		Where("leads.is_unsubscribed = ? AND leads.is_bounced = ? AND leads.is_do_not_contact = ?", false, false, false).
		Where("NOT EXISTS (SELECT 1 FROM sequence_enrollments se WHERE se.sequence_id = ? AND se.lead_id = leads.id)", seq.ID)

	switch seq.TriggerType {
	case models.TriggerTag:
		if seq.TriggerConfig.Tag == "" {
			return nil, nil
		}
		q = q.Where("EXISTS (SELECT 1 FROM lead_tags lt WHERE lt.lead_id = leads.id AND lt.tag = ? AND lt.deleted_at IS NULL)",
			seq.TriggerConfig.Tag)
	case models.TriggerCRMCampaign:
		if len(seq.TriggerConfig.CampaignIDs) == 0 {
			return nil, nil
		}
		q = q.Where("EXISTS (SELECT 1 FROM crm_campaign_members cm WHERE cm.lead_id = leads.id AND cm.user_id = ? AND cm.external_campaign_id IN ?)",
			seq.UserID, seq.TriggerConfig.CampaignIDs)
	default:
		return nil, nil
	}

	filter := seq.RecipientFilter
	if filter.VerifiedOnly {
		q = q.Where("leads.is_verified = ?", true)
	}
	if len(filter.ExcludeTags) > 0 {
		q = q.Where("NOT EXISTS (SELECT 1 FROM lead_tags xt WHERE xt.lead_id = leads.id AND xt.tag IN ? AND xt.deleted_at IS NULL)",
			filter.ExcludeTags)
	}

	var ids []uint
	if err := q.Order("leads.id").Limit(e.opts.EnrollBatch).Pluck("leads.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
