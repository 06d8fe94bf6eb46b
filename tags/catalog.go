// Package tags maintains the per-tenant tag catalog: every tag in use with
// the number of contacts that carry it and can still be mailed.
package tags

import (
	"context"
	"fmt"
	"time"

	"automail/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatch = 500

type tagCount struct {
	UserID       uint
	Name         string
	ContactCount int
}

// Refresh recounts lead_tags per tenant and upserts tag_catalogs on
// (user_id, name). Tags that vanished since the last run drop to zero.
// It returns the number of catalog rows written.
func Refresh(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	now = now.UTC()
	db = db.WithContext(ctx)

	var counts []tagCount
	err := db.Table("lead_tags").
		Select("leads.user_id AS user_id, lead_tags.tag AS name, COUNT(DISTINCT leads.id) AS contact_count").
		Joins("JOIN leads ON leads.id = lead_tags.lead_id").
		Where("lead_tags.deleted_at IS NULL AND leads.deleted_at IS NULL").
		Where("leads.is_unsubscribed = ? AND leads.is_bounced = ? AND leads.is_do_not_contact = ?", false, false, false).
		Group("leads.user_id, lead_tags.tag").
		Order("leads.user_id, lead_tags.tag").
		Scan(&counts).Error
	if err != nil {
		return 0, fmt.Errorf("count tags: %w", err)
	}

	rows := make([]models.TagCatalog, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, models.TagCatalog{
			UserID:       c.UserID,
			Name:         c.Name,
			ContactCount: c.ContactCount,
			RefreshedAt:  now,
		})
	}

	var written int64
	err = db.Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"contact_count", "refreshed_at"}),
			}).CreateInBatches(&rows, upsertBatch)
			if res.Error != nil {
				return fmt.Errorf("upsert tag catalog: %w", res.Error)
			}
			written = int64(len(rows))
		}

		return tx.Model(&models.TagCatalog{}).
			Where("refreshed_at < ?", now).
			Updates(map[string]interface{}{
				"contact_count": 0,
				"refreshed_at":  now,
			}).Error
	})
	if err != nil {
		return 0, err
	}

	logrus.WithFields(logrus.Fields{
		"tags": written,
	}).Info("Tag catalog refreshed")
	return written, nil
}

// List returns the catalog of one tenant, largest tags first.
func List(ctx context.Context, db *gorm.DB, userID uint) ([]models.TagCatalog, error) {
	var rows []models.TagCatalog
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("contact_count DESC, name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return rows, nil
}
