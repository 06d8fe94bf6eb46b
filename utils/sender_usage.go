package utils

import (
	"automail/models"

	"gorm.io/gorm"
)

// UpdateSenderUsage increments the sender's usage counters. Pass the
// transaction that records the send so the counters move with it.
func UpdateSenderUsage(tx *gorm.DB, senderID uint) error {
	return tx.Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today + ?", 1),
			"total_sent": gorm.Expr("total_sent + ?", 1),
		}).Error
}

// ResetDailyCounters zeroes sent_today for every sender. Scheduled once a day.
func ResetDailyCounters(db *gorm.DB) (int64, error) {
	res := db.Model(&models.Sender{}).
		Where("sent_today > 0").
		Update("sent_today", 0)
	return res.RowsAffected, res.Error
}
