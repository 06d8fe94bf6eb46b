package models

import "gorm.io/gorm"

// Sender represents the identity and SMTP credentials a sequence sends from
type Sender struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`
	ReplyTo   string `json:"reply_to"`

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // Encrypted in application layer

	// ========= Tracking Settings =========
	TrackOpens           bool   `gorm:"default:true" json:"track_opens"`
	TrackClicks          bool   `gorm:"default:true" json:"track_clicks"`
	CustomTrackingDomain string `json:"custom_tracking_domain"`

	// ========= Usage Metrics =========
	DailyLimit int `gorm:"default:500" json:"daily_limit"`
	SentToday  int `gorm:"default:0" json:"sent_today"`
	TotalSent  int `gorm:"default:0" json:"total_sent"`
}
