package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence lifecycle states
const (
	SequenceStatusDraft    = "draft"
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Trigger kinds
const (
	TriggerManual      = "manual"
	TriggerTag         = "tag"
	TriggerCRMCampaign = "crm_campaign"
)

// Sequence represents an automated multi-step email workflow
type Sequence struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"not null;index" json:"sender_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft';index" json:"status"` // draft, active, paused, archived

	// Trigger
	TriggerType     string          `gorm:"default:'manual';index" json:"trigger_type"` // manual, tag, crm_campaign
	TriggerConfig   TriggerConfig   `gorm:"type:jsonb;serializer:json" json:"trigger_config"`
	RecipientFilter RecipientFilter `gorm:"type:jsonb;serializer:json" json:"recipient_filter"`

	// Preferred first send time of day ("HH:MM") in Timezone
	StartTime string `json:"start_time"`
	Timezone  string `gorm:"default:'UTC'" json:"timezone"`

	// Statistics (denormalized, written in the same transaction as the enrollment change)
	TotalEnrolled  int `gorm:"default:0" json:"total_enrolled"`
	TotalCompleted int `gorm:"default:0" json:"total_completed"`

	// Relations
	Steps  []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Sender Sender         `json:"-"`
}

// TriggerConfig holds the kind-specific trigger settings
type TriggerConfig struct {
	Tag         string   `json:"tag,omitempty"`
	CampaignIDs []string `json:"campaign_ids,omitempty"`
}

// RecipientFilter narrows which contacts a trigger may enroll
type RecipientFilter struct {
	ExcludeTags  []string `json:"exclude_tags,omitempty"`
	VerifiedOnly bool     `json:"verified_only,omitempty"`
}

// Location resolves the sequence timezone, falling back to UTC.
func (s *Sequence) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SequenceStep represents one email in a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint  `gorm:"not null;uniqueIndex:idx_sequence_step_order" json:"sequence_id"`
	TemplateID *uint `gorm:"index" json:"template_id,omitempty"`

	StepOrder  int    `gorm:"not null;uniqueIndex:idx_sequence_step_order" json:"step_order"`
	DelayDays  int    `gorm:"not null;default:0" json:"delay_days"`
	DelayHours int    `gorm:"not null;default:0" json:"delay_hours"`
	SendTime   string `json:"send_time"` // optional "HH:MM"

	// Inline content, used when TemplateID is nil
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// Tracking
	SentCount  int `gorm:"default:0" json:"sent_count"`
	OpenCount  int `gorm:"default:0" json:"open_count"`
	ClickCount int `gorm:"default:0" json:"click_count"`

	// Relations
	Template *Template `json:"-"`
}
