package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a single contact. The automation engine only reads it.
type Lead struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`

	// Status
	IsVerified     bool `gorm:"default:false" json:"is_verified"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"` // hard bounce
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Metadata
	Source      string     `json:"source"`
	LastContact *time.Time `json:"last_contact"`

	// Relations
	LeadTags []LeadTag `gorm:"foreignKey:LeadID" json:"tags,omitempty"`
}

// Sendable reports whether mail may still be sent to the contact.
func (l *Lead) Sendable() bool {
	return !l.IsBounced && !l.IsUnsubscribed && !l.IsDoNotContact
}

// LeadTag represents tags for leads (normalized)
type LeadTag struct {
	gorm.Model
	LeadID uint   `gorm:"not null;index" json:"lead_id"`
	Tag    string `gorm:"not null;index" json:"tag"`
}

// CRMCampaignMember is the materialized result of the CRM sync:
// contact LeadID is a member of external campaign ExternalCampaignID.
type CRMCampaignMember struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	ExternalCampaignID string    `gorm:"not null;uniqueIndex:idx_crm_member" json:"external_campaign_id"`
	LeadID             uint      `gorm:"not null;uniqueIndex:idx_crm_member;index" json:"lead_id"`
	SyncedAt           time.Time `json:"synced_at"`
}

// TagCatalog counts sendable contacts per tag and tenant
type TagCatalog struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_tag_catalog_user_name" json:"user_id"`
	Name         string    `gorm:"not null;uniqueIndex:idx_tag_catalog_user_name" json:"name"`
	ContactCount int       `gorm:"not null;default:0" json:"contact_count"`
	RefreshedAt  time.Time `json:"refreshed_at"`
}
