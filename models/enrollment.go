package models

import "time"

// Enrollment lifecycle states
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentPaused    = "paused"
	EnrollmentCancelled = "cancelled"
	EnrollmentFailed    = "failed"
)

// Scheduled send states
const (
	SendPending    = "pending"
	SendProcessing = "processing"
	SendSent       = "sent"
	SendFailed     = "failed"
	SendCancelled  = "cancelled"
)

// SequenceEnrollment tracks one contact's progress through one sequence.
// The (sequence_id, lead_id) pair is unique, so a contact is enrolled at most once.
type SequenceEnrollment struct {
	ID         uint `gorm:"primarykey" json:"id"`
	SequenceID uint `gorm:"not null;uniqueIndex:idx_enrollment_sequence_lead" json:"sequence_id"`
	LeadID     uint `gorm:"not null;uniqueIndex:idx_enrollment_sequence_lead;index" json:"lead_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	Source      string `gorm:"not null" json:"source"` // manual, tag, crm_campaign
	Status      string `gorm:"not null;default:'active';index" json:"status"`
	CurrentStep int    `gorm:"not null;default:0" json:"current_step"`

	EnrolledAt           time.Time  `gorm:"not null" json:"enrolled_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	CancelledAt          *time.Time `json:"cancelled_at"`
	CancelReason         string     `json:"cancel_reason,omitempty"`
	LastEmailSentAt      *time.Time `json:"last_email_sent_at"`
	NextEmailScheduledAt *time.Time `json:"next_email_scheduled_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Sequence Sequence        `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Lead     Lead            `json:"-"`
	Sends    []ScheduledSend `gorm:"foreignKey:EnrollmentID" json:"sends,omitempty"`
}

// ScheduledSend is one queued "send step X of enrollment Y at time T" unit.
// The (enrollment_id, step_id) pair is unique: a step is scheduled at most once per enrollment.
type ScheduledSend struct {
	ID           uint `gorm:"primarykey" json:"id"`
	EnrollmentID uint `gorm:"not null;uniqueIndex:idx_send_enrollment_step" json:"enrollment_id"`
	StepID       uint `gorm:"not null;uniqueIndex:idx_send_enrollment_step;index" json:"step_id"`

	ScheduledFor time.Time `gorm:"not null;index:idx_send_status_due,priority:2" json:"scheduled_for"`
	Status       string    `gorm:"not null;default:'pending';index:idx_send_status_due,priority:1" json:"status"`
	Attempts     int       `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`

	ClaimedAt  *time.Time `json:"claimed_at"`
	ClaimToken string     `gorm:"size:36;not null;default:''" json:"-"`
	SentAt     *time.Time `json:"sent_at"`
	MessageID  string     `gorm:"index" json:"message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Enrollment SequenceEnrollment `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Step       SequenceStep       `json:"step,omitempty"`
}
