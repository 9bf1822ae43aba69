package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceMessage lifecycle statuses. These values are a compatibility
// surface: operator tooling and the UI branch on them literally.
const (
	MessageStatusNotGenerated    = "not_generated"
	MessageStatusGenerating      = "generating"
	MessageStatusPendingApproval = "pending_approval"
	MessageStatusApproved        = "approved"
	MessageStatusSending         = "sending"
	MessageStatusSent            = "sent"
	MessageStatusFailed          = "failed"
)

// SequenceMessage is one scheduled communication artifact tied to a member
// and a step. Exactly one message exists per (member, step) — the unique
// index is the backstop for the check-then-create done by every creator.
//
// Transitions: not_generated→generating→pending_approval→approved→sending→
// sent|failed. The only back edges are generating→not_generated (generation
// retry) and sending→approved (bounded dispatch retry); failed is terminal.
type SequenceMessage struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	MemberID   uint `gorm:"not null;uniqueIndex:idx_message_member_step" json:"member_id"`
	StepIndex  int  `gorm:"not null;uniqueIndex:idx_message_member_step" json:"step_index"`
	OwnerID    uint `gorm:"not null;index" json:"owner_id"`

	Status            string    `gorm:"not null;default:'not_generated';index" json:"status"` // not_generated, generating, pending_approval, approved, sending, sent, failed
	ScheduledSendTime time.Time `gorm:"not null;index" json:"scheduled_send_time"`

	// Nullable until the generator has run.
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Claim bookkeeping: when the current claim (generating/sending) was
	// taken, so stale claims can be detected by age.
	ClaimedAt *time.Time `json:"claimed_at"`

	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	LastError    string     `json:"last_error"`
	SentAt       *time.Time `json:"sent_at"`
	DeliveryID   string     `json:"delivery_id"`

	// Relations
	Member   SequenceMember `json:"-"`
	Sequence Sequence       `json:"-"`
}
