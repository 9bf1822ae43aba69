package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceMember lifecycle statuses.
const (
	MemberStatusActive    = "active"
	MemberStatusCompleted = "completed"
	MemberStatusRemoved   = "removed"
)

// SequenceMember is one enrollment of a contact into a sequence, with a step
// cursor. Created exclusively by the activation worker; the cursor is
// advanced exclusively by the dispatcher (or task completion for manual
// steps). At most one active member may exist per (sequence, contact).
type SequenceMember struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_member_seq_contact" json:"sequence_id"`
	ContactID  uint `gorm:"not null;index:idx_member_seq_contact" json:"contact_id"`
	OwnerID    uint `gorm:"not null;index" json:"owner_id"`

	CurrentStepIndex int       `gorm:"not null;default:0" json:"current_step_index"`
	Status           string    `gorm:"not null;default:'active';index" json:"status"` // active, completed, removed
	EnrolledAt       time.Time `gorm:"not null" json:"enrolled_at"`

	// Why the member left the sequence, when it did (replied, completed all
	// steps, manually removed).
	ExitReason string `json:"exit_reason"`

	// Relations
	Sequence Sequence `json:"-"`
	Contact  Contact  `json:"-"`
}
