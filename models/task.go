package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceTask statuses.
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
)

// SequenceTask is the artifact a manual_task step produces instead of a
// message: a to-do for the owning rep (call the contact, connect on
// LinkedIn). Completing it advances the member cursor the same way a sent
// message does. One task per (member, step).
type SequenceTask struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	MemberID   uint `gorm:"not null;uniqueIndex:idx_task_member_step" json:"member_id"`
	StepIndex  int  `gorm:"not null;uniqueIndex:idx_task_member_step" json:"step_index"`
	OwnerID    uint `gorm:"not null;index" json:"owner_id"`

	Status string    `gorm:"not null;default:'pending';index" json:"status"` // pending, completed
	DueAt  time.Time `gorm:"not null" json:"due_at"`
	Note   string    `json:"note"`

	CompletedAt *time.Time `json:"completed_at"`
}
