package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceActivation lifecycle statuses.
const (
	ActivationStatusPending    = "pending"
	ActivationStatusProcessing = "processing"
	ActivationStatusCompleted  = "completed"
	ActivationStatusFailed     = "failed"
)

// SequenceActivation is a batch enrollment job: enroll these contacts into
// this sequence. Created by the activation endpoint, owned afterwards by the
// activation worker, which is the only writer of Status and ProcessedCount.
//
// ProcessedCount is the resumability checkpoint: it only increases, never
// exceeds len(ContactIDs), and an interrupted run resumes from it.
type SequenceActivation struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	OwnerID    uint `gorm:"not null;index" json:"owner_id"`

	ContactIDs []uint `gorm:"type:jsonb;serializer:json" json:"contact_ids"`

	Status         string     `gorm:"not null;default:'pending';index" json:"status"` // pending, processing, completed, failed
	ProcessedCount int        `gorm:"not null;default:0" json:"processed_count"`
	ClaimedAt      *time.Time `json:"claimed_at"`

	SkippedTargets []SkippedTarget `gorm:"type:jsonb;serializer:json" json:"skipped_targets,omitempty"`

	// Relations
	Sequence Sequence `json:"-"`
}

// SkippedTarget records why one contact in a batch was skipped. Skips never
// stall the batch; the reason is kept for diagnostics.
type SkippedTarget struct {
	ContactID uint   `json:"contact_id"`
	Reason    string `json:"reason"`
}
