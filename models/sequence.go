package models

import "gorm.io/gorm"

// Sequence lifecycle statuses. Workers never mutate a sequence.
const (
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Step types
const (
	StepTypeAutoMessage = "auto_message"
	StepTypeManualTask  = "manual_task"
)

// Sequence is an ordered template of outbound communication steps. Created
// by an operator; read-only to the pipeline.
type Sequence struct {
	gorm.Model
	OwnerID uint `gorm:"not null;index" json:"owner_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'active'" json:"status"` // active, paused, archived

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep is one step in a sequence. StepIndex is zero-based and
// contiguous within its sequence.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	TemplateID uint `gorm:"index" json:"template_id"`

	StepIndex  int    `gorm:"not null" json:"step_index"`
	StepType   string `gorm:"not null;default:'auto_message'" json:"step_type"` // auto_message, manual_task
	OffsetDays int    `gorm:"not null;default:0" json:"offset_days"`            // days after enrollment

	// Manual task steps only
	TaskNote string `json:"task_note"`

	// Relations
	Template Template `json:"-"`
}

// StepAt returns the step with the given index, or nil when the sequence has
// no such step.
func (s *Sequence) StepAt(index int) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].StepIndex == index {
			return &s.Steps[i]
		}
	}
	return nil
}
