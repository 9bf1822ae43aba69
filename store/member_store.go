package store

import (
	"errors"
	"time"

	"voltcrm/models"

	"gorm.io/gorm"
)

// ActiveMember finds the active enrollment of a contact in a sequence.
// Returns (nil, nil) when none exists.
func (s *Store) ActiveMember(sequenceID, contactID uint) (*models.SequenceMember, error) {
	var member models.SequenceMember
	err := s.DB.
		Where("sequence_id = ? AND contact_id = ? AND status = ?",
			sequenceID, contactID, models.MemberStatusActive).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// CreateMember enrolls a contact at step 0. Callers must have checked
// ActiveMember first; the partial unique index over active rows is the
// backstop when two creators race past that check, and the loser gets
// ErrAlreadyExists.
func (s *Store) CreateMember(member *models.SequenceMember) error {
	if member.EnrolledAt.IsZero() {
		member.EnrolledAt = time.Now()
	}
	member.Status = models.MemberStatusActive
	return translateCreateErr(s.DB.Create(member).Error)
}

// AdvanceCursor moves a member from fromStep to fromStep+1. Guarded on the
// current cursor value so two dispatchers finishing the same step cannot
// double-advance. Reports whether this call moved the cursor.
func (s *Store) AdvanceCursor(memberID uint, fromStep int) (bool, error) {
	res := s.DB.Model(&models.SequenceMember{}).
		Where("id = ? AND current_step_index = ? AND status = ?",
			memberID, fromStep, models.MemberStatusActive).
		Update("current_step_index", fromStep+1)
	return res.RowsAffected == 1, res.Error
}

// CompleteMember ends an enrollment that has run through every step.
func (s *Store) CompleteMember(memberID uint, reason string) error {
	return s.DB.Model(&models.SequenceMember{}).
		Where("id = ? AND status = ?", memberID, models.MemberStatusActive).
		Updates(map[string]interface{}{
			"status":      models.MemberStatusCompleted,
			"exit_reason": reason,
		}).Error
}

// RemoveMember takes a contact out of a sequence before it finishes
// (replied, unsubscribed, manual removal).
func (s *Store) RemoveMember(memberID uint, reason string) error {
	return s.DB.Model(&models.SequenceMember{}).
		Where("id = ? AND status = ?", memberID, models.MemberStatusActive).
		Updates(map[string]interface{}{
			"status":      models.MemberStatusRemoved,
			"exit_reason": reason,
		}).Error
}

// GetMember loads one enrollment.
func (s *Store) GetMember(id uint) (*models.SequenceMember, error) {
	var member models.SequenceMember
	if err := s.DB.First(&member, id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

// ActiveMembersPage pages through active enrollments, for the backfill
// scan. A zero sequenceID means all sequences.
func (s *Store) ActiveMembersPage(sequenceID uint, offset, limit int) ([]models.SequenceMember, error) {
	var members []models.SequenceMember
	q := s.DB.Where("status = ?", models.MemberStatusActive)
	if sequenceID != 0 {
		q = q.Where("sequence_id = ?", sequenceID)
	}
	err := q.Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&members).Error
	return members, err
}

// ActiveMembersByEmail finds active enrollments whose contact has the given
// email address. Used by the reply monitor to stop sequencing on engagement.
func (s *Store) ActiveMembersByEmail(email string) ([]models.SequenceMember, error) {
	var members []models.SequenceMember
	err := s.DB.
		Joins("JOIN contacts ON contacts.id = sequence_members.contact_id").
		Where("sequence_members.status = ? AND LOWER(contacts.email) = LOWER(?)",
			models.MemberStatusActive, email).
		Find(&members).Error
	return members, err
}
