package store

import (
	"time"

	"voltcrm/models"

	"gorm.io/gorm"
)

// OpenActivations returns batches that still need work, oldest first.
// A `processing` batch is included so an interrupted run can be resumed from
// its checkpoint by the next tick.
func (s *Store) OpenActivations(limit int) ([]models.SequenceActivation, error) {
	var activations []models.SequenceActivation
	err := s.DB.
		Where("status IN ?", []string{models.ActivationStatusPending, models.ActivationStatusProcessing}).
		Order("created_at ASC").
		Limit(limit).
		Find(&activations).Error
	return activations, err
}

// ClaimActivation attempts the pending→processing transition. It reports
// whether this call took the claim; a batch already in `processing` is not
// re-claimed but is still safe to resume, the existence checks downstream
// make the work idempotent.
func (s *Store) ClaimActivation(id uint) (bool, error) {
	res := s.DB.Model(&models.SequenceActivation{}).
		Where("id = ? AND status = ?", id, models.ActivationStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ActivationStatusProcessing,
			"claimed_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// CheckpointActivation persists batch progress after each target. The guard
// keeps processed_count monotonic even if two runs overlap on the same batch.
func (s *Store) CheckpointActivation(id uint, processedCount int, skipped []models.SkippedTarget) error {
	return s.DB.Model(&models.SequenceActivation{}).
		Where("id = ? AND processed_count < ?", id, processedCount).
		Updates(map[string]interface{}{
			"processed_count": processedCount,
			"skipped_targets": skipped,
		}).Error
}

// CompleteActivation marks a fully processed batch completed.
func (s *Store) CompleteActivation(id uint) error {
	return s.DB.Model(&models.SequenceActivation{}).
		Where("id = ? AND status = ?", id, models.ActivationStatusProcessing).
		Update("status", models.ActivationStatusCompleted).Error
}

// FailActivation marks a batch failed. Only used for unrecoverable batch
// level problems (sequence deleted, sequence not active); per-target errors
// are skips, not failures. The batch-level reason is appended to whatever
// per-target skips a prior run already checkpointed.
func (s *Store) FailActivation(id uint, reason string) error {
	activation, err := s.GetActivation(id)
	if err != nil {
		return err
	}
	skipped := append(activation.SkippedTargets, models.SkippedTarget{Reason: reason})
	return s.DB.Model(&models.SequenceActivation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.ActivationStatusFailed,
			"skipped_targets": skipped,
		}).Error
}

// StaleActivations lists batches stuck in `processing` longer than maxAge.
// They are surfaced to the operator, never auto-retried: the claim may
// belong to a run that is merely slow, and re-running it blind risks
// duplicate side effects.
func (s *Store) StaleActivations(maxAge time.Duration) ([]models.SequenceActivation, error) {
	cutoff := time.Now().Add(-maxAge)
	var activations []models.SequenceActivation
	err := s.DB.
		Where("status = ? AND claimed_at < ?", models.ActivationStatusProcessing, cutoff).
		Order("claimed_at ASC").
		Find(&activations).Error
	return activations, err
}

// GetActivation loads one batch.
func (s *Store) GetActivation(id uint) (*models.SequenceActivation, error) {
	var activation models.SequenceActivation
	if err := s.DB.First(&activation, id).Error; err != nil {
		return nil, err
	}
	return &activation, nil
}

// CreateActivation enqueues a new enrollment batch.
func (s *Store) CreateActivation(activation *models.SequenceActivation) error {
	return s.DB.Create(activation).Error
}

// GetSequenceWithSteps loads a sequence and its ordered steps.
func (s *Store) GetSequenceWithSteps(id uint) (*models.Sequence, error) {
	var sequence models.Sequence
	err := s.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_index ASC")
	}).First(&sequence, id).Error
	if err != nil {
		return nil, err
	}
	return &sequence, nil
}
