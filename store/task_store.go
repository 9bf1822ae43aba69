package store

import (
	"time"

	"voltcrm/models"
)

// TaskExists reports whether a task already exists for (member, step).
func (s *Store) TaskExists(memberID uint, stepIndex int) (bool, error) {
	var count int64
	err := s.DB.Model(&models.SequenceTask{}).
		Where("member_id = ? AND step_index = ?", memberID, stepIndex).
		Count(&count).Error
	return count > 0, err
}

// CreateTask inserts a manual-step task, deduped by the (member_id,
// step_index) unique index like messages are.
func (s *Store) CreateTask(task *models.SequenceTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	return translateCreateErr(s.DB.Create(task).Error)
}

// CompleteTask performs the pending→completed transition. Reports whether
// this call completed it; the cursor advance belongs to the caller.
func (s *Store) CompleteTask(id uint) (bool, error) {
	now := time.Now()
	res := s.DB.Model(&models.SequenceTask{}).
		Where("id = ? AND status = ?", id, models.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusCompleted,
			"completed_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// GetTask loads one task.
func (s *Store) GetTask(id uint) (*models.SequenceTask, error) {
	var task models.SequenceTask
	if err := s.DB.First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// PendingTasks lists open manual tasks for an owner, due first.
func (s *Store) PendingTasks(ownerID uint, limit int) ([]models.SequenceTask, error) {
	var tasks []models.SequenceTask
	q := s.DB.Where("status = ?", models.TaskStatusPending)
	if ownerID != 0 {
		q = q.Where("owner_id = ?", ownerID)
	}
	err := q.Order("due_at ASC").Limit(limit).Find(&tasks).Error
	return tasks, err
}
