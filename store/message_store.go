package store

import (
	"time"

	"voltcrm/models"
)

// MessageExists reports whether a message already exists for (member, step).
func (s *Store) MessageExists(memberID uint, stepIndex int) (bool, error) {
	var count int64
	err := s.DB.Model(&models.SequenceMessage{}).
		Where("member_id = ? AND step_index = ?", memberID, stepIndex).
		Count(&count).Error
	return count > 0, err
}

// CreateMessage inserts a draft message. The unique (member_id, step_index)
// index is the backstop when two creators race past the existence check;
// the loser gets ErrAlreadyExists and treats it as a no-op.
func (s *Store) CreateMessage(message *models.SequenceMessage) error {
	if message.Status == "" {
		message.Status = models.MessageStatusNotGenerated
	}
	return translateCreateErr(s.DB.Create(message).Error)
}

// MessagesNeedingContent returns draft messages the generator should pick
// up, oldest first.
func (s *Store) MessagesNeedingContent(limit int) ([]models.SequenceMessage, error) {
	var messages []models.SequenceMessage
	err := s.DB.
		Where("status = ?", models.MessageStatusNotGenerated).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// ClaimForGeneration attempts not_generated→generating. Only the invocation
// that wins the claim calls the generation service.
func (s *Store) ClaimForGeneration(id uint) (bool, error) {
	res := s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusNotGenerated).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusGenerating,
			"claimed_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// FinishGeneration writes generated content and moves the message to the
// approval queue.
func (s *Store) FinishGeneration(id uint, subject, body string) error {
	return s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusGenerating).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusPendingApproval,
			"subject":    subject,
			"body":       body,
			"claimed_at": nil,
		}).Error
}

// RevertGeneration puts a message back to not_generated after a generation
// failure so the next tick retries it. Partially written content is
// discarded with the claim.
func (s *Store) RevertGeneration(id uint, errMsg string) error {
	return s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusGenerating).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusNotGenerated,
			"subject":    "",
			"body":       "",
			"claimed_at": nil,
			"last_error": errMsg,
		}).Error
}

// ResetStaleGenerating sweeps messages stuck in `generating` past maxAge —
// the process died mid-call and the claim is a status flag, not a lease, so
// somebody has to reset it. Returns the number swept.
func (s *Store) ResetStaleGenerating(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := s.DB.Model(&models.SequenceMessage{}).
		Where("status = ? AND claimed_at < ?", models.MessageStatusGenerating, cutoff).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusNotGenerated,
			"subject":    "",
			"body":       "",
			"claimed_at": nil,
			"last_error": "stale generation claim reset",
		})
	return res.RowsAffected, res.Error
}

// PendingApproval lists messages waiting for a human, oldest first.
func (s *Store) PendingApproval(ownerID uint, limit int) ([]models.SequenceMessage, error) {
	var messages []models.SequenceMessage
	q := s.DB.Where("status = ?", models.MessageStatusPendingApproval)
	if ownerID != 0 {
		q = q.Where("owner_id = ?", ownerID)
	}
	err := q.Order("created_at ASC").Limit(limit).Find(&messages).Error
	return messages, err
}

// ApproveMessage performs the pending_approval→approved transition, the only
// point where a human can alter the automation's output. Empty subject/body
// and nil sendTime leave the generated values untouched. Reports whether the
// message was in pending_approval.
func (s *Store) ApproveMessage(id uint, subject, body string, sendTime *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": models.MessageStatusApproved}
	if subject != "" {
		updates["subject"] = subject
	}
	if body != "" {
		updates["body"] = body
	}
	if sendTime != nil {
		updates["scheduled_send_time"] = *sendTime
	}
	res := s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusPendingApproval).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// DueForDispatch returns approved messages whose scheduled time has elapsed.
func (s *Store) DueForDispatch(now time.Time, limit int) ([]models.SequenceMessage, error) {
	var messages []models.SequenceMessage
	err := s.DB.
		Where("status = ? AND scheduled_send_time <= ?", models.MessageStatusApproved, now).
		Order("scheduled_send_time ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// ClaimForDispatch attempts approved→sending. This transition is the unique
// gate guaranteeing a message is sent at most once: only the invocation that
// flips it makes the delivery call.
func (s *Store) ClaimForDispatch(id uint) (bool, error) {
	res := s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusApproved).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusSending,
			"claimed_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(id uint, deliveryID string) error {
	now := time.Now()
	return s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusSending).
		Updates(map[string]interface{}{
			"status":      models.MessageStatusSent,
			"sent_at":     now,
			"delivery_id": deliveryID,
			"claimed_at":  nil,
			"last_error":  "",
		}).Error
}

// MarkSendFailed records a delivery failure. With attempts left the message
// goes back to approved so the next tick retries; once maxAttempts is
// reached it stays failed permanently and is surfaced to diagnostics.
// Reports whether the message is permanently failed.
func (s *Store) MarkSendFailed(id uint, errMsg string, maxAttempts int) (bool, error) {
	var message models.SequenceMessage
	if err := s.DB.First(&message, id).Error; err != nil {
		return false, err
	}

	attempts := message.AttemptCount + 1
	next := models.MessageStatusApproved
	if attempts >= maxAttempts {
		next = models.MessageStatusFailed
	}

	err := s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusSending).
		Updates(map[string]interface{}{
			"status":        next,
			"attempt_count": attempts,
			"claimed_at":    nil,
			"last_error":    errMsg,
		}).Error
	return next == models.MessageStatusFailed, err
}

// CancelSending fails a claimed message without burning a retry attempt.
// Used when the send is pointless rather than broken: the member left the
// sequence, or the recipient address is unusable.
func (s *Store) CancelSending(id uint, reason string) error {
	return s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusSending).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusFailed,
			"claimed_at": nil,
			"last_error": reason,
		}).Error
}

// ReleaseSending reverts sending→approved without burning an attempt. Used
// when the dispatcher hits a transient infrastructure error before making
// the delivery call; the next tick retries with the claim gone.
func (s *Store) ReleaseSending(id uint) error {
	return s.DB.Model(&models.SequenceMessage{}).
		Where("id = ? AND status = ?", id, models.MessageStatusSending).
		Updates(map[string]interface{}{
			"status":     models.MessageStatusApproved,
			"claimed_at": nil,
		}).Error
}

// GetMessage loads one message.
func (s *Store) GetMessage(id uint) (*models.SequenceMessage, error) {
	var message models.SequenceMessage
	if err := s.DB.First(&message, id).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// MessageCountsByStatus aggregates messages per status, the backbone of the
// diagnostics surface.
func (s *Store) MessageCountsByStatus(ownerID uint) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	q := s.DB.Model(&models.SequenceMessage{}).Select("status, COUNT(*) AS n").Group("status")
	if ownerID != 0 {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// SequenceBreakdown is one row of the per-sequence diagnostics view.
type SequenceBreakdown struct {
	SequenceID      uint   `json:"sequence_id"`
	SequenceName    string `json:"sequence_name"`
	ActiveMembers   int64  `json:"active_members"`
	PendingApproval int64  `json:"pending_approval"`
	Approved        int64  `json:"approved"`
	Sent            int64  `json:"sent"`
	Failed          int64  `json:"failed"`
}

// MessageBreakdownBySequence aggregates pipeline state per sequence. Members
// and messages are joined onto the same sequence row, so every count must be
// DISTINCT over its own ids or the two joins cross-multiply each other.
func (s *Store) MessageBreakdownBySequence(ownerID uint) ([]SequenceBreakdown, error) {
	var rows []SequenceBreakdown
	q := s.DB.Model(&models.Sequence{}).
		Select(`sequences.id AS sequence_id,
			sequences.name AS sequence_name,
			COUNT(DISTINCT CASE WHEN sequence_members.status = 'active' THEN sequence_members.id END) AS active_members,
			COUNT(DISTINCT CASE WHEN sequence_messages.status = 'pending_approval' THEN sequence_messages.id END) AS pending_approval,
			COUNT(DISTINCT CASE WHEN sequence_messages.status = 'approved' THEN sequence_messages.id END) AS approved,
			COUNT(DISTINCT CASE WHEN sequence_messages.status = 'sent' THEN sequence_messages.id END) AS sent,
			COUNT(DISTINCT CASE WHEN sequence_messages.status = 'failed' THEN sequence_messages.id END) AS failed`).
		Joins("LEFT JOIN sequence_members ON sequence_members.sequence_id = sequences.id").
		Joins("LEFT JOIN sequence_messages ON sequence_messages.sequence_id = sequences.id").
		Group("sequences.id, sequences.name")
	if ownerID != 0 {
		q = q.Where("sequences.owner_id = ?", ownerID)
	}
	err := q.Scan(&rows).Error
	return rows, err
}

// SentMessagesToEmail finds sent messages addressed to the given contact
// email, newest first. Used by the reply monitor to correlate replies.
func (s *Store) SentMessagesToEmail(email string) ([]models.SequenceMessage, error) {
	var messages []models.SequenceMessage
	err := s.DB.
		Joins("JOIN sequence_members ON sequence_members.id = sequence_messages.member_id").
		Joins("JOIN contacts ON contacts.id = sequence_members.contact_id").
		Where("sequence_messages.status = ? AND LOWER(contacts.email) = LOWER(?)",
			models.MessageStatusSent, email).
		Order("sequence_messages.sent_at DESC").
		Find(&messages).Error
	return messages, err
}
