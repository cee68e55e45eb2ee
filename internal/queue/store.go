package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapdesk/internal/events"
	"zapdesk/internal/models"
)

// ErrDuplicate is returned by Enqueue when the dedup key already exists,
// which happens on gateway webhook redeliveries.
var ErrDuplicate = errors.New("queue: duplicate message")

// ErrEmpty is returned by Dequeue when no row is due.
var ErrEmpty = errors.New("queue: no pending messages")

// Store is the durable work queue over the queued_messages table. Exclusive
// claiming relies on a status-guarded UPDATE with a RowsAffected check, so
// concurrent processors never obtain the same row.
type Store struct {
	db         *gorm.DB
	retryDelay time.Duration
}

// NewStore creates a queue store. retryDelay is the fixed backoff applied to
// failures that are allowed to retry.
func NewStore(db *gorm.DB, retryDelay time.Duration) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	if retryDelay <= 0 {
		retryDelay = 60 * time.Second
	}
	return &Store{db: db, retryDelay: retryDelay}, nil
}

// Enqueue persists a new pending row and returns its ID. It never blocks on
// downstream processing.
func (s *Store) Enqueue(ctx context.Context, msg *models.QueuedMessage) (uint, error) {
	if msg.Status == "" {
		msg.Status = models.QueueStatusPending
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = 3
	}
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = time.Now()
	}

	if msg.DedupKey != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.QueuedMessage{}).
			Where("dedup_key = ?", msg.DedupKey).Count(&count).Error; err != nil {
			return 0, fmt.Errorf("dedup lookup failed: %w", err)
		}
		if count > 0 {
			return 0, ErrDuplicate
		}
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		// The unique index on dedup_key closes the lookup/insert race.
		if msg.DedupKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to enqueue message: %w", err)
	}

	log.Debug().
		Uint("queueId", msg.ID).
		Str("correlationId", msg.CorrelationID).
		Str("messageType", msg.MessageType).
		Msg("Message enqueued")
	return msg.ID, nil
}

// Dequeue claims the single oldest due row, ordered by priority then age, and
// flips it to processing. Returns ErrEmpty when nothing is due.
func (s *Store) Dequeue(ctx context.Context) (*models.QueuedMessage, error) {
	now := time.Now()

	// A candidate select followed by a status-guarded claim. The claim is a
	// single UPDATE; losing the race to another processor just moves on to
	// the next candidate.
	for attempt := 0; attempt < 5; attempt++ {
		var candidate models.QueuedMessage
		err := s.db.WithContext(ctx).
			Where("status IN ? AND scheduled_at <= ?",
				[]string{models.QueueStatusPending, models.QueueStatusRetrying}, now).
			Order("priority ASC, scheduled_at ASC, id ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue candidate lookup failed: %w", err)
		}

		res := s.db.WithContext(ctx).Model(&models.QueuedMessage{}).
			Where("id = ? AND status IN ?", candidate.ID,
				[]string{models.QueueStatusPending, models.QueueStatusRetrying}).
			Update("status", models.QueueStatusProcessing)
		if res.Error != nil {
			return nil, fmt.Errorf("dequeue claim failed: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			candidate.Status = models.QueueStatusProcessing
			return &candidate, nil
		}
		// Another processor claimed it first.
	}

	return nil, ErrEmpty
}

// MarkCompleted finishes a claimed row.
func (s *Store) MarkCompleted(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.QueuedMessage{}).
		Where("id = ? AND status = ?", id, models.QueueStatusProcessing).
		Update("status", models.QueueStatusCompleted)
	if res.Error != nil {
		return fmt.Errorf("failed to mark message %d completed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %d was not in processing state", id)
	}
	return nil
}

// MarkFailed records a processing failure. With shouldRetry and remaining
// retry budget the row is rescheduled after the fixed delay; otherwise it is
// copied to the dead-letter table and left failed. Rows are never deleted.
func (s *Store) MarkFailed(ctx context.Context, id uint, errMsg string, shouldRetry bool) error {
	var msg models.QueuedMessage
	if err := s.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return fmt.Errorf("failed to load message %d: %w", id, err)
	}

	if shouldRetry && msg.RetryCount+1 < msg.MaxRetries {
		err := s.db.WithContext(ctx).Model(&models.QueuedMessage{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":        models.QueueStatusRetrying,
				"retry_count":   gorm.Expr("retry_count + 1"),
				"scheduled_at":  time.Now().Add(s.retryDelay),
				"error_message": errMsg,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to reschedule message %d: %w", id, err)
		}
		log.Warn().
			Uint("queueId", id).
			Str("correlationId", msg.CorrelationID).
			Int("retryCount", msg.RetryCount+1).
			Str("error", errMsg).
			Msg("Message processing failed, retry scheduled")
		return nil
	}

	return s.deadLetter(ctx, &msg, errMsg)
}

// deadLetter copies the exhausted message into the dead-letter table and
// marks the original failed. The unique index on original_id keeps the copy
// exactly-once even when the mark step is retried.
func (s *Store) deadLetter(ctx context.Context, msg *models.QueuedMessage, errMsg string) error {
	dl := models.DeadLetterMessage{
		OriginalID:    msg.ID,
		CorrelationID: msg.CorrelationID,
		MessageType:   msg.MessageType,
		Payload:       msg.Payload,
		RetryCount:    msg.RetryCount,
		ErrorMessage:  errMsg,
	}
	if err := s.db.WithContext(ctx).Create(&dl).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("failed to dead-letter message %d: %w", msg.ID, err)
	}

	err := s.db.WithContext(ctx).Model(&models.QueuedMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":        models.QueueStatusFailed,
			"error_message": errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark message %d failed: %w", msg.ID, err)
	}

	log.Error().
		Uint("queueId", msg.ID).
		Str("correlationId", msg.CorrelationID).
		Int("retryCount", msg.RetryCount).
		Str("error", errMsg).
		Msg("Message moved to dead-letter store")

	events.Publish(events.EventDeadLettered, msg.CorrelationID, map[string]interface{}{
		"queueId":     msg.ID,
		"messageType": msg.MessageType,
		"error":       errMsg,
	})
	return nil
}

// DeadLetterCount reports how many messages failed permanently.
func (s *Store) DeadLetterCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DeadLetterMessage{}).Count(&count).Error
	return count, err
}

// PendingCount reports how many rows are waiting or due for retry.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.QueuedMessage{}).
		Where("status IN ?", []string{models.QueueStatusPending, models.QueueStatusRetrying}).
		Count(&count).Error
	return count, err
}
