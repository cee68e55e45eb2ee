package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapdesk/internal/models"
)

// ConversationService maintains the one-live-conversation-per-phone invariant
// and the message log underneath it.
type ConversationService struct {
	db *gorm.DB
}

// NewConversationService creates a ConversationService.
func NewConversationService(db *gorm.DB) (*ConversationService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &ConversationService{db: db}, nil
}

// FindOrCreateActive returns the phone's non-finished conversation, creating
// an active one when none exists. Never duplicates a live conversation.
func (s *ConversationService) FindOrCreateActive(ctx context.Context, phone string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("contact_phone = ? AND status <> ?", phone, models.ConversationFinished).
		Order("id DESC").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation lookup failed: %w", err)
	}

	conv = models.Conversation{ContactPhone: phone, Status: models.ConversationActive}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("conversation creation failed: %w", err)
	}
	log.Info().Str("phone", phone).Uint("conversationId", conv.ID).Msg("New conversation opened")
	return &conv, nil
}

// HasHumanAssignment reports whether the phone's live conversation is already
// owned by a human agent, in which case the chatbot must stay out.
func (s *ConversationService) HasHumanAssignment(ctx context.Context, phone string) (bool, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("contact_phone = ? AND status <> ?", phone, models.ConversationFinished).
		Order("id DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conversation lookup failed: %w", err)
	}
	return conv.AssignedAgent != "" || conv.Status == models.ConversationInProgress, nil
}

// AppendMessage stores one message on a conversation. body may be any
// JSON-encodable payload; plain strings become {"message": …}.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID uint, senderKind, kind string, body interface{}) error {
	if text, ok := body.(string); ok {
		body = map[string]string{"message": text}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode message body: %w", err)
	}

	msg := models.Message{
		ConversationID: conversationID,
		SenderKind:     senderKind,
		Kind:           kind,
		Body:           string(raw),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// LastCustomerActivity returns the time of the phone's most recent customer
// message, or the zero time when there is none. The trigger evaluator uses it
// for inactivity conditions.
func (s *ConversationService) LastCustomerActivity(ctx context.Context, phone string) (time.Time, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.contact_phone = ? AND messages.sender_kind = ?", phone, models.SenderCustomer).
		Order("messages.id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("activity lookup failed: %w", err)
	}
	return msg.CreatedAt, nil
}

// Transfer hands the phone's live conversation to human agents: the
// conversation moves to in_progress with the target department and gains a
// system message carrying the handoff summary.
func (s *ConversationService) Transfer(ctx context.Context, phone, department, summary string) (*models.Conversation, error) {
	conv, err := s.FindOrCreateActive(ctx, phone)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]interface{}{
			"status":     models.ConversationInProgress,
			"department": department,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to mark conversation for human handling: %w", err)
	}

	if err := s.AppendMessage(ctx, conv.ID, models.SenderSystem, "text", summary); err != nil {
		return nil, err
	}

	conv.Status = models.ConversationInProgress
	conv.Department = department

	log.Info().
		Str("phone", phone).
		Uint("conversationId", conv.ID).
		Str("department", department).
		Msg("Conversation transferred to human agents")
	return conv, nil
}
