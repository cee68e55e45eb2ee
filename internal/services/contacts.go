package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapdesk/internal/models"
)

// ContactService owns the contact table keyed by phone number.
type ContactService struct {
	db *gorm.DB
}

// NewContactService creates a ContactService.
func NewContactService(db *gorm.DB) (*ContactService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &ContactService{db: db}, nil
}

// FindOrCreate returns the contact for a phone number, creating it on first
// sight. The second return reports whether the row was created now, which the
// trigger evaluator uses as its new-contact signal.
func (s *ContactService) FindOrCreate(ctx context.Context, phone, name string) (*models.Contact, bool, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&contact).Error
	if err == nil {
		if name != "" && contact.Name == "" {
			s.db.WithContext(ctx).Model(&contact).Update("name", name)
			contact.Name = name
		}
		return &contact, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("contact lookup failed: %w", err)
	}

	contact = models.Contact{Phone: phone, Name: name, Tags: "[]"}
	if err := s.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, false, fmt.Errorf("contact creation failed: %w", err)
	}
	log.Info().Str("phone", phone).Str("name", name).Msg("New contact created")
	return &contact, true, nil
}

// Tags returns the contact's tag list, or nil for an unknown contact.
func (s *ContactService) Tags(ctx context.Context, phone string) ([]string, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contact lookup failed: %w", err)
	}

	var tags []string
	if contact.Tags != "" {
		if err := json.Unmarshal([]byte(contact.Tags), &tags); err != nil {
			return nil, fmt.Errorf("contact %s has invalid tags: %w", phone, err)
		}
	}
	return tags, nil
}

// AddTag appends a tag to the contact, creating the contact if needed.
// Adding a tag twice is a no-op.
func (s *ContactService) AddTag(ctx context.Context, phone, tag string) error {
	contact, _, err := s.FindOrCreate(ctx, phone, "")
	if err != nil {
		return err
	}

	var tags []string
	if contact.Tags != "" {
		_ = json.Unmarshal([]byte(contact.Tags), &tags)
	}
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	tags = append(tags, tag)

	raw, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	return s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("phone = ?", phone).Update("tags", string(raw)).Error
}

// RemoveTag drops a tag from the contact if present.
func (s *ContactService) RemoveTag(ctx context.Context, phone, tag string) error {
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("contact lookup failed: %w", err)
	}

	var tags []string
	if contact.Tags != "" {
		_ = json.Unmarshal([]byte(contact.Tags), &tags)
	}
	kept := tags[:0]
	for _, t := range tags {
		if t != tag {
			kept = append(kept, t)
		}
	}

	raw, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	return s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("phone = ?", phone).Update("tags", string(raw)).Error
}
