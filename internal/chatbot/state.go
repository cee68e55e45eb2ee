package chatbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapdesk/internal/models"
)

// ErrStaleState is returned when a concurrent turn updated the state row
// first. The losing turn is replayed by the queue's retry policy.
var ErrStaleState = errors.New("chatbot: state row changed underneath this turn")

// StateStore persists the per-phone conversation state. Updates are
// compare-and-swap on the version column so two near-simultaneous turns for
// the same phone cannot both win.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore creates a StateStore.
func NewStateStore(db *gorm.DB) (*StateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &StateStore{db: db}, nil
}

// LoadOrCreate returns the live state for a phone, creating a fresh row at
// the start stage for unknown numbers. The second return reports creation.
func (s *StateStore) LoadOrCreate(ctx context.Context, phone, correlationID string) (*models.ChatbotState, bool, error) {
	var state models.ChatbotState
	err := s.db.WithContext(ctx).Where("contact_phone = ?", phone).First(&state).Error
	if err == nil {
		return &state, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("state lookup failed: %w", err)
	}

	state = models.ChatbotState{
		ContactPhone:  phone,
		CurrentStage:  string(StageStart),
		Context:       "{}",
		CorrelationID: correlationID,
	}
	if err := s.db.WithContext(ctx).Create(&state).Error; err != nil {
		// Lost a creation race: reuse the row the other turn created.
		var existing models.ChatbotState
		if lookupErr := s.db.WithContext(ctx).Where("contact_phone = ?", phone).First(&existing).Error; lookupErr == nil {
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("state creation failed: %w", err)
	}

	log.Debug().Str("phone", phone).Msg("Chatbot state created at start stage")
	return &state, true, nil
}

// Update advances the state row in place, guarded by the version the turn
// loaded. A stale version means another turn got there first.
func (s *StateStore) Update(ctx context.Context, state *models.ChatbotState, stage Stage, stageCtx StageContext, intent string, confidence float64, correlationID string) error {
	raw, err := json.Marshal(stageCtx)
	if err != nil {
		return fmt.Errorf("failed to encode stage context: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.ChatbotState{}).
		Where("id = ? AND version = ?", state.ID, state.Version).
		Updates(map[string]interface{}{
			"current_stage":  string(stage),
			"context":        string(raw),
			"nlp_intent":     intent,
			"nlp_confidence": confidence,
			"correlation_id": correlationID,
			"version":        state.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("state update failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}

	state.CurrentStage = string(stage)
	state.Context = string(raw)
	state.Version++
	return nil
}

// StartFlow forces the phone's conversation into the given stage, creating
// state for unknown numbers. Used by the start_flow trigger action.
func (s *StateStore) StartFlow(ctx context.Context, phone, stage, correlationID string) error {
	if _, known := stageHandlers[Stage(stage)]; !known {
		return fmt.Errorf("unknown flow stage %q", stage)
	}

	state, _, err := s.LoadOrCreate(ctx, phone, correlationID)
	if err != nil {
		return err
	}

	var stageCtx StageContext
	if state.Context != "" {
		_ = json.Unmarshal([]byte(state.Context), &stageCtx)
	}
	return s.Update(ctx, state, Stage(stage), stageCtx, state.NlpIntent, state.NlpConfidence, correlationID)
}

// Delete removes the phone's state row, ending bot ownership. Deleting a
// missing row is not an error.
func (s *StateStore) Delete(ctx context.Context, phone string) error {
	err := s.db.WithContext(ctx).Where("contact_phone = ?", phone).Delete(&models.ChatbotState{}).Error
	if err != nil {
		return fmt.Errorf("state deletion failed: %w", err)
	}
	return nil
}
