package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"zapdesk/internal/models"
	"zapdesk/internal/services"
)

// StateControl is the slice of chatbot state management the trigger actions
// need: forcing a flow stage and ending bot ownership on transfer.
type StateControl interface {
	StartFlow(ctx context.Context, phone, stage, correlationID string) error
	Delete(ctx context.Context, phone string) error
}

// Outcome summarizes one evaluation pass over all triggers.
type Outcome struct {
	Fired              []uint
	Transferred        bool
	TransferDepartment string
	TransferReason     string
}

// Evaluator runs the configured automation triggers against each inbound
// message before the chatbot engine sees it. Triggers are evaluated in
// ascending priority order; a transfer action halts the pass.
type Evaluator struct {
	db            *gorm.DB
	contacts      *services.ContactService
	conversations *services.ConversationService
	states        StateControl
	actions       *actionRunner
}

// NewEvaluator creates a trigger evaluator.
func NewEvaluator(db *gorm.DB, contacts *services.ContactService, conversations *services.ConversationService, states StateControl) (*Evaluator, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact service cannot be nil")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation service cannot be nil")
	}
	if states == nil {
		return nil, fmt.Errorf("state control cannot be nil")
	}
	return &Evaluator{
		db:            db,
		contacts:      contacts,
		conversations: conversations,
		states:        states,
		actions:       newActionRunner(contacts, conversations, states),
	}, nil
}

// Evaluate runs every enabled trigger against the context. Condition checks
// are pure; cooldown and daily-cap guards query the activation audit log.
func (e *Evaluator) Evaluate(ctx context.Context, ec *EvalContext, correlationID string) (*Outcome, error) {
	if ec.Now.IsZero() {
		ec.Now = time.Now()
	}

	var triggers []models.AutomationTrigger
	err := e.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority ASC, id ASC").
		Find(&triggers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load triggers: %w", err)
	}

	outcome := &Outcome{}
	for i := range triggers {
		trigger := &triggers[i]

		var conditions ConditionSet
		if err := json.Unmarshal([]byte(trigger.Conditions), &conditions); err != nil {
			log.Warn().Err(err).Uint("triggerId", trigger.ID).Str("trigger", trigger.Name).Msg("Invalid trigger conditions, skipping")
			continue
		}

		matched, met := conditions.evaluate(ec)
		if !matched {
			continue
		}

		skip, err := e.guarded(ctx, trigger, ec)
		if err != nil {
			log.Error().Err(err).Uint("triggerId", trigger.ID).Msg("Trigger guard check failed, skipping")
			continue
		}
		if skip {
			continue
		}

		transferred := e.fire(ctx, trigger, ec, met, correlationID, outcome)
		if transferred {
			outcome.Transferred = true
			return outcome, nil
		}
	}

	return outcome, nil
}

// guarded reports whether cooldown or the daily activation cap suppresses
// this firing.
func (e *Evaluator) guarded(ctx context.Context, trigger *models.AutomationTrigger, ec *EvalContext) (bool, error) {
	if trigger.CooldownMinutes > 0 {
		var last models.TriggerActivation
		err := e.db.WithContext(ctx).
			Where("trigger_id = ? AND contact_phone = ?", trigger.ID, ec.Phone).
			Order("id DESC").
			First(&last).Error
		if err == nil && ec.Now.Sub(last.CreatedAt) < time.Duration(trigger.CooldownMinutes)*time.Minute {
			log.Debug().Uint("triggerId", trigger.ID).Str("phone", ec.Phone).Msg("Trigger suppressed by cooldown")
			return true, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}

	if trigger.MaxActivationsPerDay > 0 {
		dayStart := time.Date(ec.Now.Year(), ec.Now.Month(), ec.Now.Day(), 0, 0, 0, 0, ec.Now.Location())
		var count int64
		err := e.db.WithContext(ctx).Model(&models.TriggerActivation{}).
			Where("trigger_id = ? AND created_at >= ?", trigger.ID, dayStart).
			Count(&count).Error
		if err != nil {
			return false, err
		}
		if count >= int64(trigger.MaxActivationsPerDay) {
			log.Debug().Uint("triggerId", trigger.ID).Msg("Trigger suppressed by daily activation cap")
			return true, nil
		}
	}

	return false, nil
}

// fire executes the trigger's actions best-effort and records the activation
// audit row. Returns true when a transfer action executed.
func (e *Evaluator) fire(ctx context.Context, trigger *models.AutomationTrigger, ec *EvalContext, met []string, correlationID string, outcome *Outcome) bool {
	var actions []Action
	if err := json.Unmarshal([]byte(trigger.Actions), &actions); err != nil {
		log.Warn().Err(err).Uint("triggerId", trigger.ID).Str("trigger", trigger.Name).Msg("Invalid trigger actions, skipping")
		return false
	}

	log.Info().
		Str("correlationId", correlationID).
		Str("component", "triggers").
		Uint("triggerId", trigger.ID).
		Str("trigger", trigger.Name).
		Str("phone", ec.Phone).
		Msg("Trigger fired")

	results := make([]ActionOutcome, 0, len(actions))
	transferred := false
	allOK := true
	var firstErr string

	for _, action := range actions {
		res := e.actions.run(ctx, &action, ec, correlationID)
		results = append(results, res)
		if !res.Success {
			allOK = false
			if firstErr == "" {
				firstErr = res.Error
			}
			continue
		}
		if action.Type == ActionTransfer {
			transferred = true
			outcome.TransferDepartment = action.Department
			outcome.TransferReason = action.Reason
		}
	}

	outcome.Fired = append(outcome.Fired, trigger.ID)
	e.recordActivation(ctx, trigger, ec, met, results, allOK, firstErr)
	return transferred
}

func (e *Evaluator) recordActivation(ctx context.Context, trigger *models.AutomationTrigger, ec *EvalContext, met []string, results []ActionOutcome, success bool, errMsg string) {
	metJSON, _ := json.Marshal(met)
	resultsJSON, _ := json.Marshal(results)

	activation := models.TriggerActivation{
		TriggerID:       trigger.ID,
		ContactPhone:    ec.Phone,
		ConditionsMet:   string(metJSON),
		ActionsExecuted: string(resultsJSON),
		Success:         success,
		ErrorMessage:    errMsg,
	}
	if err := e.db.WithContext(ctx).Create(&activation).Error; err != nil {
		log.Error().Err(err).Uint("triggerId", trigger.ID).Msg("Failed to record trigger activation")
	}
}
