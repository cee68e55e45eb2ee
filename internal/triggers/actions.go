package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/services"
)

// Action types.
const (
	ActionTransfer  = "transfer"
	ActionAddTag    = "add_tag"
	ActionRemoveTag = "remove_tag"
	ActionWebhook   = "webhook"
	ActionStartFlow = "start_flow"
	ActionLogEvent  = "log_event"
)

// Action is one configured trigger action.
type Action struct {
	Type       string `json:"type"`
	Department string `json:"department,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Tag        string `json:"tag,omitempty"`
	URL        string `json:"url,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ActionOutcome records the result of one action in the activation audit row.
type ActionOutcome struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// actionRunner executes trigger actions. Each action is best-effort: its
// failure is recorded but never aborts the rest of the evaluation.
type actionRunner struct {
	contacts      *services.ContactService
	conversations *services.ConversationService
	states        StateControl
	httpClient    *resty.Client
}

func newActionRunner(contacts *services.ContactService, conversations *services.ConversationService, states StateControl) *actionRunner {
	return &actionRunner{
		contacts:      contacts,
		conversations: conversations,
		states:        states,
		httpClient:    resty.New().SetTimeout(10 * time.Second),
	}
}

func (r *actionRunner) run(ctx context.Context, action *Action, ec *EvalContext, correlationID string) ActionOutcome {
	outcome := ActionOutcome{Type: action.Type, Success: true}

	var err error
	switch action.Type {
	case ActionTransfer:
		err = r.transfer(ctx, action, ec)
	case ActionAddTag:
		err = r.contacts.AddTag(ctx, ec.Phone, action.Tag)
	case ActionRemoveTag:
		err = r.contacts.RemoveTag(ctx, ec.Phone, action.Tag)
	case ActionWebhook:
		err = r.webhook(ctx, action, ec, correlationID)
	case ActionStartFlow:
		err = r.states.StartFlow(ctx, ec.Phone, action.Stage, correlationID)
	case ActionLogEvent:
		log.Info().
			Str("correlationId", correlationID).
			Str("component", "triggers").
			Str("phone", ec.Phone).
			Str("event", action.Message).
			Msg("Trigger log event")
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		outcome.Success = false
		outcome.Error = err.Error()
		log.Error().Err(err).Str("actionType", action.Type).Str("phone", ec.Phone).Msg("Trigger action failed")
	}
	return outcome
}

// transfer hands the conversation to humans and ends bot ownership.
func (r *actionRunner) transfer(ctx context.Context, action *Action, ec *EvalContext) error {
	reason := action.Reason
	if reason == "" {
		reason = "Transferido por gatilho de automação"
	}
	if err := r.states.Delete(ctx, ec.Phone); err != nil {
		return err
	}
	summary := "Transferência automática.\nMotivo: " + reason + "\nDepartamento: " + action.Department
	_, err := r.conversations.Transfer(ctx, ec.Phone, action.Department, summary)
	return err
}

// webhook posts the evaluation context to the configured URL.
func (r *actionRunner) webhook(ctx context.Context, action *Action, ec *EvalContext, correlationID string) error {
	if action.URL == "" {
		return fmt.Errorf("webhook action has no URL")
	}

	body := map[string]interface{}{
		"phone":         ec.Phone,
		"message":       ec.MessageText,
		"senderName":    ec.SenderName,
		"newContact":    ec.IsNewContact,
		"correlationId": correlationID,
		"timestamp":     ec.Now.UTC().Format(time.RFC3339),
	}

	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(action.URL)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %s", resp.Status())
	}
	return nil
}
