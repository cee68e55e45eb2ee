package chatbot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/events"
	"zapdesk/internal/models"
	"zapdesk/internal/nlp"
	"zapdesk/internal/services"
	"zapdesk/pkg/logger"
)

// IntentClassifier is the NLP entry point the engine depends on.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) nlp.Result
}

// Sender relays outbound instructions to the WhatsApp gateway.
type Sender interface {
	Send(ctx context.Context, msg evolution.OutboundMessage) error
}

// Engine runs one conversation turn per inbound message: load state, classify
// the text, dispatch the stage handler, persist the outcome and relay the
// outbound instructions.
type Engine struct {
	states        *StateStore
	matcher       IntentClassifier
	conversations *services.ConversationService
	sender        Sender
}

// NewEngine creates a chatbot engine.
func NewEngine(states *StateStore, matcher IntentClassifier, conversations *services.ConversationService, sender Sender) (*Engine, error) {
	if states == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	if matcher == nil {
		return nil, fmt.Errorf("intent classifier cannot be nil")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation service cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	return &Engine{
		states:        states,
		matcher:       matcher,
		conversations: conversations,
		sender:        sender,
	}, nil
}

// ProcessTurn advances the conversation for one inbound message. Errors are
// retryable through the queue; no outbound message is sent before the state
// row is safely advanced, so a replayed turn cannot double-send.
func (e *Engine) ProcessTurn(ctx context.Context, in *evolution.InboundMessage, correlationID string) error {
	turnLog := logger.WithCorrelation(correlationID, "chatbot")

	conv, err := e.conversations.FindOrCreateActive(ctx, in.Phone)
	if err != nil {
		return err
	}
	if err := e.conversations.AppendMessage(ctx, conv.ID, models.SenderCustomer, evolution.TypeText, in.Text); err != nil {
		return err
	}

	state, created, err := e.states.LoadOrCreate(ctx, in.Phone, correlationID)
	if err != nil {
		return err
	}
	if created {
		turnLog.Info().Str("phone", in.Phone).Msg("New conversation, chatbot takes ownership")
	}

	var stageCtx StageContext
	if state.Context != "" {
		if err := json.Unmarshal([]byte(state.Context), &stageCtx); err != nil {
			turnLog.Warn().Err(err).Str("phone", in.Phone).Msg("Stored stage context is invalid, starting from an empty one")
			stageCtx = StageContext{}
		}
	}

	nlpResult := e.matcher.Classify(ctx, in.Text)

	turn := &Turn{
		Phone:      in.Phone,
		Text:       in.Text,
		SenderName: in.SenderName,
		Stage:      Stage(state.CurrentStage),
		Context:    stageCtx,
		NLP:        nlpResult,
	}

	result := e.dispatch(turn)

	if result.Transfer {
		return e.transfer(ctx, conv.ID, turn, result, nlpResult, correlationID, turnLog)
	}

	if err := e.states.Update(ctx, state, result.NextStage, result.Context, nlpResult.Intent, nlpResult.Confidence, correlationID); err != nil {
		return err
	}

	e.deliver(ctx, conv.ID, result.Outbound, turnLog)

	events.Publish(events.EventCompleted, correlationID, map[string]interface{}{
		"phone": in.Phone,
		"stage": string(result.NextStage),
	})

	turnLog.Debug().
		Str("phone", in.Phone).
		Str("stage", string(turn.Stage)).
		Str("nextStage", string(result.NextStage)).
		Str("nlpIntent", nlpResult.Intent).
		Msg("Turn completed")
	return nil
}

// dispatch resolves the handler for the turn's stage. A confident NLP target
// stage jumps the flow; an unknown stage falls into the transfer catch-all.
func (e *Engine) dispatch(turn *Turn) *Result {
	if turn.NLP.TargetStage != "" && turn.NLP.Confidence > stageOverrideConfidence {
		if _, known := stageHandlers[Stage(turn.NLP.TargetStage)]; known {
			turn.Stage = Stage(turn.NLP.TargetStage)
		}
	}

	handler, ok := stageHandlers[turn.Stage]
	if !ok {
		// Never loop silently on a stage the bot does not understand.
		return &Result{
			NextStage:      StageCompleted,
			Context:        turn.Context,
			Transfer:       true,
			TransferReason: "Estágio desconhecido: " + string(turn.Stage),
			Department:     DeptGeneral,
		}
	}
	return handler(turn)
}

// transfer ends bot ownership: delete the state row, hand the conversation to
// humans with a system summary, then send any farewell messages.
func (e *Engine) transfer(ctx context.Context, conversationID uint, turn *Turn, result *Result, nlpResult nlp.Result, correlationID string, turnLog zerolog.Logger) error {
	if err := e.states.Delete(ctx, turn.Phone); err != nil {
		return err
	}

	summary := transferSummary(result, nlpResult)
	if _, err := e.conversations.Transfer(ctx, turn.Phone, result.Department, summary); err != nil {
		return err
	}

	e.deliver(ctx, conversationID, result.Outbound, turnLog)

	turnLog.Info().
		Str("phone", turn.Phone).
		Str("department", result.Department).
		Str("reason", result.TransferReason).
		Msg("Conversation handed off to human agents")

	events.Publish(events.EventTransferred, correlationID, map[string]interface{}{
		"phone":      turn.Phone,
		"department": result.Department,
		"reason":     result.TransferReason,
	})
	return nil
}

// deliver relays outbound instructions and records them on the conversation.
// Sends are best-effort: a gateway failure must not fail the turn after state
// has already advanced.
func (e *Engine) deliver(ctx context.Context, conversationID uint, outbound []evolution.OutboundMessage, turnLog zerolog.Logger) {
	for _, msg := range outbound {
		if err := e.sender.Send(ctx, msg); err != nil {
			turnLog.Error().Err(err).Str("phone", msg.Phone).Str("type", msg.Type).Msg("Outbound send failed")
			continue
		}
		if err := e.conversations.AppendMessage(ctx, conversationID, models.SenderAgent, msg.Type, msg.Data); err != nil {
			turnLog.Error().Err(err).Msg("Failed to record outbound message")
		}
	}
}

// transferSummary renders the collected context and NLP insight into the
// system message human agents see on pickup.
func transferSummary(result *Result, nlpResult nlp.Result) string {
	var b strings.Builder
	b.WriteString("Transferência para atendimento humano.\n")
	b.WriteString("Motivo: " + result.TransferReason + "\n")
	b.WriteString("Departamento: " + result.Department + "\n")
	if result.Context.Name != "" {
		b.WriteString("Nome informado: " + result.Context.Name + "\n")
	}
	if result.Context.Product != "" {
		b.WriteString("Produto de interesse: " + result.Context.Product + "\n")
	}
	if result.Context.Issue != "" {
		b.WriteString("Problema relatado: " + result.Context.Issue + "\n")
	}
	if nlpResult.Intent != "" {
		b.WriteString(fmt.Sprintf("Intenção detectada: %s (confiança %.2f)\n", nlpResult.Intent, nlpResult.Confidence))
		if urgency := nlpResult.Parameters["urgency_level"]; urgency != "" {
			b.WriteString("Urgência: " + urgency + "\n")
		}
		if emotion := nlpResult.Parameters["emotion"]; emotion != "" {
			b.WriteString("Emoção: " + emotion + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
