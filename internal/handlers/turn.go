package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/chatbot"
	"zapdesk/internal/models"
	"zapdesk/internal/queue"
)

// NewTurnHandler adapts the chatbot engine to the queue processor. Payloads
// that cannot be decoded are permanent failures; engine errors stay retryable
// so transient database or gateway trouble gets the queue's backoff.
func NewTurnHandler(engine *chatbot.Engine) queue.Handler {
	return func(ctx context.Context, msg *models.QueuedMessage) error {
		var payload TurnPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			return &queue.PermanentError{Err: fmt.Errorf("invalid turn payload: %w", err)}
		}
		if payload.Phone == "" {
			return &queue.PermanentError{Err: fmt.Errorf("turn payload has no phone")}
		}

		return engine.ProcessTurn(ctx, &evolution.InboundMessage{
			MessageID:  payload.MessageID,
			Phone:      payload.Phone,
			Text:       payload.Text,
			SenderName: payload.SenderName,
			Timestamp:  payload.Timestamp,
		}, msg.CorrelationID)
	}
}
