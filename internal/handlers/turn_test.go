package handlers

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/chatbot"
	"zapdesk/internal/models"
	"zapdesk/internal/nlp"
	"zapdesk/internal/queue"
	"zapdesk/internal/services"
)

type nopClassifier struct{}

func (nopClassifier) Classify(ctx context.Context, text string) nlp.Result { return nlp.Result{} }

type nopSender struct{}

func (nopSender) Send(ctx context.Context, msg evolution.OutboundMessage) error { return nil }

func testTurnHandler(t *testing.T) (queue.Handler, *gorm.DB) {
	t.Helper()
	conn := testDB(t)
	states, err := chatbot.NewStateStore(conn)
	if err != nil {
		t.Fatalf("NewStateStore returned error: %v", err)
	}
	conversations, err := services.NewConversationService(conn)
	if err != nil {
		t.Fatalf("NewConversationService returned error: %v", err)
	}
	engine, err := chatbot.NewEngine(states, nopClassifier{}, conversations, nopSender{})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return NewTurnHandler(engine), conn
}

func TestTurnHandlerRejectsBadPayloadsPermanently(t *testing.T) {
	handler, _ := testTurnHandler(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"missing phone", `{"messageId":"m1","text":"oi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler(ctx, &models.QueuedMessage{Payload: tt.payload})
			if err == nil {
				t.Fatal("handler accepted a bad payload")
			}
			var perm *queue.PermanentError
			if !errors.As(err, &perm) {
				t.Errorf("error %v is retryable, want permanent", err)
			}
		})
	}
}

func TestTurnHandlerRunsTheEngine(t *testing.T) {
	handler, conn := testTurnHandler(t)

	err := handler(context.Background(), &models.QueuedMessage{
		CorrelationID: "corr-turn",
		Payload:       `{"messageId":"m1","phone":"5511999999999","text":"oi","senderName":"Maria"}`,
	})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	var state models.ChatbotState
	if err := conn.Where("contact_phone = ?", "5511999999999").First(&state).Error; err != nil {
		t.Fatalf("engine did not create a state row: %v", err)
	}
	if state.CurrentStage != "awaiting_option" {
		t.Errorf("stage = %q, want awaiting_option after the greeting turn", state.CurrentStage)
	}
}
