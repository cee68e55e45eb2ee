package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"zapdesk/internal/chatbot"
	"zapdesk/internal/db"
	"zapdesk/internal/models"
	"zapdesk/internal/queue"
	"zapdesk/internal/services"
	"zapdesk/internal/triggers"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return conn
}

func testWebhookHandler(t *testing.T, conn *gorm.DB, secret string) (*WebhookHandler, *queue.Store) {
	t.Helper()
	store, err := queue.NewStore(conn, time.Minute)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	processor, err := queue.NewProcessor(store, time.Second, 5)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}
	contacts, err := services.NewContactService(conn)
	if err != nil {
		t.Fatalf("NewContactService returned error: %v", err)
	}
	conversations, err := services.NewConversationService(conn)
	if err != nil {
		t.Fatalf("NewConversationService returned error: %v", err)
	}
	states, err := chatbot.NewStateStore(conn)
	if err != nil {
		t.Fatalf("NewStateStore returned error: %v", err)
	}
	evaluator, err := triggers.NewEvaluator(conn, contacts, conversations, states)
	if err != nil {
		t.Fatalf("NewEvaluator returned error: %v", err)
	}
	return NewWebhookHandler(store, processor, evaluator, contacts, conversations, secret, time.Minute), store
}

func messageEvent(messageID, phone, text string) string {
	return fmt.Sprintf(`{
		"event": "messages.upsert",
		"instanceId": "inst-1",
		"data": {
			"messageId": %q,
			"from": "%s@s.whatsapp.net",
			"text": {"message": %q},
			"timestamp": 1767200000,
			"fromMe": false,
			"senderName": "Maria"
		}
	}`, messageID, phone, text)
}

func postWebhook(t *testing.T, handler *WebhookHandler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	return rec
}

func queuedCount(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := conn.Model(&models.QueuedMessage{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count queued messages: %v", err)
	}
	return count
}

func TestWebhookEnqueuesChatbotTurn(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")

	rec := postWebhook(t, handler, messageEvent("msg-1", "5511999999999", "oi"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var row models.QueuedMessage
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("no queued row was created: %v", err)
	}
	if row.MessageType != MessageTypeChatbotTurn {
		t.Errorf("messageType = %q, want %q", row.MessageType, MessageTypeChatbotTurn)
	}
	if row.Status != models.QueueStatusPending {
		t.Errorf("status = %q, want %q", row.Status, models.QueueStatusPending)
	}
	if row.DedupKey != "msg-1" {
		t.Errorf("dedupKey = %q, want the gateway message ID", row.DedupKey)
	}
	if !strings.Contains(row.Payload, "5511999999999") {
		t.Errorf("payload %q does not carry the phone", row.Payload)
	}

	var contact models.Contact
	if err := conn.Where("phone = ?", "5511999999999").First(&contact).Error; err != nil {
		t.Errorf("contact was not created: %v", err)
	}
}

func TestWebhookRedeliverySuppressed(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")
	body := messageEvent("msg-dup", "5511999999999", "oi")

	for i := 0; i < 3; i++ {
		if rec := postWebhook(t, handler, body, nil); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rec.Code)
		}
	}

	if got := queuedCount(t, conn); got != 1 {
		t.Errorf("queued rows = %d, want exactly 1 across redeliveries", got)
	}
}

func TestWebhookIgnoresOwnMessages(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")

	body := `{
		"event": "messages.upsert",
		"data": {
			"messageId": "msg-own",
			"from": "5511999999999@s.whatsapp.net",
			"text": {"message": "resposta do bot"},
			"fromMe": true
		}
	}`
	rec := postWebhook(t, handler, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := queuedCount(t, conn); got != 0 {
		t.Errorf("queued rows = %d, want 0 for an own echoed message", got)
	}
}

func TestWebhookAcksNonMessageEvents(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")

	rec := postWebhook(t, handler, `{"event":"connection.update","data":{"state":"open"}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := queuedCount(t, conn); got != 0 {
		t.Errorf("queued rows = %d, want 0 for a non-message event", got)
	}
}

func TestWebhookRejectsMalformedPayloads(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing event type", `{"data":{"messageId":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postWebhook(t, handler, tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if got := queuedCount(t, conn); got != 0 {
		t.Errorf("queued rows = %d, want 0", got)
	}
}

func TestWebhookSignatureVerification(t *testing.T) {
	conn := testDB(t)
	secret := "webhook-secret"
	handler, _ := testWebhookHandler(t, conn, secret)
	body := messageEvent("msg-sig", "5511999999999", "oi")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	signature := hex.EncodeToString(mac.Sum(nil))

	if rec := postWebhook(t, handler, body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request: status = %d, want 401", rec.Code)
	}
	if rec := postWebhook(t, handler, body, map[string]string{"X-Signature": "deadbeef"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", rec.Code)
	}
	if rec := postWebhook(t, handler, body, map[string]string{"X-Signature": signature}); rec.Code != http.StatusOK {
		t.Errorf("valid X-Signature: status = %d, want 200", rec.Code)
	}

	body2 := messageEvent("msg-sig-2", "5511999999999", "oi de novo")
	mac = hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body2))
	signature2 := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if rec := postWebhook(t, handler, body2, map[string]string{"X-Hub-Signature-256": signature2}); rec.Code != http.StatusOK {
		t.Errorf("valid X-Hub-Signature-256: status = %d, want 200", rec.Code)
	}
}

func TestWebhookSkipsHumanOwnedConversations(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")

	conv := models.Conversation{
		ContactPhone:  "5511999999999",
		Status:        models.ConversationInProgress,
		AssignedAgent: "ana",
		Department:    "Suporte",
	}
	if err := conn.Create(&conv).Error; err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}

	rec := postWebhook(t, handler, messageEvent("msg-human", "5511999999999", "ainda estou esperando"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if got := queuedCount(t, conn); got != 0 {
		t.Errorf("queued rows = %d, want 0 while a human owns the conversation", got)
	}

	// The customer message is still stored for the agent.
	var count int64
	conn.Model(&models.Message{}).Where("conversation_id = ? AND sender_kind = ?", conv.ID, models.SenderCustomer).Count(&count)
	if count != 1 {
		t.Errorf("stored customer messages = %d, want 1", count)
	}
}

func TestWebhookTriggerTransferSkipsEnqueue(t *testing.T) {
	conn := testDB(t)
	handler, _ := testWebhookHandler(t, conn, "")

	trigger := models.AutomationTrigger{
		Name:       "urgent keyword",
		Enabled:    true,
		Priority:   1,
		Conditions: `{"keywords":["urgente"]}`,
		Actions:    `[{"type":"transfer","department":"Suporte Urgente","reason":"Palavra-chave urgente"}]`,
	}
	if err := conn.Create(&trigger).Error; err != nil {
		t.Fatalf("failed to seed trigger: %v", err)
	}

	rec := postWebhook(t, handler, messageEvent("msg-urgent", "5511999999999", "isso é urgente!"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if got := queuedCount(t, conn); got != 0 {
		t.Errorf("queued rows = %d, want 0 after a trigger transfer", got)
	}

	var conv models.Conversation
	if err := conn.Where("contact_phone = ?", "5511999999999").First(&conv).Error; err != nil {
		t.Fatalf("transfer did not open a conversation: %v", err)
	}
	if conv.Status != models.ConversationInProgress {
		t.Errorf("conversation status = %q, want %q", conv.Status, models.ConversationInProgress)
	}
}
