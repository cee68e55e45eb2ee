package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/events"
	"zapdesk/internal/media"
	"zapdesk/internal/models"
	"zapdesk/internal/queue"
	"zapdesk/internal/services"
	"zapdesk/internal/triggers"
	"zapdesk/pkg/logger"
)

// MessageTypeChatbotTurn is the queue message type the webhook enqueues and
// the processor dispatches to the chatbot engine.
const MessageTypeChatbotTurn = "chatbot_turn"

// TurnPayload is the queue payload for one chatbot turn.
type TurnPayload struct {
	MessageID  string `json:"messageId"`
	Phone      string `json:"phone"`
	Text       string `json:"text"`
	SenderName string `json:"senderName"`
	Timestamp  int64  `json:"timestamp"`
}

// WebhookHandler is the single entry point for all gateway events.
type WebhookHandler struct {
	store         *queue.Store
	processor     *queue.Processor
	evaluator     *triggers.Evaluator
	contacts      *services.ContactService
	conversations *services.ConversationService
	webhookSecret string
	dedup         *gocache.Cache

	// Optional media archiver; nil disables archival.
	archiver *media.Archiver
	instance string
}

// SetArchiver enables best-effort S3 archival of inbound media.
func (h *WebhookHandler) SetArchiver(archiver *media.Archiver, instance string) {
	h.archiver = archiver
	h.instance = instance
}

// NewWebhookHandler creates the webhook handler. secret may be empty, which
// disables signature verification. dedupWindow bounds the in-memory
// redelivery suppression; the queue's unique dedup key backs it durably.
func NewWebhookHandler(
	store *queue.Store,
	processor *queue.Processor,
	evaluator *triggers.Evaluator,
	contacts *services.ContactService,
	conversations *services.ConversationService,
	secret string,
	dedupWindow time.Duration,
) *WebhookHandler {
	if store == nil || processor == nil || evaluator == nil || contacts == nil || conversations == nil {
		log.Fatal().Msg("WebhookHandler requires all pipeline dependencies")
	}
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	return &WebhookHandler{
		store:         store,
		processor:     processor,
		evaluator:     evaluator,
		contacts:      contacts,
		conversations: conversations,
		webhookSecret: secret,
		dedup:         gocache.New(dedupWindow, dedupWindow),
	}
}

// Handle processes one inbound gateway webhook. Internal failures after
// validation still answer 200 so the gateway does not start a retry storm;
// they are observable through logs and the dead-letter store only.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	reqLog := logger.WithCorrelation(correlationID, "webhook")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		reqLog.Error().Err(err).Msg("Failed to read request body")
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}

	if !h.validSignature(body, r) {
		reqLog.Warn().Msg("Webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event evolution.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		reqLog.Error().Err(err).Msg("Malformed webhook JSON")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if event.Event == "" {
		reqLog.Warn().Msg("Webhook has no event type")
		http.Error(w, "missing event type", http.StatusBadRequest)
		return
	}

	reqLog.Info().Str("event", event.Event).Str("instanceId", event.InstanceID).Msg("Webhook received")

	// Only inbound customer messages enter the pipeline; everything else is
	// acknowledged and logged.
	if !evolution.IsMessageEvent(event.Event) {
		reqLog.Debug().Str("event", event.Event).Msg("Non-message event acknowledged")
		h.ok(w)
		return
	}

	msg, ok := evolution.ParseInbound(&event)
	if !ok {
		reqLog.Warn().Msg("Message event missing required fields")
		http.Error(w, "missing required message fields", http.StatusBadRequest)
		return
	}
	if msg.FromMe {
		reqLog.Debug().Str("phone", msg.Phone).Msg("Own outbound message echoed back, ignored")
		h.ok(w)
		return
	}

	if _, seen := h.dedup.Get(msg.MessageID); seen {
		reqLog.Info().Str("messageId", msg.MessageID).Msg("Duplicate webhook delivery suppressed")
		h.ok(w)
		return
	}
	h.dedup.SetDefault(msg.MessageID, struct{}{})

	h.process(r, msg, correlationID, reqLog)
	h.ok(w)
}

// process runs the post-validation pipeline: trigger evaluation first, then
// enqueue a chatbot turn unless a human already owns the conversation. All
// failures here are logged and swallowed; the gateway is answered 200 either
// way.
func (h *WebhookHandler) process(r *http.Request, msg *evolution.InboundMessage, correlationID string, reqLog zerolog.Logger) {
	ctx := r.Context()

	if h.archiver != nil && msg.MediaURL != "" {
		if _, err := h.archiver.Archive(ctx, h.instance, msg.Phone, msg.MessageID, msg.MediaURL); err != nil {
			reqLog.Warn().Err(err).Str("mediaUrl", msg.MediaURL).Msg("Media archival failed")
		}
	}

	_, isNew, err := h.contacts.FindOrCreate(ctx, msg.Phone, msg.SenderName)
	if err != nil {
		reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Contact lookup failed, event skipped")
		return
	}

	// A conversation owned by a human agent never reaches the bot; the
	// inbound message is still stored for the agent.
	assigned, err := h.conversations.HasHumanAssignment(ctx, msg.Phone)
	if err != nil {
		reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Assignment lookup failed, event skipped")
		return
	}
	if assigned {
		conv, err := h.conversations.FindOrCreateActive(ctx, msg.Phone)
		if err == nil {
			err = h.conversations.AppendMessage(ctx, conv.ID, models.SenderCustomer, evolution.TypeText, msg.Text)
		}
		if err != nil {
			reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Failed to store message for human-owned conversation")
		}
		reqLog.Info().Str("phone", msg.Phone).Msg("Conversation is human-owned, chatbot skipped")
		return
	}

	lastActivity, err := h.conversations.LastCustomerActivity(ctx, msg.Phone)
	if err != nil {
		reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Activity lookup failed, treating as no prior activity")
	}
	tags, err := h.contacts.Tags(ctx, msg.Phone)
	if err != nil {
		reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Tag lookup failed, treating as untagged")
	}

	outcome, err := h.evaluator.Evaluate(ctx, &triggers.EvalContext{
		Phone:           msg.Phone,
		MessageText:     msg.Text,
		SenderName:      msg.SenderName,
		IsNewContact:    isNew,
		LastInteraction: lastActivity,
		Now:             time.Now(),
		Tags:            tags,
	}, correlationID)
	if err != nil {
		reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Trigger evaluation failed, continuing to chatbot")
	} else if outcome.Transferred {
		reqLog.Info().
			Str("phone", msg.Phone).
			Str("department", outcome.TransferDepartment).
			Msg("Trigger transferred conversation, chatbot turn not enqueued")
		return
	}

	payload, err := json.Marshal(TurnPayload{
		MessageID:  msg.MessageID,
		Phone:      msg.Phone,
		Text:       msg.Text,
		SenderName: msg.SenderName,
		Timestamp:  msg.Timestamp,
	})
	if err != nil {
		reqLog.Error().Err(err).Msg("Failed to encode turn payload")
		return
	}

	_, err = h.store.Enqueue(ctx, &models.QueuedMessage{
		CorrelationID: correlationID,
		MessageType:   MessageTypeChatbotTurn,
		Payload:       string(payload),
		DedupKey:      msg.MessageID,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		reqLog.Info().Str("messageId", msg.MessageID).Msg("Redelivered message already queued")
		return
	}
	if err != nil {
		reqLog.Error().Err(err).Str("phone", msg.Phone).Msg("Enqueue failed, event skipped")
		return
	}

	events.Publish(events.EventEnqueued, correlationID, map[string]interface{}{
		"phone":     msg.Phone,
		"messageId": msg.MessageID,
	})
	h.processor.Kick()
}

func (h *WebhookHandler) validSignature(body []byte, r *http.Request) bool {
	if h.webhookSecret == "" {
		return true
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		signature = strings.TrimPrefix(r.Header.Get("X-Hub-Signature-256"), "sha256=")
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (h *WebhookHandler) ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
