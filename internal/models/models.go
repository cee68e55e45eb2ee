package models

import (
	"time"
)

// Queue message statuses.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusRetrying   = "retrying"
	QueueStatusFailed     = "failed"
)

// Conversation statuses.
const (
	ConversationActive     = "active"
	ConversationInProgress = "in_progress"
	ConversationFinished   = "finished"
)

// Message sender kinds.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderSystem   = "system"
)

// QueuedMessage is one unit of pipeline work. Rows are created by the webhook
// router and claimed by the queue processor; they are never deleted by the
// pipeline itself, only flipped through the status lifecycle.
type QueuedMessage struct {
	ID            uint      `gorm:"primaryKey"`
	CorrelationID string    `gorm:"index;comment:Trace ID threaded through logs and downstream rows"`
	MessageType   string    `gorm:"index;comment:Work kind, e.g. chatbot_turn"`
	Payload       string    `gorm:"type:text;comment:JSON payload of the inbound event"`
	Priority      int       `gorm:"default:5;index"`
	RetryCount    int       `gorm:"default:0"`
	MaxRetries    int       `gorm:"default:3"`
	Status        string    `gorm:"index;default:pending"`
	ScheduledAt   time.Time `gorm:"index;comment:Earliest time the row may be claimed"`
	ErrorMessage  string    `gorm:"type:text"`
	DedupKey      string    `gorm:"uniqueIndex;comment:Gateway message ID, rejects webhook redeliveries"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// DeadLetterMessage preserves a queued message that exhausted its retry
// budget. Append-only.
type DeadLetterMessage struct {
	ID            uint      `gorm:"primaryKey"`
	OriginalID    uint      `gorm:"uniqueIndex;comment:ID of the queued_messages row that failed"`
	CorrelationID string    `gorm:"index"`
	MessageType   string
	Payload       string    `gorm:"type:text"`
	RetryCount    int
	ErrorMessage  string    `gorm:"type:text"`
	FailedAt      time.Time `gorm:"autoCreateTime"`
}

// ChatbotState is the live conversation state for one phone number. At most
// one row per phone exists; the row is deleted when the bot hands the
// conversation to a human.
type ChatbotState struct {
	ID            uint      `gorm:"primaryKey"`
	ContactPhone  string    `gorm:"uniqueIndex;comment:Natural key, one live state per phone"`
	CurrentStage  string    `gorm:"index"`
	Context       string    `gorm:"type:text;comment:JSON bag of fields collected so far"`
	NlpIntent     string
	NlpConfidence float64
	CorrelationID string
	Version       int       `gorm:"default:0;comment:Optimistic lock, bumped on every turn"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// AutomationTrigger is a configured rule evaluated against each inbound
// message before the chatbot runs. Read-only to the pipeline.
type AutomationTrigger struct {
	ID                   uint      `gorm:"primaryKey"`
	Name                 string    `gorm:"unique;not null"`
	Enabled              bool      `gorm:"default:true;index"`
	Priority             int       `gorm:"default:100;index;comment:1 is highest, evaluated ascending"`
	TriggerType          string
	Conditions           string    `gorm:"type:text;comment:JSON condition set"`
	Actions              string    `gorm:"type:text;comment:JSON action list"`
	CooldownMinutes      int       `gorm:"default:0"`
	MaxActivationsPerDay int       `gorm:"default:0;comment:0 means uncapped"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// TriggerActivation is the append-only audit row for one trigger firing.
// Cooldown and daily-cap checks query this table; rows are never mutated.
type TriggerActivation struct {
	ID              uint      `gorm:"primaryKey"`
	TriggerID       uint      `gorm:"index:idx_activation_trigger_phone"`
	ContactPhone    string    `gorm:"index:idx_activation_trigger_phone"`
	ConditionsMet   string    `gorm:"type:text;comment:JSON snapshot of matched conditions"`
	ActionsExecuted string    `gorm:"type:text;comment:JSON per-action outcomes"`
	Success         bool
	ErrorMessage    string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
}

// Contact is the customer record keyed by phone number.
type Contact struct {
	ID        uint      `gorm:"primaryKey"`
	Phone     string    `gorm:"uniqueIndex"`
	Name      string
	Tags      string    `gorm:"type:text;comment:JSON array of tag strings"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Conversation groups messages for one contact. A phone has at most one
// non-finished conversation; creation goes through find-or-create.
type Conversation struct {
	ID            uint      `gorm:"primaryKey"`
	ContactPhone  string    `gorm:"index"`
	Status        string    `gorm:"index;default:active"`
	AssignedAgent string    `gorm:"comment:Empty while the bot owns the conversation"`
	Department    string
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// Message belongs to exactly one conversation.
type Message struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID uint      `gorm:"index"`
	SenderKind     string    `gorm:"comment:customer, agent or system"`
	Kind           string    `gorm:"comment:text, image, audio, video, document, location, contact, buttons, list"`
	Body           string    `gorm:"type:text;comment:JSON typed payload"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// NlpIntentConfig is a tenant-configured intent for the keyword matcher.
type NlpIntentConfig struct {
	ID                  uint      `gorm:"primaryKey"`
	Name                string    `gorm:"unique;not null"`
	TrainingPhrases     string    `gorm:"type:text;comment:JSON array of example phrases"`
	ConfidenceThreshold float64   `gorm:"default:0.5"`
	TargetStage         string    `gorm:"comment:Stage the engine may jump to on a confident match"`
	Enabled             bool      `gorm:"default:true"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// LogEntry mirrors warn-and-above pipeline log events into the database so
// operators can trace a correlation ID without console access.
type LogEntry struct {
	ID            uint      `gorm:"primaryKey"`
	CorrelationID string    `gorm:"index"`
	Level         string
	Component     string    `gorm:"index"`
	Message       string    `gorm:"type:text"`
	Fields        string    `gorm:"type:text;comment:JSON of extra structured fields"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index"`
}
