package events

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Pipeline milestone event types published to the mirror.
const (
	EventEnqueued     = "message.enqueued"
	EventCompleted    = "turn.completed"
	EventDeadLettered = "message.dead_lettered"
	EventTransferred  = "conversation.transferred"
)

var (
	rabbitConn    *amqp091.Connection
	rabbitChannel *amqp091.Channel
	rabbitEnabled bool
	rabbitMu      sync.Mutex
	rabbitQueue   string
	rabbitPrefix  string
	specificEvents map[string]bool
)

// InitRabbitMQ connects the optional event mirror. Publishing stays disabled
// when RABBITMQ_URL is unset or the broker is unreachable; the pipeline never
// depends on the mirror.
func InitRabbitMQ(rabbitURL string) {
	rabbitQueue = os.Getenv("RABBITMQ_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "zapdesk_events"
	}
	rabbitPrefix = os.Getenv("RABBITMQ_QUEUE_PREFIX")
	if rabbitPrefix == "" {
		rabbitPrefix = "zapdesk"
	}

	specificEvents = make(map[string]bool)
	if raw := os.Getenv("AMQP_SPECIFIC_EVENTS"); raw != "" {
		for _, event := range strings.Split(raw, ",") {
			specificEvents[strings.TrimSpace(event)] = true
		}
		log.Info().Interface("specificEvents", specificEvents).Msg("Specific RabbitMQ event queues configured")
	}

	if rabbitURL == "" {
		rabbitEnabled = false
		log.Info().Msg("RABBITMQ_URL is not set. Event mirror disabled.")
		return
	}

	var err error
	rabbitConn, err = amqp091.Dial(rabbitURL)
	if err != nil {
		rabbitEnabled = false
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, event mirror disabled")
		return
	}
	rabbitChannel, err = rabbitConn.Channel()
	if err != nil {
		rabbitEnabled = false
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, event mirror disabled")
		return
	}

	rabbitEnabled = true
	log.Info().Str("queue", rabbitQueue).Str("prefix", rabbitPrefix).Msg("RabbitMQ event mirror connected")
}

// queueName routes events with a configured specific queue to their own
// queue; all others go to the default.
func queueName(eventType string) string {
	if specificEvents[eventType] {
		return rabbitPrefix + "_" + strings.ReplaceAll(strings.ToLower(eventType), ".", "_")
	}
	return rabbitQueue
}

// Publish mirrors one pipeline milestone. Best-effort: failures are logged
// and dropped.
func Publish(eventType, correlationID string, body map[string]interface{}) {
	if !rabbitEnabled {
		return
	}

	if body == nil {
		body = make(map[string]interface{})
	}
	body["event"] = eventType
	body["correlationId"] = correlationID
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Could not encode event for RabbitMQ")
		return
	}

	rabbitMu.Lock()
	defer rabbitMu.Unlock()

	queue := queueName(eventType)
	_, err = rabbitChannel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = rabbitChannel.Publish("", queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Str("event", eventType).Msg("Could not publish event to RabbitMQ")
		return
	}

	log.Debug().Str("queue", queue).Str("event", eventType).Msg("Event mirrored to RabbitMQ")
}

// Close shuts the mirror connection down.
func Close() {
	rabbitMu.Lock()
	defer rabbitMu.Unlock()

	if rabbitChannel != nil {
		_ = rabbitChannel.Close()
	}
	if rabbitConn != nil {
		_ = rabbitConn.Close()
	}
	rabbitEnabled = false
}
