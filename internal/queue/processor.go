package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
)

// Handler processes one claimed queue message. A nil return completes the
// message; an error reschedules it through the retry policy.
type Handler func(ctx context.Context, msg *models.QueuedMessage) error

// PermanentError wraps an error that must not be retried; the message goes
// straight to the dead-letter store.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Processor drains the queue on a fixed tick. The webhook router pokes Kick
// after enqueueing so fresh work does not wait for the next tick.
type Processor struct {
	store     *Store
	handlers  map[string]Handler
	interval  time.Duration
	batchSize int
	kick      chan struct{}
}

// NewProcessor creates a queue processor.
func NewProcessor(store *Store, interval time.Duration, batchSize int) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store cannot be nil")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Processor{
		store:     store,
		handlers:  make(map[string]Handler),
		interval:  interval,
		batchSize: batchSize,
		kick:      make(chan struct{}, 1),
	}, nil
}

// Register installs the handler for one message type. Messages with no
// registered handler are dead-lettered immediately.
func (p *Processor) Register(messageType string, h Handler) {
	p.handlers[messageType] = h
}

// Kick requests an immediate drain without waiting for the ticker.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start runs the drain loop until the context is canceled.
func (p *Processor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", p.interval).
		Int("batchSize", p.batchSize).
		Msg("Queue processor started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Queue processor stopped")
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		case <-p.kick:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and processes up to batchSize due messages.
func (p *Processor) ProcessBatch(ctx context.Context) {
	for i := 0; i < p.batchSize; i++ {
		msg, err := p.store.Dequeue(ctx)
		if errors.Is(err, ErrEmpty) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Queue dequeue failed")
			return
		}
		p.processOne(ctx, msg)
	}
}

func (p *Processor) processOne(ctx context.Context, msg *models.QueuedMessage) {
	logger := log.With().
		Uint("queueId", msg.ID).
		Str("correlationId", msg.CorrelationID).
		Str("messageType", msg.MessageType).
		Logger()

	handler, ok := p.handlers[msg.MessageType]
	if !ok {
		logger.Error().Msg("No handler registered for message type")
		if err := p.store.MarkFailed(ctx, msg.ID, "no handler for message type "+msg.MessageType, false); err != nil {
			logger.Error().Err(err).Msg("Failed to dead-letter unhandled message")
		}
		return
	}

	if err := handler(ctx, msg); err != nil {
		var perm *PermanentError
		shouldRetry := !errors.As(err, &perm)
		if markErr := p.store.MarkFailed(ctx, msg.ID, err.Error(), shouldRetry); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to record message failure")
		}
		return
	}

	if err := p.store.MarkCompleted(ctx, msg.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark message completed")
		return
	}
	logger.Debug().Msg("Message processed")
}
