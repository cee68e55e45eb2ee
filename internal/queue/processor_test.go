package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"zapdesk/internal/models"
)

func TestProcessBatchCompletesHandledMessages(t *testing.T) {
	store, conn := testStore(t)
	ctx := context.Background()

	processor, err := NewProcessor(store, time.Second, 5)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	var handled []string
	processor.Register("chatbot_turn", func(ctx context.Context, msg *models.QueuedMessage) error {
		handled = append(handled, msg.Payload)
		return nil
	})

	id, err := store.Enqueue(ctx, &models.QueuedMessage{MessageType: "chatbot_turn", Payload: `{"phone":"551199"}`, DedupKey: "msg-ok"})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	processor.ProcessBatch(ctx)

	if len(handled) != 1 {
		t.Fatalf("handler invocations = %d, want 1", len(handled))
	}

	var row models.QueuedMessage
	if err := conn.First(&row, id).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if row.Status != models.QueueStatusCompleted {
		t.Errorf("status = %q, want %q", row.Status, models.QueueStatusCompleted)
	}
}

func TestProcessBatchRetriesHandlerErrors(t *testing.T) {
	store, conn := testStore(t)
	ctx := context.Background()

	processor, err := NewProcessor(store, time.Second, 5)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}
	processor.Register("chatbot_turn", func(ctx context.Context, msg *models.QueuedMessage) error {
		return fmt.Errorf("gateway unavailable")
	})

	id, err := store.Enqueue(ctx, &models.QueuedMessage{MessageType: "chatbot_turn", Payload: "{}", DedupKey: "msg-flaky"})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	processor.ProcessBatch(ctx)

	var row models.QueuedMessage
	if err := conn.First(&row, id).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if row.Status != models.QueueStatusRetrying {
		t.Errorf("status = %q, want %q", row.Status, models.QueueStatusRetrying)
	}
	if row.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", row.RetryCount)
	}
}

func TestProcessBatchDeadLettersPermanentErrors(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	processor, err := NewProcessor(store, time.Second, 5)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}
	processor.Register("chatbot_turn", func(ctx context.Context, msg *models.QueuedMessage) error {
		return &PermanentError{Err: fmt.Errorf("payload is garbage")}
	})

	if _, err := store.Enqueue(ctx, &models.QueuedMessage{MessageType: "chatbot_turn", Payload: "garbage", DedupKey: "msg-garbage"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	processor.ProcessBatch(ctx)

	dlq, err := store.DeadLetterCount(ctx)
	if err != nil {
		t.Fatalf("DeadLetterCount returned error: %v", err)
	}
	if dlq != 1 {
		t.Errorf("dead-letter count = %d, want 1", dlq)
	}
}

func TestProcessBatchDeadLettersUnknownType(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	processor, err := NewProcessor(store, time.Second, 5)
	if err != nil {
		t.Fatalf("NewProcessor returned error: %v", err)
	}

	if _, err := store.Enqueue(ctx, &models.QueuedMessage{MessageType: "mystery", Payload: "{}", DedupKey: "msg-mystery"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	processor.ProcessBatch(ctx)

	dlq, err := store.DeadLetterCount(ctx)
	if err != nil {
		t.Fatalf("DeadLetterCount returned error: %v", err)
	}
	if dlq != 1 {
		t.Errorf("dead-letter count = %d, want 1 for an unhandled message type", dlq)
	}
}
