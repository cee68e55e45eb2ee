package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/queue"
)

// QueueStatus reports queue depth and dead-letter volume for operators.
func QueueStatus(store *queue.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := store.PendingCount(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to count pending messages")
			http.Error(w, "failed to read queue state", http.StatusInternalServerError)
			return
		}
		deadLettered, err := store.DeadLetterCount(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to count dead-lettered messages")
			http.Error(w, "failed to read queue state", http.StatusInternalServerError)
			return
		}

		status := map[string]interface{}{
			"status":           "running",
			"pending_messages": pending,
			"dead_lettered":    deadLettered,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Msg("Failed to encode queue status")
		}
	}
}
