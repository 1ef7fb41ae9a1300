package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/db"
	"aurum/api/internal/metrics"
	"aurum/api/internal/repository"
)

// staleClaim is how long an unprocessed claim blocks redeliveries before it
// is taken over.
const staleClaim = 10 * time.Minute

// ProcessWebhook claims a provider event and runs process once per event id.
// A delivery of an already processed event answers 200 with status
// "duplicate"; one that arrives while another delivery is still processing
// answers 409 so the provider retries. When process fails the claim is
// dropped and 500 is returned.
func ProcessWebhook(ctx context.Context, w http.ResponseWriter, d *db.DB, provider, eventID, eventType string, process func(context.Context) error) {
	logger := log.With().Str("provider", provider).Str("event_id", eventID).Str("type", eventType).Logger()

	claimed, err := claimWebhook(ctx, d, provider, eventID, eventType)
	if err != nil {
		logger.Error().Err(err).Msg("webhook claim failed")
		metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not record event"})
		return
	}
	switch claimed {
	case claimDuplicate:
		logger.Info().Msg("duplicate webhook delivery")
		metrics.WebhookEvents.WithLabelValues(provider, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	case claimInFlight:
		logger.Info().Msg("webhook event still processing")
		metrics.WebhookEvents.WithLabelValues(provider, "in_flight").Inc()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "event is being processed"})
		return
	}

	if err := process(ctx); err != nil {
		logger.Error().Err(err).Msg("webhook processing failed")
		if derr := repository.DeleteWebhookEvent(ctx, d, provider, eventID); derr != nil {
			logger.Error().Err(derr).Msg("release webhook claim")
		}
		metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	if err := repository.MarkWebhookEventProcessed(ctx, d, provider, eventID); err != nil {
		logger.Warn().Err(err).Msg("mark webhook processed")
	}
	metrics.WebhookEvents.WithLabelValues(provider, "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

type claim int

const (
	claimOwned claim = iota
	claimDuplicate
	claimInFlight
)

func claimWebhook(ctx context.Context, d *db.DB, provider, eventID, eventType string) (claim, error) {
	ok, err := repository.InsertWebhookEvent(ctx, d, provider, eventID, eventType)
	if err != nil || ok {
		return claimOwned, err
	}
	processed, err := repository.WebhookEventProcessed(ctx, d, provider, eventID)
	if err != nil {
		return claimOwned, err
	}
	if processed {
		return claimDuplicate, nil
	}
	ok, err = repository.ReclaimWebhookEvent(ctx, d, provider, eventID, time.Now().Add(-staleClaim))
	if err != nil {
		return claimOwned, err
	}
	if ok {
		log.Warn().Str("provider", provider).Str("event_id", eventID).Msg("took over stale webhook claim")
		return claimOwned, nil
	}
	return claimInFlight, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
