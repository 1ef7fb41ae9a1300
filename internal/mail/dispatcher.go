package mail

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/db"
	"aurum/api/internal/metrics"
	"aurum/api/internal/repository"
)

const (
	MaxAttempts = 8
	retryStep   = time.Minute
	batchSize   = 20
)

// Dispatcher delivers due outbox messages. A failed send is retried after
// attempts*retryStep and parked as failed after MaxAttempts.
type Dispatcher struct {
	db       *db.DB
	mailer   Mailer
	renderer *Renderer
	now      func() time.Time
}

func NewDispatcher(d *db.DB, mailer Mailer, renderer *Renderer) *Dispatcher {
	return &Dispatcher{db: d, mailer: mailer, renderer: renderer, now: time.Now}
}

// Run polls every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("outbox dispatch")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce sends one batch and returns how many messages were delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	due, err := repository.DueMessages(ctx, d.db, d.now(), batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := d.deliver(ctx, m); err != nil {
			attempts := m.Attempts + 1
			giveUp := attempts >= MaxAttempts
			next := d.now().Add(time.Duration(attempts) * retryStep)
			if merr := repository.MarkMessageAttempt(ctx, d.db, m.ID, err.Error(), next, giveUp); merr != nil {
				return sent, merr
			}
			outcome := "retry"
			ev := log.Warn()
			if giveUp {
				outcome = "failed"
				ev = log.Error()
			}
			metrics.OutboxDeliveries.WithLabelValues(m.Kind, outcome).Inc()
			ev.Err(err).Str("message_id", m.ID).Str("kind", m.Kind).Int("attempts", attempts).Msg("email delivery failed")
			continue
		}
		if err := repository.MarkMessageSent(ctx, d.db, m.ID, d.now()); err != nil {
			return sent, err
		}
		metrics.OutboxDeliveries.WithLabelValues(m.Kind, "sent").Inc()
		log.Debug().Str("message_id", m.ID).Str("kind", m.Kind).Str("to", m.Recipient).Msg("email sent")
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, m repository.OutboxMessage) error {
	msg, err := d.renderer.Render(m)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, msg)
}
