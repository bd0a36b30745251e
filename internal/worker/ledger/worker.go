package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/config"
	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	"github.com/acme/receptionist-dialer/internal/voice"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

// Processor consumes a decoded status event. In production this is the
// outcome reconciler.
type Processor interface {
	OnStatusEvent(ctx context.Context, ev domain.StatusEvent) error
}

// Worker replays provider webhooks that failed to process. It runs on its
// own tick, independent of the call retry path, so a transient database
// outage never loses an event.
type Worker struct {
	ledger    repository.WebhookLedger
	processor Processor
	cfg       config.WebhookRetryConfig
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the ledger retry worker.
func New(ledger repository.WebhookLedger, processor Processor, cfg config.WebhookRetryConfig, log *logger.Logger, now func() time.Time) *Worker {
	if now == nil {
		now = time.Now
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.GiveUpAfter <= 0 {
		cfg.GiveUpAfter = 10
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	return &Worker{
		ledger:    ledger,
		processor: processor,
		cfg:       cfg,
		log:       log.Named("webhook-retry"),
		now:       now,
	}
}

// Run executes the replay loop until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick replays one batch of retryable records and ages out old ones.
func (w *Worker) Tick(ctx context.Context) error {
	tracer := otel.Tracer("dialer.webhookretry")
	tctx, span := tracer.Start(ctx, "webhookretry.tick")
	defer span.End()

	if backlog, err := w.ledger.Count(tctx); err == nil {
		span.SetAttributes(attribute.Int64("ledger.backlog", backlog))
		if w.cfg.AlarmThreshold > 0 && backlog >= w.cfg.AlarmThreshold {
			w.log.Error("failed-webhook backlog above alarm threshold",
				zap.Int64("backlog", backlog),
				zap.Int64("threshold", w.cfg.AlarmThreshold))
		}
	} else {
		w.log.Warn("ledger count failed", zap.Error(err))
	}

	records, err := w.ledger.ListRetryable(tctx, w.cfg.GiveUpAfter, w.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, record := range records {
		w.replay(tctx, record)
	}

	cutoff := w.now().UTC().AddDate(0, 0, -w.cfg.RetentionDays)
	if removed, err := w.ledger.CleanupOld(tctx, cutoff); err != nil {
		w.log.Warn("ledger cleanup failed", zap.Error(err))
	} else if removed > 0 {
		w.log.Info("aged out ledger records", zap.Int64("removed", removed))
	}
	return nil
}

func (w *Worker) replay(ctx context.Context, record *domain.FailedWebhookRecord) {
	ev, err := voice.DecodeStatusEvent(record.Payload)
	if err != nil {
		// The payload will never parse; let it age toward the give-up
		// threshold rather than deleting evidence.
		w.markFailed(ctx, record, err)
		return
	}

	if err := w.processor.OnStatusEvent(ctx, ev); err != nil {
		w.markFailed(ctx, record, err)
		return
	}

	if err := w.ledger.Delete(ctx, record.ID); err != nil {
		w.log.Error("delete replayed record failed",
			zap.String("record_id", record.ID.String()),
			zap.Error(err))
		return
	}
	w.log.Info("webhook replayed",
		zap.String("record_id", record.ID.String()),
		zap.Int("attempts", record.AttemptCount+1))
}

func (w *Worker) markFailed(ctx context.Context, record *domain.FailedWebhookRecord, cause error) {
	if err := w.ledger.MarkRetried(ctx, record.ID, cause.Error(), w.now().UTC()); err != nil {
		w.log.Error("mark retried failed",
			zap.String("record_id", record.ID.String()),
			zap.Error(err))
		return
	}
	if record.AttemptCount+1 >= w.cfg.GiveUpAfter {
		w.log.Warn("giving up on webhook record",
			zap.String("record_id", record.ID.String()),
			zap.Int("attempts", record.AttemptCount+1),
			zap.String("last_error", cause.Error()))
		return
	}
	w.log.Info("webhook replay failed, will retry",
		zap.String("record_id", record.ID.String()),
		zap.Int("attempts", record.AttemptCount+1),
		zap.Error(cause))
}
