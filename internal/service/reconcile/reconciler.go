package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/queue"
	"github.com/acme/receptionist-dialer/internal/repository"
	"github.com/acme/receptionist-dialer/internal/service/retry"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

// AlertSink publishes operator notifications.
type AlertSink interface {
	Publish(ctx context.Context, msg queue.AlertMessage) error
}

// EventSink publishes terminal call events for analytics.
type EventSink interface {
	Publish(ctx context.Context, msg queue.CallEventMessage) error
}

// Reconciler consumes provider status events and settles queue-item state.
// Delivery is at-least-once and unordered, so every transition here is
// guarded: a redelivered event finds the transition already made and
// performs no side effects.
type Reconciler struct {
	queue   repository.QueueRepository
	dnc     repository.DNCRepository
	records repository.CallRecordStore
	retrier *retry.Controller
	alerts  AlertSink
	events  EventSink
	log     *logger.Logger
	now     func() time.Time
}

// NewReconciler wires the reconciler. alerts and events may be nil in
// deployments without Kafka.
func NewReconciler(
	q repository.QueueRepository,
	dnc repository.DNCRepository,
	records repository.CallRecordStore,
	retrier *retry.Controller,
	alerts AlertSink,
	events EventSink,
	log *logger.Logger,
	now func() time.Time,
) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		queue:   q,
		dnc:     dnc,
		records: records,
		retrier: retrier,
		alerts:  alerts,
		events:  events,
		log:     log.Named("reconcile"),
		now:     now,
	}
}

// OnStatusEvent applies one provider callback. A returned error means the
// event could not be consumed and should go to the failed-webhook ledger.
func (r *Reconciler) OnStatusEvent(ctx context.Context, ev domain.StatusEvent) error {
	item, err := r.queue.GetByProviderCallID(ctx, ev.ProviderCallID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("status event for unknown call %s: %w", ev.ProviderCallID, err)
		}
		return fmt.Errorf("lookup call %s: %w", ev.ProviderCallID, err)
	}

	if ev.Status.Intermediate() {
		r.appendAttempt(ctx, item, ev)
		return nil
	}

	status, outcome, err := classify(ev.Status)
	if err != nil {
		return err
	}

	r.appendAttempt(ctx, item, ev)

	if r.retrier.ShouldRetry(item, outcome) {
		return r.loopForRetry(ctx, item, ev, outcome)
	}
	if retry.Retryable(outcome) {
		// Attempt budget exhausted. The lineage fails permanently; the
		// outcome keeps the ring-out/busy detail for reporting.
		status = domain.QueueItemFailed
	}
	return r.finish(ctx, item, ev, status, outcome)
}

// classify maps a terminal provider status onto queue-item state.
func classify(s domain.ProviderCallStatus) (domain.QueueItemStatus, domain.CallOutcome, error) {
	switch s {
	case domain.ProviderStatusCompleted:
		return domain.QueueItemCompleted, domain.OutcomeAnswered, nil
	case domain.ProviderStatusNoAnswer:
		return domain.QueueItemNoAnswer, domain.OutcomeNoAnswer, nil
	case domain.ProviderStatusBusy:
		return domain.QueueItemNoAnswer, domain.OutcomeBusy, nil
	case domain.ProviderStatusFailed:
		return domain.QueueItemFailed, domain.OutcomeFailed, nil
	case domain.ProviderStatusDeclined:
		return domain.QueueItemDeclined, domain.OutcomeDeclined, nil
	}
	return "", "", fmt.Errorf("unknown provider call status %q", s)
}

func (r *Reconciler) loopForRetry(ctx context.Context, item *domain.QueueItem, ev domain.StatusEvent, outcome domain.CallOutcome) error {
	next := r.retrier.NextAttemptAt(item.AttemptCount)
	looped, err := r.queue.ScheduleRetry(ctx, item.ID, item.AttemptCount+1, next)
	if err != nil {
		return fmt.Errorf("schedule retry for %s: %w", item.ID, err)
	}
	if !looped {
		// Redelivered event or a concurrent transition already handled it.
		r.log.Debug("retry already scheduled, ignoring duplicate event",
			zap.String("queue_item_id", item.ID.String()),
			zap.String("provider_call_id", ev.ProviderCallID))
		return nil
	}
	r.log.Info("attempt retried",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("next_attempt", item.AttemptCount+1),
		zap.Time("next_attempt_at", next))
	return nil
}

func (r *Reconciler) finish(ctx context.Context, item *domain.QueueItem, ev domain.StatusEvent, status domain.QueueItemStatus, outcome domain.CallOutcome) error {
	var lastError *string
	if ev.ErrorDetail != "" {
		lastError = &ev.ErrorDetail
	}

	transitioned, err := r.queue.Terminalize(ctx, item.ID, status, outcome, lastError)
	if err != nil {
		return fmt.Errorf("terminalize %s: %w", item.ID, err)
	}
	if !transitioned {
		r.log.Debug("lineage already terminal, ignoring duplicate event",
			zap.String("queue_item_id", item.ID.String()),
			zap.String("provider_call_id", ev.ProviderCallID))
		return nil
	}

	if outcome == domain.OutcomeDeclined {
		r.blockDeclinedContact(ctx, item)
	}

	r.writeRecord(ctx, item, ev, outcome)
	r.publish(ctx, item, ev, outcome)

	r.log.Info("lineage settled",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("campaign_id", item.CampaignID.String()),
		zap.String("outcome", string(outcome)),
		zap.Int("attempts", item.AttemptCount))
	return nil
}

// blockDeclinedContact records an opt-out so no future campaign dials the
// number. A conflict means the entry already exists.
func (r *Reconciler) blockDeclinedContact(ctx context.Context, item *domain.QueueItem) {
	err := r.dnc.Add(ctx, &domain.DNCEntry{
		TenantID:  item.TenantID,
		Phone:     item.Phone,
		Reason:    domain.DNCReasonCustomerRequest,
		AddedBy:   "dialer",
		CreatedAt: r.now().UTC(),
	})
	if err != nil && !errors.Is(err, repository.ErrConflict) {
		r.log.Error("record opt-out failed",
			zap.String("queue_item_id", item.ID.String()),
			zap.Error(err))
	}
}

func (r *Reconciler) writeRecord(ctx context.Context, item *domain.QueueItem, ev domain.StatusEvent, outcome domain.CallOutcome) {
	endedAt := ev.OccurredAt
	if endedAt.IsZero() {
		endedAt = r.now().UTC()
	}
	record := &domain.CallRecord{
		ID:            uuid.New(),
		TenantID:      item.TenantID,
		CampaignID:    item.CampaignID,
		QueueItemID:   item.ID,
		Phone:         item.Phone,
		Outcome:       outcome,
		AttemptCount:  item.AttemptCount,
		Duration:      time.Duration(ev.DurationSec) * time.Second,
		RecordingURL:  ev.RecordingURL,
		TranscriptURL: ev.TranscriptURL,
		EndedAt:       endedAt,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.records.CreateRecord(ctx, record); err != nil {
		r.log.Error("write call record failed",
			zap.String("queue_item_id", item.ID.String()),
			zap.Error(err))
	}
}

// publish emits downstream notifications. Publishing is best-effort and
// never fails reconciliation.
func (r *Reconciler) publish(ctx context.Context, item *domain.QueueItem, ev domain.StatusEvent, outcome domain.CallOutcome) {
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.now().UTC()
	}

	if r.events != nil {
		msg := queue.CallEventMessage{
			TenantID:       item.TenantID,
			CampaignID:     item.CampaignID,
			QueueItemID:    item.ID,
			ProviderCallID: ev.ProviderCallID,
			Phone:          item.Phone,
			Outcome:        string(outcome),
			Attempt:        item.AttemptCount,
			DurationMs:     int64(ev.DurationSec) * 1000,
			OccurredAt:     occurredAt,
		}
		if err := r.events.Publish(ctx, msg); err != nil {
			r.log.Error("publish call event failed",
				zap.String("queue_item_id", item.ID.String()),
				zap.Error(err))
		}
	}

	missed := outcome == domain.OutcomeNoAnswer || outcome == domain.OutcomeBusy
	if missed && r.alerts != nil {
		msg := queue.AlertMessage{
			Kind:        queue.AlertMissedCall,
			TenantID:    item.TenantID,
			CampaignID:  item.CampaignID,
			QueueItemID: item.ID,
			Phone:       item.Phone,
			ContactName: item.ContactName,
			OccurredAt:  occurredAt,
		}
		if err := r.alerts.Publish(ctx, msg); err != nil {
			r.log.Error("publish missed-call alert failed",
				zap.String("queue_item_id", item.ID.String()),
				zap.Error(err))
		}
	}
}

// appendAttempt records per-dial observability. Attempt rows are keyed by
// (queue item, attempt number) so a redelivered event overwrites in place.
func (r *Reconciler) appendAttempt(ctx context.Context, item *domain.QueueItem, ev domain.StatusEvent) {
	if r.records == nil {
		return
	}
	attempt := domain.CallAttempt{
		QueueItemID: item.ID,
		AttemptNum:  item.AttemptCount,
		Status:      ev.Status,
		Error:       ev.ErrorDetail,
		CreatedAt:   r.now().UTC(),
		Duration:    time.Duration(ev.DurationSec) * time.Second,
	}
	if err := r.records.AppendAttempt(ctx, attempt); err != nil {
		r.log.Error("append call attempt failed",
			zap.String("queue_item_id", item.ID.String()),
			zap.Error(err))
	}
}
