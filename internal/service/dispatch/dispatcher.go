package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acme/receptionist-dialer/internal/domain"
	"github.com/acme/receptionist-dialer/internal/repository"
	"github.com/acme/receptionist-dialer/internal/voice"
	"github.com/acme/receptionist-dialer/pkg/logger"
)

// Result reports what happened to one dispatch.
type Result struct {
	Dialed         bool
	ProviderCallID string
	Permanent      bool
	Err            error
}

// Dispatcher originates calls for claimed queue items and settles the
// state of items the provider rejects synchronously.
type Dispatcher struct {
	provider voice.Provider
	queue    repository.QueueRepository
	agentID  string
	timeout  time.Duration
	log      *logger.Logger
}

// NewDispatcher builds a dispatcher around the configured voice provider.
func NewDispatcher(provider voice.Provider, queue repository.QueueRepository, agentID string, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		provider: provider,
		queue:    queue,
		agentID:  agentID,
		timeout:  timeout,
		log:      log.Named("dispatch"),
	}
}

// Dispatch places the call for a claimed (calling) item. On synchronous
// rejection the item is settled here: permanent rejections terminalize the
// lineage as failed without consuming a retry, transient ones release the
// item back to pending with the attempt count untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *domain.Campaign, item *domain.QueueItem) Result {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	placement, err := d.provider.PlaceCall(callCtx, voice.CallRequest{
		Phone:     item.Phone,
		AgentID:   d.agentID,
		Variables: dynamicVariables(campaign, item),
	})
	if err != nil {
		return d.settleRejection(ctx, item, err)
	}

	if err := d.queue.MarkDispatched(ctx, item.ID, placement.ProviderCallID); err != nil {
		// The call is already in flight but its provider id never hit the
		// row, so webhooks cannot find the item. The stuck-calling sweep
		// reaps it once the calling timeout passes.
		d.log.Error("mark dispatched failed",
			zap.String("queue_item_id", item.ID.String()),
			zap.String("provider_call_id", placement.ProviderCallID),
			zap.Error(err))
		return Result{Dialed: true, ProviderCallID: placement.ProviderCallID, Err: err}
	}

	d.log.Info("call placed",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("campaign_id", item.CampaignID.String()),
		zap.String("provider_call_id", placement.ProviderCallID),
		zap.Int("attempt", item.AttemptCount))
	return Result{Dialed: true, ProviderCallID: placement.ProviderCallID}
}

func (d *Dispatcher) settleRejection(ctx context.Context, item *domain.QueueItem, err error) Result {
	rejection, ok := voice.AsRejection(err)
	if !ok {
		// Timeouts and transport errors count as transient.
		rejection = &voice.RejectionError{Reason: err.Error()}
	}

	if rejection.Permanent {
		reason := rejection.Reason
		if _, terr := d.queue.Terminalize(ctx, item.ID, domain.QueueItemFailed, domain.OutcomeInvalidNumber, &reason); terr != nil {
			return Result{Permanent: true, Err: fmt.Errorf("terminalize rejected item: %w", terr)}
		}
		d.log.Warn("call permanently rejected",
			zap.String("queue_item_id", item.ID.String()),
			zap.String("reason", rejection.Reason))
		return Result{Permanent: true, Err: err}
	}

	if rerr := d.queue.Release(ctx, item.ID, rejection.Reason); rerr != nil {
		return Result{Err: fmt.Errorf("release rejected item: %w", rerr)}
	}
	d.log.Warn("call transiently rejected, item released",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("reason", rejection.Reason))
	return Result{Err: err}
}

// dynamicVariables carries campaign context into the voice agent's prompt.
func dynamicVariables(campaign *domain.Campaign, item *domain.QueueItem) map[string]string {
	vars := map[string]string{
		"contact_name":  item.ContactName,
		"campaign_name": campaign.Name,
		"purpose":       campaign.Settings.Purpose,
		"instruction":   campaign.Settings.Instruction,
	}
	for k, v := range vars {
		if v == "" {
			delete(vars, k)
		}
	}
	return vars
}
