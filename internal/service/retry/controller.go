package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/acme/receptionist-dialer/internal/config"
	"github.com/acme/receptionist-dialer/internal/domain"
)

// Strategy names accepted by BackoffConfig.
const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// Controller decides whether an attempt lineage gets another dial and when.
// The backoff policy comes from configuration, not code.
type Controller struct {
	strategy  string
	baseDelay time.Duration
	maxDelay  time.Duration
	jitter    float64
	now       func() time.Time
}

// NewController builds a controller from config with an injectable clock.
func NewController(cfg config.BackoffConfig, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		strategy:  cfg.Strategy,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
		jitter:    cfg.Jitter,
		now:       now,
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 2 * time.Minute
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = c.baseDelay
	}
	if c.strategy != StrategyFixed && c.strategy != StrategyExponential {
		c.strategy = StrategyExponential
	}
	return c
}

// Retryable reports whether the outcome class is eligible for redial at all.
// Declined contacts opted out and are never redialed; answered and
// invalid-number outcomes are final by definition.
func Retryable(outcome domain.CallOutcome) bool {
	switch outcome {
	case domain.OutcomeNoAnswer, domain.OutcomeBusy, domain.OutcomeFailed:
		return true
	}
	return false
}

// ShouldRetry reports whether the outcome warrants another attempt.
func (c *Controller) ShouldRetry(item *domain.QueueItem, outcome domain.CallOutcome) bool {
	return Retryable(outcome) && item.AttemptCount < item.MaxAttempts
}

// NextAttemptAt computes the eligibility time for the given completed attempt
// number. Delays grow monotonically per attempt.
func (c *Controller) NextAttemptAt(attempt int) time.Time {
	return c.now().UTC().Add(c.Delay(attempt))
}

// Delay returns the backoff delay after `attempt` attempts.
func (c *Controller) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch c.strategy {
	case StrategyFixed:
		delay = time.Duration(attempt) * c.baseDelay
	default:
		exponent := math.Pow(2, float64(attempt-1))
		delay = time.Duration(exponent * float64(c.baseDelay))
	}
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}

	if c.jitter > 0 {
		fraction := rand.Float64()*c.jitter - c.jitter/2
		delay += time.Duration(float64(delay) * fraction)
		if delay < c.baseDelay {
			delay = c.baseDelay
		}
	}

	return delay
}
