package quota

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/receptionist-dialer/internal/domain"
)

// BoundaryUTC resets quotas at midnight UTC; BoundaryTenantLocal resets at
// midnight in the tenant's configured timezone.
const (
	BoundaryUTC         = "utc"
	BoundaryTenantLocal = "tenant_local"
)

// reserveScript increments the day counter only while it is below the cap.
// Returns the remaining headroom after the reservation, or -1 when the cap
// is already spent.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local current = tonumber(redis.call('GET', key) or '0')
if current + n > cap then
  return -1
end
current = redis.call('INCRBY', key, n)
if ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
end
return cap - current
`)

var refundScript = redis.NewScript(`
local key = KEYS[1]
local n = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', key) or '0')
if current <= n then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECRBY', key, n)
`)

// DailyCounter tracks dial attempts per tenant per calendar day in Redis.
// The counter is authoritative for the daily cap: reservations happen before
// dispatch, and dials that never left the dialer are refunded.
type DailyCounter struct {
	client     *redis.Client
	defaultCap int
	boundary   string
	now        func() time.Time
}

// NewDailyCounter constructs the counter. boundary is one of BoundaryUTC or
// BoundaryTenantLocal.
func NewDailyCounter(client *redis.Client, defaultCap int, boundary string, now func() time.Time) *DailyCounter {
	if now == nil {
		now = time.Now
	}
	if boundary != BoundaryTenantLocal {
		boundary = BoundaryUTC
	}
	return &DailyCounter{client: client, defaultCap: defaultCap, boundary: boundary, now: now}
}

// Remaining reports how many dials the tenant has left today.
func (d *DailyCounter) Remaining(ctx context.Context, tenant domain.TenantSettings) (int, error) {
	cap := d.cap(tenant)
	if cap <= 0 {
		return 0, nil
	}
	key, _ := d.key(tenant)
	current, err := d.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("quota remaining: %w", err)
	}
	if current >= cap {
		return 0, nil
	}
	return cap - current, nil
}

// Reserve atomically claims n dials against today's cap. It returns false
// without consuming anything when the cap cannot absorb all n.
func (d *DailyCounter) Reserve(ctx context.Context, tenant domain.TenantSettings, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}
	cap := d.cap(tenant)
	if cap <= 0 {
		return false, nil
	}
	key, ttl := d.key(tenant)
	res, err := reserveScript.Run(ctx, d.client, []string{key}, cap, ttl.Milliseconds(), n).Int()
	if err != nil {
		return false, fmt.Errorf("quota reserve: %w", err)
	}
	return res >= 0, nil
}

// Refund returns n reservations that were never dialed, for example when a
// claim succeeded but the provider rejected the call before ringing.
func (d *DailyCounter) Refund(ctx context.Context, tenant domain.TenantSettings, n int) error {
	if n <= 0 {
		return nil
	}
	key, _ := d.key(tenant)
	if _, err := refundScript.Run(ctx, d.client, []string{key}, n).Int(); err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	return nil
}

func (d *DailyCounter) cap(tenant domain.TenantSettings) int {
	if tenant.DailyCallCap > 0 {
		return tenant.DailyCallCap
	}
	return d.defaultCap
}

// key returns the per-tenant day-bucketed counter key plus a TTL generous
// enough to outlive the day without leaking keys forever.
func (d *DailyCounter) key(tenant domain.TenantSettings) (string, time.Duration) {
	now := d.now().UTC()
	if d.boundary == BoundaryTenantLocal && tenant.TimeZone != "" {
		if loc, err := time.LoadLocation(tenant.TimeZone); err == nil {
			now = d.now().In(loc)
		}
	}
	day := now.Format("2006-01-02")
	return fmt.Sprintf("dialer:quota:%s:%s", tenant.TenantID, day), 48 * time.Hour
}
