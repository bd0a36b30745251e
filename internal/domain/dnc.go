package domain

import (
	"time"

	"github.com/google/uuid"
)

// DNCReason explains why a number was suppressed.
type DNCReason string

const (
	DNCReasonCustomerRequest DNCReason = "customer_request"
	DNCReasonComplaint       DNCReason = "complaint"
	DNCReasonLegal           DNCReason = "legal"
	DNCReasonBounced         DNCReason = "bounced"
	DNCReasonOther           DNCReason = "other"
)

// ValidDNCReason reports whether the reason is one of the known values.
func ValidDNCReason(r DNCReason) bool {
	switch r {
	case DNCReasonCustomerRequest, DNCReasonComplaint, DNCReasonLegal, DNCReasonBounced, DNCReasonOther:
		return true
	}
	return false
}

// DNCEntry is a tenant-scoped number that must never be dialed. Unique on
// (TenantID, Phone).
type DNCEntry struct {
	TenantID  uuid.UUID
	Phone     string
	Reason    DNCReason
	AddedBy   string
	CreatedAt time.Time
}
