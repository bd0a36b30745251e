package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// CampaignType classifies the purpose of an outbound campaign.
type CampaignType string

const (
	CampaignTypeReminder CampaignType = "reminder"
	CampaignTypeFollowUp CampaignType = "follow_up"
	CampaignTypeCustom   CampaignType = "custom"
)

// CampaignSettings carries operator-authored dialing parameters.
type CampaignSettings struct {
	Instruction string `json:"instruction"`
	Purpose     string `json:"purpose"`
	DailyCap    int    `json:"daily_cap,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// Campaign models one named unit of outbound work for a tenant.
type Campaign struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Name        string
	Type        CampaignType
	Status      CampaignStatus
	Settings    CampaignSettings
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TenantSettings holds per-tenant dialing limits. A missing row falls back
// to configured defaults.
type TenantSettings struct {
	TenantID           uuid.UUID
	MaxConcurrentCalls int
	DailyCallCap       int
	MaxAttempts        int
	TimeZone           string
}

// QueueStats partitions a campaign's queue items by status. The counts always
// sum to Total.
type QueueStats struct {
	Total      int64
	Pending    int64
	Calling    int64
	Completed  int64
	Failed     int64
	Declined   int64
	DNCBlocked int64
	NoAnswer   int64
}

// Remaining reports how many items have not yet reached a terminal state.
func (s QueueStats) Remaining() int64 {
	return s.Pending + s.Calling
}
