package models

import "time"

// QueueStatus is the review state of a queue item.
type QueueStatus string

const (
	StatusPending  QueueStatus = "pending"
	StatusApproved QueueStatus = "approved"
	StatusRejected QueueStatus = "rejected"
	// StatusAll is a list filter only; items never carry it.
	StatusAll QueueStatus = "all"
)

// ParseQueueStatus maps a query value to a list filter. Empty means all.
func ParseQueueStatus(s string) (QueueStatus, bool) {
	switch QueueStatus(s) {
	case "", StatusAll:
		return StatusAll, true
	case StatusPending, StatusApproved, StatusRejected:
		return QueueStatus(s), true
	}
	return "", false
}

// IsReviewAction reports whether s is a terminal review status.
func IsReviewAction(s QueueStatus) bool {
	return s == StatusApproved || s == StatusRejected
}

// Priority orders the human review queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// QueueItem is one flagged submission awaiting or having received review.
type QueueItem struct {
	ID          string `json:"id"`
	Workflow    string `json:"workflow"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	SafeContent string `json:"safeContent"`
	ContentHash string `json:"contentHash"`
	UserID      string `json:"userId,omitempty"`
	UserEmail   string `json:"userEmail,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Country     string `json:"country,omitempty"`
	DeviceType  string `json:"deviceType,omitempty"`

	Tier1Result *TierResult  `json:"tier1Result,omitempty"`
	Tier2Result *TierResult  `json:"tier2Result,omitempty"`
	Tier3Result *TierResult  `json:"tier3Result,omitempty"`
	TierFlow    []TierResult `json:"tierFlow"`

	Priority      Priority    `json:"priority"`
	OverallAction Action      `json:"overallAction"`
	Reason        string      `json:"reason"`
	Status        QueueStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ReviewedAt    *time.Time  `json:"reviewedAt,omitempty"`
	ReviewedBy    string      `json:"reviewedBy,omitempty"`
	Notes         string      `json:"notes,omitempty"`
}

// QueueStats summarises the review queue.
type QueueStats struct {
	Pending    int `json:"pending"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	TodayTotal int `json:"todayTotal"`
	// DecisionsToday counts every decision taken today by final action,
	// including allowed and blocked content that never reaches the queue.
	DecisionsToday map[string]int64 `json:"decisionsToday,omitempty"`
}
