package models

import "time"

// Alert notifies administrators of a Tier 3 threshold breach.
type Alert struct {
	QueueItemID string          `json:"queueItemId,omitempty"`
	Workflow    string          `json:"workflow"`
	UserID      string          `json:"userId,omitempty"`
	Action      Action          `json:"action"`
	Priority    Priority        `json:"priority"`
	Categories  []CategoryScore `json:"categories"`
	CreatedAt   time.Time       `json:"createdAt"`
}
