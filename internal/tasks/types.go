package tasks

import "time"

// Task Types
const (
	// Campaign related tasks
	TaskTypeCampaignDispatch = "campaign:dispatch"

	// Inbox related tasks
	TaskTypeReplyCheck = "replies:check"

	// Escalation related tasks
	TaskTypeFollowupSend = "followup:send"
)

// Task Queues
const (
	QueueCritical = "critical" // For the dispatch loop
	QueueDefault  = "default"  // For the reply poller
	QueueLow      = "low"      // For the follow-up escalator
)

// Task Timeouts
const (
	TimeoutShort  = 1 * time.Minute
	TimeoutMedium = 5 * time.Minute
	TimeoutLong   = 2 * time.Hour // a large campaign paces itself between sends
)

// Task Retry Settings
const (
	RetryMax     = 5
	RetryDefault = 3
	RetryMin     = 1
)

// Task Payloads
type DispatchTask struct {
	CampaignID string `json:"campaign_id"`
}
