package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

// CampaignStatus Status enums
type CampaignStatus string
type ContactStatus string

// Campaign status constants
const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusRunning   CampaignStatus = "RUNNING"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusError     CampaignStatus = "ERROR"
	CampaignStatusArchived  CampaignStatus = "ARCHIVED"
)

// Contact status constants
const (
	ContactStatusPending      ContactStatus = "PENDING"
	ContactStatusSent         ContactStatus = "SENT"
	ContactStatusReplied      ContactStatus = "REPLIED"
	ContactStatusFollowupSent ContactStatus = "FOLLOWUP_SENT"
	ContactStatusBounced      ContactStatus = "BOUNCED"
)

// campaignTransitions encodes the legal campaign lifecycle. Archived is
// terminal; anything may be archived (reset or superseded by a new campaign).
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusRunning, CampaignStatusArchived},
	CampaignStatusRunning:   {CampaignStatusRunning, CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusError, CampaignStatusArchived},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusError, CampaignStatusArchived},
	CampaignStatusCompleted: {CampaignStatusArchived},
	CampaignStatusError:     {CampaignStatusArchived},
	CampaignStatusArchived:  {},
}

// contactTransitions encodes the one-directional contact lifecycle.
// Bounced, replied and followup_sent are terminal for the engine.
var contactTransitions = map[ContactStatus][]ContactStatus{
	ContactStatusPending:      {ContactStatusSent, ContactStatusBounced},
	ContactStatusSent:         {ContactStatusReplied, ContactStatusFollowupSent, ContactStatusBounced},
	ContactStatusReplied:      {},
	ContactStatusFollowupSent: {},
	ContactStatusBounced:      {},
}

// CanTransition reports whether moving to the target status is legal.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s ContactStatus) CanTransition(to ContactStatus) bool {
	for _, allowed := range contactTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the campaign to the target status, rejecting illegal moves.
func (c *Campaign) Transition(to CampaignStatus) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("illegal campaign transition %s -> %s", c.Status, to)
	}
	c.Status = to
	return nil
}

// IsTerminalOrSent reports whether a contact with this status has been
// messaged; such emails land on the global suppression list.
func (s ContactStatus) IsTerminalOrSent() bool {
	switch s {
	case ContactStatusSent, ContactStatusReplied, ContactStatusFollowupSent:
		return true
	default:
		return false
	}
}
