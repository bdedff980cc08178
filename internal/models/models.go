package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Campaign is one configured batch of outbound messages with shared
// templates and a sealed mail credential. At most one campaign is outside
// ARCHIVED at any time.
type Campaign struct {
	Base
	Name             string         `gorm:"not null" json:"name" validate:"required"`
	SourcePath       string         `gorm:"not null" json:"sourcePath"`
	NameColumn       string         `gorm:"not null;default:'Name'" json:"nameColumn"`
	EmailColumn      string         `gorm:"not null;default:'Email'" json:"emailColumn"`
	SenderEmail      string         `gorm:"not null" json:"senderEmail" validate:"required,email"`
	Credential       string         `gorm:"not null" json:"-"` // sealed, never returned
	Subject          string         `gorm:"not null" json:"subject" validate:"required"`
	BodyHTML         string         `json:"bodyHtml"`
	BodyText         string         `json:"bodyText"`
	FollowupSubject  string         `json:"followupSubject"`
	FollowupBodyHTML string         `json:"followupBodyHtml"`
	FollowupBodyText string         `json:"followupBodyText"`
	FollowupDays     int            `gorm:"not null;default:3" json:"followupDays" validate:"min=0"`
	LastError        string         `json:"lastError"`
	Status           CampaignStatus `gorm:"not null;default:'DRAFT'" json:"status"`
	StartedAt        *time.Time     `json:"startedAt"`
	Contacts         []Contact      `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"contacts,omitempty"`
}

// Contact is one recipient and its per-campaign delivery and reply state.
// Email keeps its original casing; matching is done lower-cased.
type Contact struct {
	Base
	CampaignID     string         `gorm:"type:uuid;not null;index" json:"campaignId"`
	Campaign       *Campaign      `json:"-"`
	Email          string         `gorm:"not null" json:"email" validate:"required,email"`
	Name           string         `json:"name"`
	Fields         datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"fields"`
	Position       int            `gorm:"not null;default:0" json:"position"` // insertion order, fixes the send order
	Status         ContactStatus  `gorm:"not null;default:'PENDING';index" json:"status"`
	SendError      string         `json:"sendError"`
	MessageID      string         `json:"messageId"`
	SentAt         *time.Time     `json:"sentAt"`
	RepliedAt      *time.Time     `json:"repliedAt"`
	FollowupSentAt *time.Time     `json:"followupSentAt"`
}

// suppressedStatuses are the statuses that put an email on the global
// suppression list across all campaigns, archived included.
var suppressedStatuses = func() []ContactStatus {
	all := []ContactStatus{
		ContactStatusPending, ContactStatusSent, ContactStatusReplied,
		ContactStatusFollowupSent, ContactStatusBounced,
	}
	var messaged []ContactStatus
	for _, status := range all {
		if status.IsTerminalOrSent() {
			messaged = append(messaged, status)
		}
	}
	return messaged
}()

// DraftCampaign returns the newest DRAFT campaign.
func DraftCampaign(db *gorm.DB) (*Campaign, error) {
	var campaign Campaign
	err := db.Where("status = ?", CampaignStatusDraft).
		Order("created_at DESC").First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// ActiveCampaign returns the newest campaign in RUNNING or PAUSED.
func ActiveCampaign(db *gorm.DB) (*Campaign, error) {
	var campaign Campaign
	err := db.Where("status IN ?", []CampaignStatus{CampaignStatusRunning, CampaignStatusPaused}).
		Order("created_at DESC").First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// RunningCampaign returns the single RUNNING campaign, or gorm.ErrRecordNotFound.
func RunningCampaign(db *gorm.DB) (*Campaign, error) {
	var campaign Campaign
	err := db.Where("status = ?", CampaignStatusRunning).
		Order("created_at DESC").First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// CurrentCampaign is the campaign the status surface reports on: the active
// one, else a completed one, else the configured draft.
func CurrentCampaign(db *gorm.DB) (*Campaign, error) {
	var campaign Campaign
	err := db.Where("status IN ?", []CampaignStatus{
		CampaignStatusRunning, CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusError,
	}).Order("created_at DESC").First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("status = ?", CampaignStatusDraft).
			Order("created_at DESC").First(&campaign).Error
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// ArchiveActive forces every non-archived campaign into ARCHIVED. Runs
// inside the caller's transaction so configure/reset stay atomic.
func ArchiveActive(tx *gorm.DB) error {
	return tx.Model(&Campaign{}).
		Where("status <> ?", CampaignStatusArchived).
		Update("status", CampaignStatusArchived).Error
}

// PendingContacts returns a campaign's PENDING contacts in insertion order.
func PendingContacts(db *gorm.DB, campaignID string) ([]Contact, error) {
	var contacts []Contact
	err := db.Where("campaign_id = ? AND status = ?", campaignID, ContactStatusPending).
		Order("position ASC").Find(&contacts).Error
	return contacts, err
}

// SentContactsWithMessageID returns a campaign's SENT contacts that carry a
// transport message identifier, in insertion order.
func SentContactsWithMessageID(db *gorm.DB, campaignID string) ([]Contact, error) {
	var contacts []Contact
	err := db.Where("campaign_id = ? AND status = ? AND message_id <> ''", campaignID, ContactStatusSent).
		Order("position ASC").Find(&contacts).Error
	return contacts, err
}

// ContactsPastCutoff returns SENT contacts whose send predates the cutoff.
func ContactsPastCutoff(db *gorm.DB, campaignID string, cutoff time.Time) ([]Contact, error) {
	var contacts []Contact
	err := db.Where("campaign_id = ? AND status = ? AND sent_at <= ?", campaignID, ContactStatusSent, cutoff).
		Order("position ASC").Find(&contacts).Error
	return contacts, err
}

// SuppressedEmails returns the lower-cased emails already messaged in any
// campaign, current or archived.
func SuppressedEmails(db *gorm.DB) (map[string]struct{}, error) {
	var emails []string
	err := db.Model(&Contact{}).Distinct().
		Where("status IN ?", suppressedStatuses).
		Pluck("email", &emails).Error
	if err != nil {
		return nil, err
	}
	suppressed := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		suppressed[strings.ToLower(email)] = struct{}{}
	}
	return suppressed, nil
}

// UpdateContactStatus performs a compare-and-set on a contact's status so a
// racing poller and escalator cannot overwrite each other. Illegal moves are
// rejected before touching the database. Returns false if the contact was no
// longer in the expected status.
func UpdateContactStatus(db *gorm.DB, contactID string, from, to ContactStatus, extra map[string]interface{}) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal contact transition %s -> %s", from, to)
	}
	updates := map[string]interface{}{"status": to}
	for column, value := range extra {
		updates[column] = value
	}
	result := db.Model(&Contact{}).
		Where("id = ? AND status = ?", contactID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountContactsByStatus aggregates a campaign's per-status contact counts.
func CountContactsByStatus(db *gorm.DB, campaignID string) (map[ContactStatus]int64, error) {
	type row struct {
		Status ContactStatus
		N      int64
	}
	var rows []row
	err := db.Model(&Contact{}).
		Select("status, count(*) as n").
		Where("campaign_id = ?", campaignID).
		Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[ContactStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// ReplaceContacts deletes a campaign's previous contact set and inserts the
// new one, preserving slice order as insertion order.
func ReplaceContacts(tx *gorm.DB, campaignID string, contacts []Contact) error {
	if err := tx.Where("campaign_id = ?", campaignID).Delete(&Contact{}).Error; err != nil {
		return err
	}
	if len(contacts) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&contacts).Error
}
