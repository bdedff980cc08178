package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"heron/internal/models"
	"heron/internal/spreadsheet"
	"heron/internal/utils"
	"heron/internal/utils/crypto"
	"heron/internal/utils/logger"
)

var log = logger.New("CAMPAIGN")

// ContactSource reads the uploaded workbook (excelize in production, a fake
// in tests).
type ContactSource interface {
	ReadContacts(path, nameCol, emailCol string) ([]spreadsheet.ContactRow, error)
	Columns(path string) ([]string, error)
}

// Dispatcher hands the dispatch loop off to the task layer. Launch returns
// before any email is sent; the ledger is the only channel back.
type Dispatcher interface {
	EnqueueDispatch(ctx context.Context, campaignID string) error
}

// CampaignService orchestrates the campaign lifecycle: configure, launch,
// pause, resume, reset and the status poll.
type CampaignService struct {
	db         *gorm.DB
	source     ContactSource
	dispatcher Dispatcher
	validate   *validator.Validate
}

func NewCampaignService(db *gorm.DB, source ContactSource, dispatcher Dispatcher) *CampaignService {
	return &CampaignService{
		db:         db,
		source:     source,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

// ConfigureRequest carries everything a new campaign needs. The credential
// is sealed before it touches the ledger.
type ConfigureRequest struct {
	CampaignName     string `json:"campaignName"`
	SourcePath       string `json:"sourcePath" validate:"required"`
	NameColumn       string `json:"nameColumn" validate:"required"`
	EmailColumn      string `json:"emailColumn" validate:"required"`
	SenderEmail      string `json:"senderEmail" validate:"required,email"`
	Credential       string `json:"credential" validate:"required"`
	Subject          string `json:"subject" validate:"required"`
	BodyHTML         string `json:"bodyHtml"`
	BodyText         string `json:"bodyText"`
	FollowupSubject  string `json:"followupSubject"`
	FollowupBodyHTML string `json:"followupBodyHtml"`
	FollowupBodyText string `json:"followupBodyText"`
	FollowupDays     int    `json:"followupDays" validate:"min=0"`
}

// Configure archives whatever campaign is current and persists a new draft.
func (s *CampaignService) Configure(ctx context.Context, req ConfigureRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.validateTemplates(req); err != nil {
		return "", err
	}

	sealed, err := crypto.Encrypt(req.Credential)
	if err != nil {
		return "", log.Error("failed to seal credential", err)
	}

	name := req.CampaignName
	if name == "" {
		name = fmt.Sprintf("Campaign %s", time.Now().UTC().Format("02/01/2006 15:04"))
	}
	if req.FollowupDays == 0 {
		req.FollowupDays = 3
	}

	campaign := &models.Campaign{
		Name:             name,
		SourcePath:       req.SourcePath,
		NameColumn:       req.NameColumn,
		EmailColumn:      req.EmailColumn,
		SenderEmail:      req.SenderEmail,
		Credential:       sealed,
		Subject:          req.Subject,
		BodyHTML:         req.BodyHTML,
		BodyText:         req.BodyText,
		FollowupSubject:  req.FollowupSubject,
		FollowupBodyHTML: req.FollowupBodyHTML,
		FollowupBodyText: req.FollowupBodyText,
		FollowupDays:     req.FollowupDays,
		Status:           models.CampaignStatusDraft,
	}

	// A new configuration supersedes everything that came before it; the
	// archive and the insert commit together.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.ArchiveActive(tx); err != nil {
			return err
		}
		return tx.Create(campaign).Error
	})
	if err != nil {
		return "", log.Error("failed to persist campaign", err)
	}

	log.Info("configured campaign %s (%s)", campaign.ID, campaign.Name)
	return campaign.ID, nil
}

// validateTemplates checks every {{variable}} in the six templates against
// the source workbook, so a typo surfaces at configure time instead of
// rendering literally into every outgoing message. The render-time set is the
// extra columns plus the name aliases; the email column never substitutes.
func (s *CampaignService) validateTemplates(req ConfigureRequest) error {
	columns, err := s.source.Columns(req.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: unreadable source workbook: %v", ErrValidation, err)
	}

	allowed := map[string]struct{}{"name": {}}
	for _, col := range columns {
		if col == req.EmailColumn {
			continue
		}
		allowed[col] = struct{}{}
	}

	templates := []string{
		req.Subject, req.BodyHTML, req.BodyText,
		req.FollowupSubject, req.FollowupBodyHTML, req.FollowupBodyText,
	}
	for _, template := range templates {
		for _, variable := range utils.ParseVariables(template) {
			if _, ok := allowed[variable]; !ok {
				return fmt.Errorf("%w: template variable {{%s}} is not a column of the source workbook", ErrValidation, variable)
			}
		}
	}
	return nil
}

// LaunchResult reports how many contacts were enrolled and how many were
// skipped by the suppression list.
type LaunchResult struct {
	CampaignID string `json:"campaignId"`
	Started    int    `json:"started"`
	Skipped    int    `json:"skipped"`
}

// Launch enrolls the draft campaign's contacts and starts the dispatch loop
// in the background. It returns as soon as the ledger is written.
func (s *CampaignService) Launch(ctx context.Context) (LaunchResult, error) {
	draft, err := models.DraftCampaign(s.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LaunchResult{}, ErrNoDraft
	}
	if err != nil {
		return LaunchResult{}, log.Error("failed to load draft campaign", err)
	}

	rows, err := s.source.ReadContacts(draft.SourcePath, draft.NameColumn, draft.EmailColumn)
	if err != nil {
		return LaunchResult{}, log.Error("failed to read contact source", err)
	}

	suppressed, err := models.SuppressedEmails(s.db.WithContext(ctx))
	if err != nil {
		return LaunchResult{}, log.Error("failed to load suppression list", err)
	}

	kept, skipped := FilterNewContacts(rows, suppressed)
	if len(kept) == 0 {
		return LaunchResult{CampaignID: draft.ID, Skipped: skipped}, ErrEmptyLaunch
	}

	contacts := make([]models.Contact, 0, len(kept))
	for i, row := range kept {
		fields, err := json.Marshal(row.Fields)
		if err != nil {
			return LaunchResult{}, log.Error("failed to encode contact fields", err)
		}
		contacts = append(contacts, models.Contact{
			CampaignID: draft.ID,
			Email:      row.Email,
			Name:       row.Name,
			Fields:     datatypes.JSON(fields),
			Position:   i,
			Status:     models.ContactStatusPending,
		})
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.ReplaceContacts(tx, draft.ID, contacts); err != nil {
			return err
		}
		if err := draft.Transition(models.CampaignStatusRunning); err != nil {
			return err
		}
		draft.StartedAt = &now
		return tx.Model(draft).Updates(map[string]interface{}{
			"status":     draft.Status,
			"started_at": draft.StartedAt,
		}).Error
	})
	if err != nil {
		return LaunchResult{}, log.Error("failed to enroll contacts", err)
	}

	if err := s.dispatcher.EnqueueDispatch(ctx, draft.ID); err != nil {
		// The campaign stays RUNNING with its contacts PENDING; a resume
		// re-enqueues the loop.
		return LaunchResult{}, log.Error("failed to start dispatch loop", err)
	}

	log.Info("launched campaign %s: %d contacts enrolled, %d skipped", draft.ID, len(contacts), skipped)
	return LaunchResult{CampaignID: draft.ID, Started: len(contacts), Skipped: skipped}, nil
}

// Pause stops the dispatch loop at the next contact boundary. In-flight
// transport calls are not interrupted.
func (s *CampaignService) Pause(ctx context.Context) error {
	campaign, err := models.ActiveCampaign(s.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoActiveCampaign
	}
	if err != nil {
		return log.Error("failed to load active campaign", err)
	}
	if campaign.Status == models.CampaignStatusPaused {
		return nil
	}
	if err := campaign.Transition(models.CampaignStatusPaused); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(campaign).Update("status", campaign.Status).Error; err != nil {
		return log.Error("failed to pause campaign", err)
	}
	log.Info("paused campaign %s", campaign.ID)
	return nil
}

// Resume flips the campaign back to RUNNING and restarts the dispatch loop
// for the contacts that are still pending, in their original order.
func (s *CampaignService) Resume(ctx context.Context) error {
	campaign, err := models.ActiveCampaign(s.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoActiveCampaign
	}
	if err != nil {
		return log.Error("failed to load active campaign", err)
	}
	if campaign.Status == models.CampaignStatusPaused {
		if err := campaign.Transition(models.CampaignStatusRunning); err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Model(campaign).Update("status", campaign.Status).Error; err != nil {
			return log.Error("failed to resume campaign", err)
		}
	}
	if err := s.dispatcher.EnqueueDispatch(ctx, campaign.ID); err != nil {
		return log.Error("failed to restart dispatch loop", err)
	}
	log.Info("resumed campaign %s", campaign.ID)
	return nil
}

// Reset archives every non-archived campaign. Safe to call repeatedly.
func (s *CampaignService) Reset(ctx context.Context) error {
	if err := models.ArchiveActive(s.db.WithContext(ctx)); err != nil {
		return log.Error("failed to archive campaigns", err)
	}
	log.Info("archived all campaigns")
	return nil
}

// StatusReport is the read-only poll the control surface serves: the current
// campaign, aggregate counts and the full contact list.
type StatusReport struct {
	Campaign *models.Campaign               `json:"campaign"`
	Stats    map[models.ContactStatus]int64 `json:"stats"`
	Total    int64                          `json:"total"`
	Contacts []models.Contact               `json:"contacts"`
}

// Status reports on the current campaign; background work is observed only
// through this ledger view.
func (s *CampaignService) Status(ctx context.Context) (StatusReport, error) {
	campaign, err := models.CurrentCampaign(s.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusReport{Stats: map[models.ContactStatus]int64{}, Contacts: []models.Contact{}}, nil
	}
	if err != nil {
		return StatusReport{}, log.Error("failed to load campaign", err)
	}

	stats, err := models.CountContactsByStatus(s.db.WithContext(ctx), campaign.ID)
	if err != nil {
		return StatusReport{}, log.Error("failed to count contacts", err)
	}
	var total int64
	for _, n := range stats {
		total += n
	}

	var contacts []models.Contact
	if err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaign.ID).
		Order("position ASC").Find(&contacts).Error; err != nil {
		return StatusReport{}, log.Error("failed to list contacts", err)
	}

	return StatusReport{Campaign: campaign, Stats: stats, Total: total, Contacts: contacts}, nil
}
