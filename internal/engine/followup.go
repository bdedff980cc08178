package engine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"heron/internal/mailer"
	"heron/internal/models"
	"heron/internal/spreadsheet"
	"heron/internal/utils"
	"heron/internal/utils/crypto"
)

// RunFollowups sends the configured follow-up to contacts who were messaged
// at least FollowupDays ago and still have not replied. Each escalation is
// committed per contact, so a crash mid-batch never double-sends.
func (e *Engine) RunFollowups(ctx context.Context) error {
	campaign, err := models.RunningCampaign(e.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return e.log.Error("followup: failed to look up running campaign", err)
	}
	if campaign.FollowupBodyHTML == "" && campaign.FollowupBodyText == "" {
		return nil
	}

	days := campaign.FollowupDays
	if days <= 0 {
		days = e.cfg.DefaultFollowupDays
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	contacts, err := models.ContactsPastCutoff(e.db.WithContext(ctx), campaign.ID, cutoff)
	if err != nil {
		return e.log.Error("followup: failed to load due contacts", err)
	}
	if len(contacts) == 0 {
		return nil
	}
	e.log.Info("followup: campaign %s, %d contacts due", campaign.ID, len(contacts))

	credential, err := crypto.Decrypt(campaign.Credential)
	if err != nil {
		e.log.Error("followup: failed to unseal credential", err)
		return nil
	}

	for i := range contacts {
		contact := &contacts[i]

		variables, err := contactVariables(campaign, contact)
		if err != nil {
			e.log.Warn("followup: skipping %s, invalid fields: %v", contact.Email, err)
			continue
		}

		subject := utils.ReplaceVariables(campaign.FollowupSubject, variables)
		if subject == "" {
			subject = "Re: " + utils.ReplaceVariables(campaign.Subject, variables)
		}
		msg := mailer.Message{
			From:      campaign.SenderEmail,
			To:        contact.Email,
			Subject:   subject,
			HTML:      utils.ReplaceVariables(campaign.FollowupBodyHTML, variables),
			Text:      utils.ReplaceVariables(campaign.FollowupBodyText, variables),
			InReplyTo: contact.MessageID,
		}

		now := time.Now().UTC()
		if _, err := e.transport.Send(ctx, credential, msg); err != nil {
			// The contact stays SENT and the next pass retries it.
			e.log.Warn("followup: send failed for %s: %v", contact.Email, err)
			if errors.Is(err, mailer.ErrAuthFailed) {
				break
			}
			continue
		}

		updated, err := models.UpdateContactStatus(e.db.WithContext(ctx), contact.ID,
			models.ContactStatusSent, models.ContactStatusFollowupSent, map[string]interface{}{
				"followup_sent_at": now,
			})
		if err != nil {
			e.log.Error("followup: failed to record escalation", err)
			continue
		}
		if updated {
			e.mirrorStatus(campaign, contact.Email, models.ContactStatusFollowupSent, spreadsheet.StatusTimes{FollowupAt: &now})
			e.log.Success("followup: sent to %s", contact.Email)
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return e.log.Error("followup: cancelled while pacing", err)
		}
	}
	return nil
}
