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

// RunDispatch drains a campaign's pending contacts in insertion order, one
// sequential worker per campaign. Per-contact failures are recorded on the
// contact and never escalate; a rejected credential is campaign-fatal.
func (e *Engine) RunDispatch(ctx context.Context, campaignID string) error {
	var campaign models.Campaign
	if err := e.db.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return e.log.Error("dispatch: campaign not found", err)
	}
	if campaign.Status != models.CampaignStatusRunning {
		e.log.Info("dispatch: campaign %s is %s, nothing to do", campaignID, campaign.Status)
		return nil
	}

	credential, err := crypto.Decrypt(campaign.Credential)
	if err != nil {
		// Recoverable by restart once the key material is fixed; the
		// contacts stay pending.
		e.log.Error("dispatch: failed to unseal credential", err)
		return nil
	}

	contacts, err := models.PendingContacts(e.db.WithContext(ctx), campaignID)
	if err != nil {
		return e.log.Error("dispatch: failed to load pending contacts", err)
	}
	e.log.Info("dispatch: campaign %s, %d pending contacts", campaignID, len(contacts))

	authFailed := false
	pausedStop := false

	for i := range contacts {
		contact := &contacts[i]

		// Pause is cooperative: checked at the contact boundary only.
		var current models.Campaign
		if err := e.db.WithContext(ctx).Select("status").
			Take(&current, "id = ?", campaignID).Error; err != nil {
			return e.log.Error("dispatch: failed to re-read campaign status", err)
		}
		if current.Status != models.CampaignStatusRunning {
			e.log.Info("dispatch: campaign %s is %s, stopping loop", campaignID, current.Status)
			pausedStop = true
			break
		}

		variables, err := contactVariables(&campaign, contact)
		if err != nil {
			e.recordBounce(ctx, &campaign, contact, "invalid contact fields: "+err.Error())
			continue
		}

		msg := mailer.Message{
			From:    campaign.SenderEmail,
			To:      contact.Email,
			Subject: utils.ReplaceVariables(campaign.Subject, variables),
			HTML:    utils.ReplaceVariables(campaign.BodyHTML, variables),
			Text:    utils.ReplaceVariables(campaign.BodyText, variables),
		}

		now := time.Now().UTC()
		messageID, sendErr := e.transport.Send(ctx, credential, msg)

		switch {
		case sendErr == nil:
			ok, err := models.UpdateContactStatus(e.db.WithContext(ctx), contact.ID,
				models.ContactStatusPending, models.ContactStatusSent, map[string]interface{}{
					"message_id": messageID,
					"sent_at":    now,
					"send_error": "",
				})
			if err != nil {
				e.log.Error("dispatch: failed to record send", err)
			} else if ok {
				e.mirrorStatus(&campaign, contact.Email, models.ContactStatusSent, spreadsheet.StatusTimes{SentAt: &now})
				e.log.Info("dispatch: sent to %s", contact.Email)
			}

		case errors.Is(sendErr, mailer.ErrAuthFailed):
			// The credential is bad for every contact, not just this one.
			e.failCampaign(ctx, &campaign, contact, sendErr)
			authFailed = true

		case errors.Is(sendErr, mailer.ErrRecipientRefused):
			e.recordBounce(ctx, &campaign, contact, sendErr.Error())
			e.log.Warn("dispatch: recipient refused: %s", contact.Email)

		default:
			e.recordBounce(ctx, &campaign, contact, sendErr.Error())
			e.log.Warn("dispatch: send failed for %s: %v", contact.Email, sendErr)
		}

		if authFailed {
			break
		}

		// Intentional pacing between contacts, not a stall.
		if err := e.limiter.Wait(ctx); err != nil {
			return e.log.Error("dispatch: cancelled while pacing", err)
		}
	}

	if !authFailed && !pausedStop {
		// Idempotent confirmation; a paused->resume cycle re-enters this
		// same loop and lands here again.
		if err := e.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ? AND status = ?", campaignID, models.CampaignStatusRunning).
			Update("status", models.CampaignStatusRunning).Error; err != nil {
			return e.log.Error("dispatch: failed to confirm campaign status", err)
		}
	}

	e.log.Info("dispatch: loop finished for campaign %s", campaignID)
	return nil
}

// recordBounce marks one contact bounced with a bounded error message.
func (e *Engine) recordBounce(ctx context.Context, campaign *models.Campaign, contact *models.Contact, message string) {
	message = truncateError(message, e.cfg.MaxSendErrorLength)
	_, err := models.UpdateContactStatus(e.db.WithContext(ctx), contact.ID,
		models.ContactStatusPending, models.ContactStatusBounced, map[string]interface{}{
			"send_error": message,
		})
	if err != nil {
		e.log.Error("dispatch: failed to record bounce", err)
		return
	}
	e.mirrorStatus(campaign, contact.Email, models.ContactStatusBounced, spreadsheet.StatusTimes{})
}

// failCampaign handles the one fatal outcome: the transport rejected the
// credential. The current contact and every remaining pending contact bounce
// with the same error and the campaign surfaces ERROR to the operator.
func (e *Engine) failCampaign(ctx context.Context, campaign *models.Campaign, contact *models.Contact, sendErr error) {
	message := truncateError(sendErr.Error(), e.cfg.MaxSendErrorLength)

	e.recordBounce(ctx, campaign, contact, message)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(map[string]interface{}{
			"status":     models.CampaignStatusError,
			"last_error": message,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Contact{}).
			Where("campaign_id = ? AND status = ?", campaign.ID, models.ContactStatusPending).
			Updates(map[string]interface{}{
				"status":     models.ContactStatusBounced,
				"send_error": message,
			}).Error
	})
	if err != nil {
		e.log.Error("dispatch: failed to record credential failure", err)
		return
	}
	e.log.Error("dispatch: credential rejected, campaign "+campaign.ID+" moved to ERROR", sendErr)
}
