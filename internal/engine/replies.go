package engine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"heron/internal/models"
	"heron/internal/spreadsheet"
	"heron/internal/utils/crypto"
)

// RunReplyCheck scans the sender's inbox once and promotes replied contacts.
// A mailbox error leaves the ledger untouched; the next poll retries the
// whole batch, which is safe because the promotion is a compare-and-set.
func (e *Engine) RunReplyCheck(ctx context.Context) error {
	campaign, err := models.RunningCampaign(e.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return e.log.Error("replies: failed to look up running campaign", err)
	}

	contacts, err := models.SentContactsWithMessageID(e.db.WithContext(ctx), campaign.ID)
	if err != nil {
		return e.log.Error("replies: failed to load sent contacts", err)
	}
	if len(contacts) == 0 {
		return nil
	}

	credential, err := crypto.Decrypt(campaign.Credential)
	if err != nil {
		e.log.Error("replies: failed to unseal credential", err)
		return nil
	}

	messageIDs := make([]string, 0, len(contacts))
	byMessageID := make(map[string]*models.Contact, len(contacts))
	for i := range contacts {
		messageIDs = append(messageIDs, contacts[i].MessageID)
		byMessageID[contacts[i].MessageID] = &contacts[i]
	}

	matched, err := e.transport.FindRepliesTo(ctx, campaign.SenderEmail, credential, messageIDs)
	if err != nil {
		e.log.Error("replies: mailbox scan failed", err)
		return nil
	}
	if len(matched) == 0 {
		return nil
	}
	e.log.Info("replies: campaign %s, %d of %d contacts replied", campaign.ID, len(matched), len(contacts))

	now := time.Now().UTC()
	for _, messageID := range matched {
		contact, ok := byMessageID[messageID]
		if !ok {
			continue
		}
		updated, err := models.UpdateContactStatus(e.db.WithContext(ctx), contact.ID,
			models.ContactStatusSent, models.ContactStatusReplied, map[string]interface{}{
				"replied_at": now,
			})
		if err != nil {
			e.log.Error("replies: failed to record reply", err)
			continue
		}
		if updated {
			e.mirrorStatus(campaign, contact.Email, models.ContactStatusReplied, spreadsheet.StatusTimes{RepliedAt: &now})
			e.log.Success("replies: %s replied", contact.Email)
		}
	}
	return nil
}
