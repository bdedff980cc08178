package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"heron/internal/config"
	"heron/internal/mailer"
	"heron/internal/models"
	"heron/internal/spreadsheet"
	"heron/internal/utils/crypto"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []mailer.Message
	sendFn  func(n int, msg mailer.Message) (string, error)
	replies []string
	repErr  error
}

func (f *fakeTransport) Send(ctx context.Context, credential string, msg mailer.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.sent)
	f.sent = append(f.sent, msg)
	if f.sendFn != nil {
		return f.sendFn(n, msg)
	}
	return "<msg-" + msg.To + ">", nil
}

func (f *fakeTransport) VerifyCredential(ctx context.Context, identity, credential string) (bool, string) {
	return true, "ok"
}

func (f *fakeTransport) FindRepliesTo(ctx context.Context, identity, credential string, messageIDs []string) ([]string, error) {
	return f.replies, f.repErr
}

type mirrorCall struct {
	email  string
	status models.ContactStatus
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
	err   error
}

func (f *fakeMirror) RecordStatus(path, emailCol, email string, status models.ContactStatus, times spreadsheet.StatusTimes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mirrorCall{email: email, status: status})
	return f.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Campaign{}, &models.Contact{}))
	return db
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		SendDelay:            0,
		MaxSendErrorLength:   200,
		ReplyPollInterval:    30 * time.Minute,
		FollowupPollInterval: 24 * time.Hour,
		DefaultFollowupDays:  3,
	}
}

func seedCampaign(t *testing.T, db *gorm.DB, status models.CampaignStatus) *models.Campaign {
	t.Helper()
	require.NoError(t, crypto.InitializeKeys("engine-test-secret"))
	sealed, err := crypto.Encrypt("abcd efgh ijkl mnop")
	require.NoError(t, err)

	campaign := &models.Campaign{
		Name:             "Launch outreach",
		SourcePath:       "/tmp/contacts.xlsx",
		NameColumn:       "Name",
		EmailColumn:      "Email",
		SenderEmail:      "sender@example.com",
		Credential:       sealed,
		Subject:          "Hello {{name}}",
		BodyHTML:         "<p>Hi {{name}}</p>",
		BodyText:         "Hi {{name}}",
		FollowupSubject:  "Following up, {{name}}",
		FollowupBodyHTML: "<p>Checking in, {{name}}</p>",
		FollowupBodyText: "Checking in, {{name}}",
		FollowupDays:     3,
		Status:           status,
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func seedContacts(t *testing.T, db *gorm.DB, campaignID string, emails ...string) []models.Contact {
	t.Helper()
	contacts := make([]models.Contact, 0, len(emails))
	for i, email := range emails {
		contact := models.Contact{
			CampaignID: campaignID,
			Email:      email,
			Name:       strings.Split(email, "@")[0],
			Fields:     datatypes.JSON([]byte(`{"Company":"Acme"}`)),
			Position:   i,
			Status:     models.ContactStatusPending,
		}
		require.NoError(t, db.Create(&contact).Error)
		contacts = append(contacts, contact)
	}
	return contacts
}

func reloadContact(t *testing.T, db *gorm.DB, id string) models.Contact {
	t.Helper()
	var contact models.Contact
	require.NoError(t, db.First(&contact, "id = ?", id).Error)
	return contact
}

func reloadCampaign(t *testing.T, db *gorm.DB, id string) models.Campaign {
	t.Helper()
	var campaign models.Campaign
	require.NoError(t, db.First(&campaign, "id = ?", id).Error)
	return campaign
}

func TestRunDispatchSendsAllPending(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "ada@example.com", "bob@example.com", "cs@example.com")

	transport := &fakeTransport{}
	mirror := &fakeMirror{}
	eng := New(db, transport, mirror, testEngineConfig())

	require.NoError(t, eng.RunDispatch(context.Background(), campaign.ID))

	require.Len(t, transport.sent, 3)
	assert.Equal(t, "ada@example.com", transport.sent[0].To)
	assert.Equal(t, "bob@example.com", transport.sent[1].To)
	assert.Equal(t, "cs@example.com", transport.sent[2].To)
	assert.Equal(t, "Hello ada", transport.sent[0].Subject)

	for _, c := range contacts {
		got := reloadContact(t, db, c.ID)
		assert.Equal(t, models.ContactStatusSent, got.Status)
		assert.NotEmpty(t, got.MessageID)
		assert.NotNil(t, got.SentAt)
		assert.Empty(t, got.SendError)
	}
	assert.Equal(t, models.CampaignStatusRunning, reloadCampaign(t, db, campaign.ID).Status)
	require.Len(t, mirror.calls, 3)
	assert.Equal(t, models.ContactStatusSent, mirror.calls[0].status)
}

func TestRunDispatchAuthFailureFailsCampaign(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "ada@example.com", "bob@example.com", "cs@example.com")

	transport := &fakeTransport{
		sendFn: func(n int, msg mailer.Message) (string, error) {
			if n == 1 {
				return "", mailer.ErrAuthFailed
			}
			return "<msg-" + msg.To + ">", nil
		},
	}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunDispatch(context.Background(), campaign.ID))

	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[0].ID).Status)

	second := reloadContact(t, db, contacts[1].ID)
	assert.Equal(t, models.ContactStatusBounced, second.Status)
	assert.NotEmpty(t, second.SendError)

	// The contact never attempted bounces too; the credential is bad for
	// everyone.
	third := reloadContact(t, db, contacts[2].ID)
	assert.Equal(t, models.ContactStatusBounced, third.Status)
	assert.Equal(t, second.SendError, third.SendError)

	got := reloadCampaign(t, db, campaign.ID)
	assert.Equal(t, models.CampaignStatusError, got.Status)
	assert.NotEmpty(t, got.LastError)

	require.Len(t, transport.sent, 2)
}

func TestRunDispatchRecipientRefusedContinues(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "bad@example.com", "good@example.com")

	transport := &fakeTransport{
		sendFn: func(n int, msg mailer.Message) (string, error) {
			if n == 0 {
				return "", mailer.ErrRecipientRefused
			}
			return "<msg-" + msg.To + ">", nil
		},
	}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunDispatch(context.Background(), campaign.ID))

	first := reloadContact(t, db, contacts[0].ID)
	assert.Equal(t, models.ContactStatusBounced, first.Status)
	assert.NotEmpty(t, first.SendError)

	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[1].ID).Status)
	assert.Equal(t, models.CampaignStatusRunning, reloadCampaign(t, db, campaign.ID).Status)
}

func TestRunDispatchStopsAtPause(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "ada@example.com", "bob@example.com", "cs@example.com")

	transport := &fakeTransport{
		sendFn: func(n int, msg mailer.Message) (string, error) {
			if n == 0 {
				// Operator pauses while the first message is in flight.
				err := db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
					Update("status", models.CampaignStatusPaused).Error
				require.NoError(t, err)
			}
			return "<msg-" + msg.To + ">", nil
		},
	}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunDispatch(context.Background(), campaign.ID))

	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[0].ID).Status)
	assert.Equal(t, models.ContactStatusPending, reloadContact(t, db, contacts[1].ID).Status)
	assert.Equal(t, models.ContactStatusPending, reloadContact(t, db, contacts[2].ID).Status)
	assert.Equal(t, models.CampaignStatusPaused, reloadCampaign(t, db, campaign.ID).Status)
	require.Len(t, transport.sent, 1)

	// Resume re-enters the loop and drains the remainder in order.
	require.NoError(t, db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("status", models.CampaignStatusRunning).Error)
	transport.sendFn = nil
	require.NoError(t, eng.RunDispatch(context.Background(), campaign.ID))

	require.Len(t, transport.sent, 3)
	assert.Equal(t, "bob@example.com", transport.sent[1].To)
	assert.Equal(t, "cs@example.com", transport.sent[2].To)
	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[2].ID).Status)
}

func TestRunDispatchTruncatesSendError(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "ada@example.com")

	transport := &fakeTransport{
		sendFn: func(n int, msg mailer.Message) (string, error) {
			return "", errors.New(strings.Repeat("x", 500))
		},
	}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunDispatch(context.Background(), campaign.ID))

	got := reloadContact(t, db, contacts[0].ID)
	assert.Equal(t, models.ContactStatusBounced, got.Status)
	assert.Len(t, got.SendError, 200)
}

func TestTruncateErrorKeepsRuneBoundary(t *testing.T) {
	assert.Equal(t, "short", truncateError("short", 200))

	long := strings.Repeat("x", 500)
	assert.Len(t, truncateError(long, 200), 200)

	// A multibyte provider banner must not be cut mid-rune.
	banner := strings.Repeat("é", 150)
	got := truncateError(banner, 199)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 99), got)
}

func TestRunReplyCheckPromotesMatches(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "ada@example.com", "bob@example.com")

	now := time.Now().UTC()
	for i := range contacts {
		require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[i].ID).
			Updates(map[string]interface{}{
				"status":     models.ContactStatusSent,
				"message_id": "<msg-" + contacts[i].Email + ">",
				"sent_at":    now,
			}).Error)
	}

	transport := &fakeTransport{replies: []string{"<msg-ada@example.com>"}}
	mirror := &fakeMirror{}
	eng := New(db, transport, mirror, testEngineConfig())

	require.NoError(t, eng.RunReplyCheck(context.Background()))

	ada := reloadContact(t, db, contacts[0].ID)
	assert.Equal(t, models.ContactStatusReplied, ada.Status)
	assert.NotNil(t, ada.RepliedAt)
	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[1].ID).Status)
	require.Len(t, mirror.calls, 1)
	assert.Equal(t, models.ContactStatusReplied, mirror.calls[0].status)

	// A second poll sees the same inbox; the promotion must not repeat.
	require.NoError(t, eng.RunReplyCheck(context.Background()))
	require.Len(t, mirror.calls, 1)
	again := reloadContact(t, db, contacts[0].ID)
	assert.Equal(t, ada.RepliedAt.Unix(), again.RepliedAt.Unix())
}

func TestRunReplyCheckMailboxErrorLeavesLedger(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "ada@example.com")
	require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[0].ID).
		Updates(map[string]interface{}{
			"status":     models.ContactStatusSent,
			"message_id": "<msg-ada@example.com>",
			"sent_at":    time.Now().UTC(),
		}).Error)

	transport := &fakeTransport{repErr: errors.New("imap: connection reset")}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunReplyCheck(context.Background()))
	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[0].ID).Status)
}

func TestRunReplyCheckNoRunningCampaign(t *testing.T) {
	db := newTestDB(t)
	seedCampaign(t, db, models.CampaignStatusDraft)

	eng := New(db, &fakeTransport{}, &fakeMirror{}, testEngineConfig())
	require.NoError(t, eng.RunReplyCheck(context.Background()))
}

func TestRunFollowupsEscalatesDueContacts(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "due@example.com", "fresh@example.com", "replied@example.com")

	old := time.Now().UTC().Add(-4 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-1 * time.Hour)
	require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[0].ID).
		Updates(map[string]interface{}{
			"status": models.ContactStatusSent, "message_id": "<msg-due>", "sent_at": old,
		}).Error)
	require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[1].ID).
		Updates(map[string]interface{}{
			"status": models.ContactStatusSent, "message_id": "<msg-fresh>", "sent_at": recent,
		}).Error)
	require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[2].ID).
		Updates(map[string]interface{}{
			"status": models.ContactStatusReplied, "message_id": "<msg-replied>", "sent_at": old,
		}).Error)

	transport := &fakeTransport{}
	mirror := &fakeMirror{}
	eng := New(db, transport, mirror, testEngineConfig())

	require.NoError(t, eng.RunFollowups(context.Background()))

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "due@example.com", transport.sent[0].To)
	assert.Equal(t, "<msg-due>", transport.sent[0].InReplyTo)
	assert.Equal(t, "Following up, due", transport.sent[0].Subject)

	due := reloadContact(t, db, contacts[0].ID)
	assert.Equal(t, models.ContactStatusFollowupSent, due.Status)
	assert.NotNil(t, due.FollowupSentAt)
	assert.Equal(t, models.ContactStatusSent, reloadContact(t, db, contacts[1].ID).Status)
	assert.Equal(t, models.ContactStatusReplied, reloadContact(t, db, contacts[2].ID).Status)
	require.Len(t, mirror.calls, 1)
	assert.Equal(t, models.ContactStatusFollowupSent, mirror.calls[0].status)
}

func TestRunFollowupsSendFailureLeavesSent(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	contacts := seedContacts(t, db, campaign.ID, "due@example.com")
	require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[0].ID).
		Updates(map[string]interface{}{
			"status":     models.ContactStatusSent,
			"message_id": "<msg-due>",
			"sent_at":    time.Now().UTC().Add(-5 * 24 * time.Hour),
		}).Error)

	transport := &fakeTransport{
		sendFn: func(n int, msg mailer.Message) (string, error) {
			return "", mailer.ErrConnectionFailure
		},
	}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunFollowups(context.Background()))

	got := reloadContact(t, db, contacts[0].ID)
	assert.Equal(t, models.ContactStatusSent, got.Status)
	assert.Nil(t, got.FollowupSentAt)
}

func TestRunFollowupsNoTemplateConfigured(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, models.CampaignStatusRunning)
	require.NoError(t, db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Updates(map[string]interface{}{"followup_body_html": "", "followup_body_text": ""}).Error)
	contacts := seedContacts(t, db, campaign.ID, "due@example.com")
	require.NoError(t, db.Model(&models.Contact{}).Where("id = ?", contacts[0].ID).
		Updates(map[string]interface{}{
			"status":     models.ContactStatusSent,
			"message_id": "<msg-due>",
			"sent_at":    time.Now().UTC().Add(-5 * 24 * time.Hour),
		}).Error)

	transport := &fakeTransport{}
	eng := New(db, transport, &fakeMirror{}, testEngineConfig())

	require.NoError(t, eng.RunFollowups(context.Background()))
	require.Empty(t, transport.sent)
}
