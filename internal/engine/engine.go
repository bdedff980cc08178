package engine

import (
	"unicode/utf8"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"heron/internal/config"
	"heron/internal/mailer"
	"heron/internal/models"
	"heron/internal/spreadsheet"
	"heron/internal/utils"
	"heron/internal/utils/logger"
)

// Mirror writes status changes back into the uploaded workbook. Mirror
// failures never influence ledger state.
type Mirror interface {
	RecordStatus(path, emailCol, email string, status models.ContactStatus, times spreadsheet.StatusTimes) error
}

// Engine runs the three background jobs of a campaign: the dispatch loop,
// the reply poller and the follow-up escalator. All state flows through the
// ledger; the engine holds nothing between runs except the send pacer.
type Engine struct {
	db        *gorm.DB
	transport mailer.Transport
	mirror    Mirror
	cfg       config.EngineConfig
	limiter   *rate.Limiter
	log       *logger.Logger
}

func New(db *gorm.DB, transport mailer.Transport, mirror Mirror, cfg config.EngineConfig) *Engine {
	return &Engine{
		db:        db,
		transport: transport,
		mirror:    mirror,
		cfg:       cfg,
		// One shared pacer keeps the provider send rate honest across the
		// dispatch loop and the escalator. SendDelay zero disables pacing.
		limiter: rate.NewLimiter(rate.Every(cfg.SendDelay), 1),
		log:     logger.New("ENGINE"),
	}
}

// mirrorStatus is the best-effort write into the workbook; errors are logged
// and swallowed.
func (e *Engine) mirrorStatus(campaign *models.Campaign, email string, status models.ContactStatus, times spreadsheet.StatusTimes) {
	if err := e.mirror.RecordStatus(campaign.SourcePath, campaign.EmailColumn, email, status, times); err != nil {
		e.log.Warn("workbook mirror failed for %s: %v", email, err)
	}
}

// contactVariables builds the template substitution set: the contact name
// under both "name" and the campaign's configured name column, plus every
// extra column from the source row.
func contactVariables(campaign *models.Campaign, contact *models.Contact) (map[string]string, error) {
	variables, err := utils.JSONToMap(contact.Fields)
	if err != nil {
		return nil, err
	}
	variables["name"] = contact.Name
	if campaign.NameColumn != "" {
		variables[campaign.NameColumn] = contact.Name
	}
	return variables, nil
}

func truncateError(msg string, max int) string {
	if max <= 0 || len(msg) <= max {
		return msg
	}
	// Provider banners are not always ASCII; never cut mid-rune.
	cut := max
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
