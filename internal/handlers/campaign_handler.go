package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"heron/internal/services"
	"heron/internal/utils/logger"
)

type CampaignHandler struct {
	campaigns *services.CampaignService
	log       *logger.Logger
}

func NewCampaignHandler(campaigns *services.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		log:       logger.New("campaign_handler"),
	}
}

// Configure archives the current campaign and stores a new draft.
func (h *CampaignHandler) Configure(c echo.Context) error {
	var req services.ConfigureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	id, err := h.campaigns.Configure(c.Request().Context(), req)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"campaignId": id,
	})
}

// Launch enrolls the draft's contacts and starts the dispatch loop.
func (h *CampaignHandler) Launch(c echo.Context) error {
	result, err := h.campaigns.Launch(c.Request().Context())
	if err != nil {
		if errors.Is(err, services.ErrEmptyLaunch) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":   err.Error(),
				"skipped": result.Skipped,
			})
		}
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *CampaignHandler) Pause(c echo.Context) error {
	if err := h.campaigns.Pause(c.Request().Context()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

func (h *CampaignHandler) Resume(c echo.Context) error {
	if err := h.campaigns.Resume(c.Request().Context()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "running"})
}

func (h *CampaignHandler) Reset(c echo.Context) error {
	if err := h.campaigns.Reset(c.Request().Context()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "archived"})
}

// Status is the poll the client drives its whole view from.
func (h *CampaignHandler) Status(c echo.Context) error {
	report, err := h.campaigns.Status(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// errorResponse maps service errors onto HTTP statuses. Anything the client
// can fix is a 400; a missing campaign is a 404; the rest is a 500.
func (h *CampaignHandler) errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrNoDraft),
		errors.Is(err, services.ErrEmptyLaunch):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrNoActiveCampaign):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.log.Error("campaign operation failed", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}
