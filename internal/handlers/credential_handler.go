package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"heron/internal/mailer"
	"heron/internal/utils/logger"
)

type CredentialHandler struct {
	transport mailer.Transport
	log       *logger.Logger
}

func NewCredentialHandler(transport mailer.Transport) *CredentialHandler {
	return &CredentialHandler{
		transport: transport,
		log:       logger.New("credential_handler"),
	}
}

type credentialTestRequest struct {
	SenderEmail string `json:"senderEmail" validate:"required,email"`
	Credential  string `json:"credential" validate:"required"`
}

// TestCredential performs a login-only SMTP check without sending anything.
func (h *CredentialHandler) TestCredential(c echo.Context) error {
	var req credentialTestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	ok, message := h.transport.VerifyCredential(c.Request().Context(), req.SenderEmail, req.Credential)
	if ok {
		h.log.Success("credential verified for %s", req.SenderEmail)
	} else {
		h.log.Warn("credential rejected for %s: %s", req.SenderEmail, message)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":      ok,
		"message": message,
	})
}
