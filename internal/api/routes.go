package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	// API v1 group
	api := s.echo.Group("/api/v1")

	api.POST("/uploads", s.uploads.UploadWorkbook)
	api.POST("/credentials/test", s.credentials.TestCredential)

	campaigns := api.Group("/campaigns")
	campaigns.POST("", s.campaigns.Configure)
	campaigns.POST("/launch", s.campaigns.Launch)
	campaigns.POST("/pause", s.campaigns.Pause)
	campaigns.POST("/resume", s.campaigns.Resume)
	campaigns.POST("/reset", s.campaigns.Reset)
	campaigns.GET("/status", s.campaigns.Status)

	s.echo.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "heron campaign engine")
	})
}
