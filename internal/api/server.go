package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"heron/internal/config"
	"heron/internal/handlers"
	"heron/internal/utils"
	"heron/internal/utils/logger"
)

// Server is the HTTP control surface. Every route either mutates the ledger
// through the campaign service or reads it back; no request blocks on the
// engine.
type Server struct {
	echo   *echo.Echo
	config *config.Config
	db     *gorm.DB
	redis  *utils.RedisClient
	log    *logger.Logger

	campaigns   *handlers.CampaignHandler
	uploads     *handlers.UploadHandler
	credentials *handlers.CredentialHandler
}

// CustomValidator plugs go-playground validation into echo's c.Validate.
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func NewServer(
	cfg *config.Config,
	db *gorm.DB,
	redis *utils.RedisClient,
	campaigns *handlers.CampaignHandler,
	uploads *handlers.UploadHandler,
	credentials *handlers.CredentialHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.CORS())

	s := &Server{
		echo:        e,
		config:      cfg,
		db:          db,
		redis:       redis,
		log:         logger.New("API"),
		campaigns:   campaigns,
		uploads:     uploads,
		credentials: credentials,
	}
	s.registerRoutes()
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.log.Info("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthCheck(c echo.Context) error {
	ctx := c.Request().Context()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "database unreachable",
		})
	}

	if err := s.redis.HealthCheck(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "redis unreachable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
