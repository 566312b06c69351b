package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/dogpark/backend/internal/middleware"
	"github.com/anonto42/dogpark/backend/internal/models"
	"github.com/anonto42/dogpark/backend/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// PushTokenHandler handles device token registration
type PushTokenHandler struct {
	tokenRepository repositories.PushTokenRepository
	log             *zap.Logger
}

// NewPushTokenHandler creates a new PushTokenHandler
func NewPushTokenHandler(tokenRepo repositories.PushTokenRepository, log *zap.Logger) *PushTokenHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PushTokenHandler{tokenRepository: tokenRepo, log: log.Named("push_tokens")}
}

// RegisterPushTokenRoutes registers push token routes
func (h *PushTokenHandler) RegisterPushTokenRoutes(g *echo.Group) {
	g.POST("/push-tokens", h.RegisterToken)
	g.DELETE("/push-tokens/:token", h.DeactivateToken)
}

// RegisterToken stores or re-activates a device token for the current user
func (h *PushTokenHandler) RegisterToken(c echo.Context) error {
	currentUserID := middleware.UserID(c)
	if currentUserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req models.RegisterPushTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	kind := models.TokenKindReal
	if req.IsSimulator {
		kind = models.TokenKindSimulator
	}
	token := &models.PushToken{
		Token:    req.Token,
		UserID:   currentUserID,
		Platform: req.Platform,
		Kind:     kind,
	}
	if err := h.tokenRepository.Upsert(c.Request().Context(), token); err != nil {
		h.log.Error("register push token", zap.String("user_id", currentUserID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to register push token")
	}

	h.log.Info("push token registered",
		zap.String("user_id", currentUserID), zap.String("platform", token.Platform), zap.String("kind", string(kind)))
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": token})
}

// DeactivateToken soft-deletes one of the current user's tokens, e.g. on logout
func (h *PushTokenHandler) DeactivateToken(c echo.Context) error {
	currentUserID := middleware.UserID(c)
	if currentUserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	token := c.Param("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid token")
	}
	err := h.tokenRepository.DeactivateForUser(c.Request().Context(), currentUserID, token)
	if errors.Is(err, repositories.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Push token not found")
	}
	if err != nil {
		h.log.Error("deactivate push token", zap.String("user_id", currentUserID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to deactivate push token")
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"success": true}})
}
