// Package v1 provides the HTTP handlers of the relay API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	metrics http.Handler
	log     logrus.FieldLogger
}

// NewHandler creates a new handler. metrics may be nil.
func NewHandler(service *service.Service, metrics http.Handler, log logrus.FieldLogger) *Handler {
	return &Handler{
		service: service,
		metrics: metrics,
		log:     log,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/message", h.CreateMessage)
	e.POST("/message/cancel", h.CancelMessage)
	e.GET("/models", h.ListModels)

	e.GET("/health", h.Health)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPolicyDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}
