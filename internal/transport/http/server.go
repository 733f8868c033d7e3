// Package http provides the HTTP server for the relay.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/aerokeylabs/t4chat/internal/hub"
	"github.com/aerokeylabs/t4chat/internal/metrics"
	"github.com/aerokeylabs/t4chat/internal/service"
	v1 "github.com/aerokeylabs/t4chat/internal/transport/http/v1"
	"github.com/aerokeylabs/t4chat/internal/transport/ws"
)

// NewServer creates and configures the HTTP server. Message streaming,
// cancellation, models, health, metrics and the websocket watch endpoint
// are all served from it.
func NewServer(svc *service.Service, h *hub.Hub, exporter *metrics.Exporter, log logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, exporter.Handler(), log)
	wsServer := ws.NewServer(ws.DefaultConfig(), h, log)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)

	return e
}
