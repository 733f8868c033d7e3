package v1

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aerokeylabs/t4chat/internal/service"
)

// CreateMessage streams a response into a pending message as server-sent
// events: one "message" event per wire line, then a single "end" event.
// POST /message
func (h *Handler) CreateMessage(c echo.Context) error {
	var req service.StartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	w := c.Response()
	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	out, err := h.service.StartMessage(c.Request().Context(), &req)
	if err != nil {
		h.log.WithError(err).WithField("thread_id", req.ThreadID).Warn("message rejected")
		return errorJSON(c, err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range out {
		line, err := ev.Encode()
		if err != nil {
			h.log.WithError(err).Error("failed to encode event")
			continue
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", line); err != nil {
			h.log.WithError(err).Warn("client went away")
			return nil
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "event: end\ndata: \n\n")
	flusher.Flush()
	return nil
}

type cancelRequest struct {
	ThreadID string `json:"threadId"`
}

// CancelMessage stops the relay streaming into a thread.
// POST /message/cancel
func (h *Handler) CancelMessage(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ok, err := h.service.CancelMessage(req.ThreadID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": ok})
}

// ListModels returns the provider model catalog.
// GET /models
func (h *Handler) ListModels(c echo.Context) error {
	models, err := h.service.ListModels(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   models,
	})
}
