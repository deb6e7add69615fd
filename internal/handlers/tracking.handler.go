package handlers

import (
	"context"
	"errors"

	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/services"
	xhttp "github.com/nimasrn/mail-tracker/pkg/http"
)

// pixelGIF is a transparent 1x1 GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingService interface {
	HandleOpen(ctx context.Context, trackingID string)
	HandleClick(ctx context.Context, trackingID, linkID string) (string, error)
	GetSummary(ctx context.Context, trackingID string) (*model.Summary, error)
}

type TrackingHandler struct {
	svc TrackingService
}

func RegisterTrackingRoutes(e Routes, h *TrackingHandler) {
	e.GET("/track/open/{trackingId}", h.TrackOpen)
	e.GET("/track/click/{trackingId}/{linkId}", h.TrackClick)
	e.GET("/tracking/{trackingId}", h.GetTracking)
}

func NewTrackingHandler(svc TrackingService) *TrackingHandler {
	return &TrackingHandler{svc: svc}
}

// TrackOpen always answers with the pixel, whatever the store says.
func (h *TrackingHandler) TrackOpen(ctx *xhttp.RequestCtx) {
	h.svc.HandleOpen(ctx, pathParam(ctx, "trackingId"))

	ctx.Response.Header.Set("Content-Type", "image/gif")
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyRaw(pixelGIF)
}

func (h *TrackingHandler) TrackClick(ctx *xhttp.RequestCtx) {
	target, err := h.svc.HandleClick(ctx, pathParam(ctx, "trackingId"), pathParam(ctx, "linkId"))
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, "Tracking ID not found")
		return
	case errors.Is(err, services.ErrLinkNotFound):
		writeError(ctx, xhttp.StatusNotFound, "Link not found")
		return
	case err != nil:
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to record click")
		return
	}

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Location", target)
	ctx.Response.SetStatusCode(xhttp.StatusFound)
}

func (h *TrackingHandler) GetTracking(ctx *xhttp.RequestCtx) {
	summary, err := h.svc.GetSummary(ctx, pathParam(ctx, "trackingId"))
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, "Tracking ID not found")
		return
	case err != nil:
		writeError(ctx, xhttp.StatusInternalServerError, "Failed to load tracking data")
		return
	}
	writeJSON(ctx, xhttp.StatusOK, summary)
}
