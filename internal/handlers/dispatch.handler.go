package handlers

import (
	"context"
	"errors"

	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/services"
	xhttp "github.com/nimasrn/mail-tracker/pkg/http"
)

type DispatchService interface {
	SendBatch(ctx context.Context) (*model.BatchResult, error)
}

type DispatchHandler struct {
	svc DispatchService
}

func RegisterDispatchRoutes(e Routes, h *DispatchHandler) {
	e.POST("/send-emails", h.SendEmails)
}

func NewDispatchHandler(svc DispatchService) *DispatchHandler {
	return &DispatchHandler{svc: svc}
}

type sendEmailsResponse struct {
	Message string `json:"message"`
	*model.BatchResult
}

func (h *DispatchHandler) SendEmails(ctx *xhttp.RequestCtx) {
	result, err := h.svc.SendBatch(ctx)
	switch {
	case errors.Is(err, services.ErrBatchInProgress):
		writeErrorDetail(ctx, xhttp.StatusConflict, "A batch is already being sent", err)
		return
	case err != nil:
		writeErrorDetail(ctx, xhttp.StatusInternalServerError, "Failed to send emails", err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, sendEmailsResponse{
		Message:     "Batch processed",
		BatchResult: result,
	})
}
