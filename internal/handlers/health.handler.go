package handlers

import (
	gateway "github.com/nimasrn/mail-tracker/internal/gateways"
	xhttp "github.com/nimasrn/mail-tracker/pkg/http"
)

type HealthService interface {
	Backend() string
}

// RelayStatsProvider is implemented by transports that track upstream health.
type RelayStatsProvider interface {
	Stats() []gateway.RelayStats
}

type HealthHandler struct {
	svc       HealthService
	transport string
	relays    RelayStatsProvider
}

func RegisterHealthRoutes(e Routes, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

// NewHealthHandler reports the tracking backend and the transport. relays
// may be nil.
func NewHealthHandler(svc HealthService, transport string, relays RelayStatsProvider) *HealthHandler {
	return &HealthHandler{
		svc:       svc,
		transport: transport,
		relays:    relays,
	}
}

type healthResponse struct {
	Status    string               `json:"status"`
	Store     string               `json:"store"`
	Transport string               `json:"transport"`
	Relays    []gateway.RelayStats `json:"relays,omitempty"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	resp := healthResponse{
		Status:    "ok",
		Store:     h.svc.Backend(),
		Transport: h.transport,
	}
	if h.relays != nil {
		resp.Relays = h.relays.Stats()
	}
	writeJSON(ctx, xhttp.StatusOK, resp)
}
