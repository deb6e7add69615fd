package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	gateway "github.com/nimasrn/mail-tracker/internal/gateways"
	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDispatchService struct {
	mock.Mock
}

func (m *MockDispatchService) SendBatch(ctx context.Context) (*model.BatchResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchResult), args.Error(1)
}

type staticBackend string

func (b staticBackend) Backend() string { return string(b) }

type staticRelays []gateway.RelayStats

func (r staticRelays) Stats() []gateway.RelayStats { return r }

func TestDispatchHandler_SendEmails(t *testing.T) {
	t.Run("batch summary", func(t *testing.T) {
		result := model.NewBatchResult()
		result.Total = 2
		result.AddSuccess(&model.DispatchOutcome{Name: "Ann", Email: "ann@example.com", TrackingID: "id-1", MessageID: "<1>"})
		result.AddFailure(&model.DispatchOutcome{Name: "Bob", Email: "bob@example.com", TrackingID: "id-2", Error: "boom"})

		svc := new(MockDispatchService)
		svc.On("SendBatch", mock.Anything).Return(result, nil)

		ctx := setupTestContext("POST", "/send-emails", nil, nil)
		NewDispatchHandler(svc).SendEmails(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, float64(2), response["total"])
		assert.Equal(t, float64(1), response["sent"])
		assert.Equal(t, float64(1), response["failed"])
		successes := response["successes"].([]any)
		require.Len(t, successes, 1)
		assert.Equal(t, "id-1", successes[0].(map[string]any)["trackingId"])
		failures := response["failures"].([]any)
		assert.Equal(t, "boom", failures[0].(map[string]any)["error"])
		svc.AssertExpectations(t)
	})

	t.Run("batch in progress", func(t *testing.T) {
		svc := new(MockDispatchService)
		svc.On("SendBatch", mock.Anything).Return(nil, services.ErrBatchInProgress)

		ctx := setupTestContext("POST", "/send-emails", nil, nil)
		NewDispatchHandler(svc).SendEmails(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
	})

	t.Run("engine failure", func(t *testing.T) {
		svc := new(MockDispatchService)
		svc.On("SendBatch", mock.Anything).Return(nil, errors.New("template broken"))

		ctx := setupTestContext("POST", "/send-emails", nil, nil)
		NewDispatchHandler(svc).SendEmails(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())

		var response map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, "Failed to send emails", response["error"])
		assert.Equal(t, "template broken", response["message"])
	})
}

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("without relays", func(t *testing.T) {
		ctx := setupTestContext("GET", "/health", nil, nil)
		NewHealthHandler(staticBackend("memory"), "log", nil).GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, "ok", response["status"])
		assert.Equal(t, "memory", response["store"])
		assert.Equal(t, "log", response["transport"])
		assert.NotContains(t, response, "relays")
	})

	t.Run("with relays", func(t *testing.T) {
		ctx := setupTestContext("GET", "/health", nil, nil)
		relays := staticRelays{{Name: "primary", State: "HEALTHY"}}
		NewHealthHandler(staticBackend("postgres"), "relay", relays).GetHealth(ctx)

		var response map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, "postgres", response["store"])
		assert.Len(t, response["relays"], 1)
	})
}
