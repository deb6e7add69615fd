package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSendMail_Accepted(t *testing.T) {
	outbox := t.TempDir()
	relay := NewMockRelay(1, 0, 0, outbox)
	router := SetupRouter(NewHandler(relay))

	w := doJSON(t, router, http.MethodPost, "/api/v1/mail/send", SendMailRequest{
		TrackingID: "abc",
		From:       "sam@example.com",
		To:         "ann@example.com",
		Subject:    "hi",
		HTML:       "<p>hi</p>",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp SendMailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusAccepted, resp.Status)
	assert.NotEmpty(t, resp.MessageID)

	raw, err := os.ReadFile(filepath.Join(outbox, "abc.eml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: hi")

	w = doJSON(t, router, http.MethodGet, "/api/v1/mail/status/"+url.PathEscape(resp.MessageID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendMail_Rejected(t *testing.T) {
	router := SetupRouter(NewHandler(NewMockRelay(0, 0, 0, "")))

	w := doJSON(t, router, http.MethodPost, "/api/v1/mail/send", SendMailRequest{
		From: "sam@example.com",
		To:   "ann@example.com",
		HTML: "<p>hi</p>",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SendMailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusRejected, resp.Status)
	assert.NotEmpty(t, resp.ErrorCode)
	assert.Empty(t, resp.MessageID)
}

func TestSendMail_InvalidRequest(t *testing.T) {
	router := SetupRouter(NewHandler(NewMockRelay(1, 0, 0, "")))

	w := doJSON(t, router, http.MethodPost, "/api/v1/mail/send", map[string]string{"to": "ann@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndConfig(t *testing.T) {
	router := SetupRouter(NewHandler(NewMockRelay(1, 0, 0, "")))

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	w = doJSON(t, router, http.MethodPut, "/api/v1/config", map[string]float64{"acceptanceRate": 0.5})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/health", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, 0.5, health.AcceptanceRate)
}

func TestGetStatus_Unknown(t *testing.T) {
	router := SetupRouter(NewHandler(NewMockRelay(1, 0, 0, "")))

	w := doJSON(t, router, http.MethodGet, "/api/v1/mail/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
