// Command mailrelay is a development stand-in for the upstream mail relay.
// It accepts messages on the relay API, optionally writes them to an outbox
// directory and reports a configurable acceptance rate.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RelayStatus string

const (
	StatusAccepted RelayStatus = "ACCEPTED"
	StatusRejected RelayStatus = "REJECTED"
)

type SendMailRequest struct {
	TrackingID string `json:"trackingId"`
	From       string `json:"from" binding:"required"`
	To         string `json:"to" binding:"required"`
	Subject    string `json:"subject"`
	HTML       string `json:"html" binding:"required"`
}

type SendMailResponse struct {
	MessageID   string      `json:"messageId"`
	Status      RelayStatus `json:"status"`
	ErrorCode   string      `json:"errorCode,omitempty"`
	ErrorMsg    string      `json:"errorMessage,omitempty"`
	RelayID     string      `json:"relayId"`
	ProcessedAt time.Time   `json:"processedAt"`
}

type HealthResponse struct {
	Status         string    `json:"status"`
	RelayID        string    `json:"relayId"`
	Timestamp      time.Time `json:"timestamp"`
	AcceptanceRate float64   `json:"acceptanceRate"`
	Accepted       int       `json:"accepted"`
}

// MockRelay simulates an outbound mail relay.
type MockRelay struct {
	mu             sync.Mutex
	acceptanceRate float64
	minDelay       time.Duration
	maxDelay       time.Duration
	relayID        string
	outbox         string
	rng            *rand.Rand
	accepted       map[string]*SendMailResponse
}

func NewMockRelay(acceptanceRate float64, minDelay, maxDelay time.Duration, outbox string) *MockRelay {
	return &MockRelay{
		acceptanceRate: acceptanceRate,
		minDelay:       minDelay,
		maxDelay:       maxDelay,
		relayID:        "MOCK_RELAY_" + uuid.New().String()[:8],
		outbox:         outbox,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		accepted:       make(map[string]*SendMailResponse),
	}
}

func (m *MockRelay) deliver(req *SendMailRequest) *SendMailResponse {
	time.Sleep(m.randomDelay())

	response := &SendMailResponse{
		RelayID:     m.relayID,
		ProcessedAt: time.Now(),
	}

	if !m.shouldAccept() {
		response.Status = StatusRejected
		response.ErrorCode = m.randomErrorCode()
		response.ErrorMsg = errorMessage(response.ErrorCode)
		log.Warn().
			Str("tracking_id", req.TrackingID).
			Str("to", req.To).
			Str("error_code", response.ErrorCode).
			Msg("mail rejected")
		return response
	}

	response.Status = StatusAccepted
	response.MessageID = fmt.Sprintf("<%s@%s>", uuid.NewString(), "mailrelay.local")
	if err := m.writeOutbox(response.MessageID, req); err != nil {
		log.Error().Err(err).Str("tracking_id", req.TrackingID).Msg("failed to write outbox file")
	}

	m.mu.Lock()
	m.accepted[response.MessageID] = response
	m.mu.Unlock()

	log.Info().
		Str("tracking_id", req.TrackingID).
		Str("to", req.To).
		Str("message_id", response.MessageID).
		Msg("mail accepted")
	return response
}

func (m *MockRelay) writeOutbox(messageID string, req *SendMailRequest) error {
	if m.outbox == "" {
		return nil
	}
	name := req.TrackingID
	if name == "" {
		name = uuid.NewString()
	}
	content := fmt.Sprintf("Message-ID: %s\r\nFrom: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		messageID, req.From, req.To, req.Subject, req.HTML)
	return os.WriteFile(filepath.Join(m.outbox, name+".eml"), []byte(content), 0o644)
}

func (m *MockRelay) randomDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockRelay) shouldAccept() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.acceptanceRate
}

func (m *MockRelay) randomErrorCode() string {
	codes := []string{
		"MAILBOX_UNAVAILABLE",
		"MAILBOX_FULL",
		"SPAM_REJECTED",
		"DOMAIN_NOT_FOUND",
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return codes[m.rng.Intn(len(codes))]
}

func errorMessage(code string) string {
	messages := map[string]string{
		"MAILBOX_UNAVAILABLE": "The recipient mailbox does not exist",
		"MAILBOX_FULL":        "The recipient mailbox is over quota",
		"SPAM_REJECTED":       "The message was classified as spam",
		"DOMAIN_NOT_FOUND":    "The recipient domain has no mail exchanger",
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

type Handler struct {
	relay *MockRelay
}

func NewHandler(relay *MockRelay) *Handler {
	return &Handler{relay: relay}
}

func (h *Handler) SendMail(c *gin.Context) {
	var req SendMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	response := h.relay.deliver(&req)

	statusCode := http.StatusOK
	if response.Status == StatusRejected {
		statusCode = http.StatusAccepted
	}
	c.JSON(statusCode, response)
}

func (h *Handler) GetStatus(c *gin.Context) {
	id := c.Param("message_id")

	h.relay.mu.Lock()
	response, ok := h.relay.accepted[id]
	h.relay.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown message id"})
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	h.relay.mu.Lock()
	rate := h.relay.acceptanceRate
	accepted := len(h.relay.accepted)
	h.relay.mu.Unlock()

	c.JSON(http.StatusOK, HealthResponse{
		Status:         "healthy",
		RelayID:        h.relay.relayID,
		Timestamp:      time.Now(),
		AcceptanceRate: rate,
		Accepted:       accepted,
	})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptanceRate *float64 `json:"acceptanceRate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.relay.mu.Lock()
	if config.AcceptanceRate != nil && *config.AcceptanceRate >= 0 && *config.AcceptanceRate <= 1.0 {
		h.relay.acceptanceRate = *config.AcceptanceRate
		log.Info().Float64("rate", *config.AcceptanceRate).Msg("updated acceptance rate")
	}
	rate := h.relay.acceptanceRate
	h.relay.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":        "Configuration updated",
		"acceptanceRate": rate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/mail/send", handler.SendMail)
		v1.GET("/mail/status/:message_id", handler.GetStatus)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	acceptanceRate := getEnvFloat("ACCEPTANCE_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 300*time.Millisecond)
	outbox := getEnv("OUTBOX_DIR", "")

	if outbox != "" {
		if err := os.MkdirAll(outbox, 0o755); err != nil {
			log.Fatal().Err(err).Str("outbox", outbox).Msg("failed to create outbox directory")
		}
	}

	log.Info().
		Str("port", port).
		Float64("acceptance_rate", acceptanceRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Str("outbox", outbox).
		Msg("starting mock mail relay")

	relay := NewMockRelay(acceptanceRate, minDelay, maxDelay, outbox)
	router := SetupRouter(NewHandler(relay))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
