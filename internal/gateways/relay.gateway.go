package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableRelays = errors.New("no available relays")
)

const relaySendPath = "/api/v1/mail/send"

type RelayStatus string

const (
	RelayAccepted RelayStatus = "ACCEPTED"
	RelayRejected RelayStatus = "REJECTED"
)

type RelaySendRequest struct {
	TrackingID string `json:"trackingId"`
	From       string `json:"from"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	HTML       string `json:"html"`
}

type RelaySendResponse struct {
	MessageID   string      `json:"messageId"`
	Status      RelayStatus `json:"status"`
	ErrorCode   string      `json:"errorCode,omitempty"`
	ErrorMsg    string      `json:"errorMessage,omitempty"`
	RelayID     string      `json:"relayId"`
	ProcessedAt time.Time   `json:"processedAt"`
}

type RelayMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *RelayMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *RelayMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *RelayMetrics) AvgLatencyMs() int64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *RelayMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *RelayMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencyHistory) == 0 {
		return 0
	}

	sorted := make([]int64, len(m.latencyHistory))
	copy(sorted, m.latencyHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type RelayState int

const (
	StateHealthy RelayState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

// Relay is one HTTP mail relay endpoint.
type Relay struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *RelayMetrics
	state            atomic.Int32
	weight           atomic.Int32
	lastHealthCheck  atomic.Int64
	circuitOpenUntil atomic.Int64
}

func NewRelay(name, url string, weight int, client *fasthttp.Client) *Relay {
	r := &Relay{
		name:    name,
		url:     url,
		client:  client,
		metrics: NewRelayMetrics(),
	}
	r.state.Store(int32(StateHealthy))
	r.weight.Store(int32(weight))
	return r
}

func (r *Relay) GetState() RelayState {
	return RelayState(r.state.Load())
}

func (r *Relay) SetState(state RelayState) {
	r.state.Store(int32(state))
}

func (r *Relay) IsAvailable() bool {
	state := r.GetState()
	if state == StateCircuitOpen {
		if time.Now().Unix() > r.circuitOpenUntil.Load() {
			r.SetState(StateDegraded)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

// CalculateScore ranks a relay by success rate, latency and base weight;
// higher is better and unavailable relays score zero.
func (r *Relay) CalculateScore() float64 {
	if !r.IsAvailable() {
		return 0.0
	}

	m := r.metrics
	successScore := m.SuccessRate() * 100

	latencyScore := 100.0
	if avg := m.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - (float64(avg) / 5000.0))
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	recentPenalty := 1.0 - (float64(m.ConsecutiveFails.Load()) * 0.1)
	if recentPenalty < 0.1 {
		recentPenalty = 0.1
	}

	statePenalty := 1.0
	switch r.GetState() {
	case StateDegraded:
		statePenalty = 0.5
	case StateUnhealthy, StateCircuitOpen:
		statePenalty = 0.0
	}

	return (successScore*0.4 + latencyScore*0.4 + float64(r.weight.Load())*0.2) * recentPenalty * statePenalty
}

type RelayConfig struct {
	Relays                  []RelayEndpoint
	Timeout                 time.Duration
	MaxConns                int
	ReadBufferSize          int
	WriteBufferSize         int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type RelayEndpoint struct {
	Name   string
	URL    string
	Weight int
}

// RelayTransport posts rendered mail to the best scoring HTTP relay. Each
// message is attempted once; a failed relay loses score and may trip its
// circuit breaker for later messages.
type RelayTransport struct {
	config *RelayConfig
	relays []*Relay
	mu     sync.RWMutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRelayTransport configures relays in priority order with descending weights.
func NewRelayTransport(urls []string, timeout time.Duration) (*RelayTransport, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg := &RelayConfig{
		Timeout:                 timeout,
		MaxConns:                64,
		ReadBufferSize:          8192,
		WriteBufferSize:         8192,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	}
	names := []string{"primary", "secondary", "backup"}
	for i, u := range urls {
		name := fmt.Sprintf("relay-%d", i+1)
		if i < len(names) {
			name = names[i]
		}
		cfg.Relays = append(cfg.Relays, RelayEndpoint{Name: name, URL: u, Weight: 100 - i*20})
	}
	return NewRelayTransportWithConfig(cfg)
}

func NewRelayTransportWithConfig(config *RelayConfig) (*RelayTransport, error) {
	if config == nil {
		return nil, errors.New("relay config is required")
	}
	if len(config.Relays) == 0 {
		return nil, errors.New("at least one relay url is required")
	}

	t := &RelayTransport{
		config: config,
		relays: make([]*Relay, 0, len(config.Relays)),
		stopCh: make(chan struct{}),
	}

	for _, rc := range config.Relays {
		client := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		}
		t.relays = append(t.relays, NewRelay(rc.Name, rc.URL, rc.Weight, client))
		logger.Info("mail relay configured", "name", rc.Name, "url", rc.URL, "weight", rc.Weight)
	}

	if config.HealthCheckInterval > 0 {
		t.wg.Add(2)
		go t.healthChecker()
		go t.metricsCollector()
	}

	return t, nil
}

func (t *RelayTransport) Name() string {
	return DriverRelay
}

func (t *RelayTransport) SelectBestRelay() (*Relay, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *Relay
	var bestScore float64
	for _, r := range t.relays {
		if !r.IsAvailable() {
			continue
		}
		if score := r.CalculateScore(); score > bestScore {
			bestScore = score
			best = r
		}
	}
	if best == nil {
		return nil, ErrNoAvailableRelays
	}
	logger.Debug("selected mail relay", "relay", best.name, "score", bestScore)
	return best, nil
}

func (t *RelayTransport) Send(ctx context.Context, msg *Email) (string, error) {
	body, err := json.Marshal(&RelaySendRequest{
		TrackingID: msg.TrackingID,
		From:       msg.FromHeader(),
		To:         msg.ToHeader(),
		Subject:    msg.Subject,
		HTML:       msg.HTML,
	})
	if err != nil {
		return "", transportError(DriverRelay, err)
	}

	relay, err := t.SelectBestRelay()
	if err != nil {
		return "", transportError(DriverRelay, err)
	}

	start := time.Now()
	raw, err := t.doRequest(ctx, relay, fasthttp.MethodPost, relaySendPath, body)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		relay.metrics.RecordFailure()
		t.checkCircuitBreaker(relay)
		return "", transportError(DriverRelay, fmt.Errorf("%s: %w", relay.name, err))
	}

	var resp RelaySendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		relay.metrics.RecordFailure()
		return "", transportError(DriverRelay, fmt.Errorf("decode response: %w", err))
	}
	if resp.Status != RelayAccepted {
		relay.metrics.RecordSuccess(latency)
		return "", transportError(DriverRelay, fmt.Errorf("rejected by %s: %s %s", relay.name, resp.ErrorCode, resp.ErrorMsg))
	}

	relay.metrics.RecordSuccess(latency)
	logger.Debug("relay message accepted", "to", msg.To, "message_id", resp.MessageID, "relay", relay.name, "latency_ms", latency)
	return resp.MessageID, nil
}

func (t *RelayTransport) doRequest(ctx context.Context, relay *Relay, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(relay.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.config.Timeout)
	}
	if err := relay.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK && status != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", status, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func (t *RelayTransport) checkCircuitBreaker(relay *Relay) {
	fails := relay.metrics.ConsecutiveFails.Load()
	if fails >= int32(t.config.CircuitBreakerThreshold) {
		relay.SetState(StateCircuitOpen)
		relay.circuitOpenUntil.Store(time.Now().Add(t.config.CircuitBreakerTimeout).Unix())
		logger.Warn("relay circuit breaker opened", "relay", relay.name, "consecutive_fails", fails, "timeout", t.config.CircuitBreakerTimeout)
	}
}

func (t *RelayTransport) healthChecker() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.performHealthChecks()
		case <-t.stopCh:
			return
		}
	}
}

func (t *RelayTransport) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.Timeout)
	defer cancel()

	t.mu.RLock()
	relays := make([]*Relay, len(t.relays))
	copy(relays, t.relays)
	t.mu.RUnlock()

	for _, r := range relays {
		healthy := t.checkRelayHealth(ctx, r)
		r.lastHealthCheck.Store(time.Now().Unix())

		oldState := r.GetState()
		newState := oldState
		if healthy {
			if oldState == StateUnhealthy || oldState == StateDegraded {
				newState = StateHealthy
			}
		} else if oldState != StateCircuitOpen {
			newState = StateUnhealthy
		}

		if newState != oldState {
			r.SetState(newState)
			logger.Info("relay state changed", "relay", r.name, "old_state", stateString(oldState), "new_state", stateString(newState))
		}
	}
}

func (t *RelayTransport) checkRelayHealth(ctx context.Context, relay *Relay) bool {
	raw, err := t.doRequest(ctx, relay, fasthttp.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

func (t *RelayTransport) metricsCollector() {
	defer t.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.evaluateRelays()
		case <-t.stopCh:
			return
		}
	}
}

func (t *RelayTransport) evaluateRelays() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.relays {
		if r.GetState() == StateCircuitOpen {
			continue
		}
		successRate := r.metrics.SuccessRate()
		avgLatency := r.metrics.AvgLatencyMs()

		if successRate < 0.8 || avgLatency > 5000 {
			if r.GetState() != StateDegraded {
				r.SetState(StateDegraded)
				logger.Warn("relay degraded", "relay", r.name, "success_rate", successRate, "avg_latency_ms", avgLatency)
			}
		} else if successRate > 0.95 && avgLatency < 2000 {
			if r.GetState() != StateHealthy {
				r.SetState(StateHealthy)
				logger.Info("relay recovered", "relay", r.name)
			}
		}
	}
}

type RelayStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"totalRequests"`
	FailedReqs       int64   `json:"failedRequests"`
	SuccessRate      float64 `json:"successRate"`
	AvgLatencyMs     int64   `json:"avgLatencyMs"`
	P95LatencyMs     int64   `json:"p95LatencyMs"`
	ConsecutiveFails int32   `json:"consecutiveFails"`
}

// Stats reports every relay ordered by score.
func (t *RelayTransport) Stats() []RelayStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make([]RelayStats, 0, len(t.relays))
	for _, r := range t.relays {
		stats = append(stats, RelayStats{
			Name:             r.name,
			URL:              r.url,
			State:            stateString(r.GetState()),
			Score:            r.CalculateScore(),
			TotalRequests:    r.metrics.TotalRequests.Load(),
			FailedReqs:       r.metrics.FailedReqs.Load(),
			SuccessRate:      r.metrics.SuccessRate(),
			AvgLatencyMs:     r.metrics.AvgLatencyMs(),
			P95LatencyMs:     r.metrics.P95LatencyMs(),
			ConsecutiveFails: r.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (t *RelayTransport) Close() error {
	close(t.stopCh)
	t.wg.Wait()
	logger.Info("mail relay transport closed")
	return nil
}

func stateString(state RelayState) string {
	switch state {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}
