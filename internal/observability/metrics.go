package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	activeConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_conversations",
		Help: "Number of active voice conversations",
	})

	totalConversations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_conversations_total",
		Help: "Total number of conversations handled",
	})

	conversationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_conversation_duration_seconds",
		Help:    "Duration of conversations in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
	})

	// Avatar session metrics
	avatarSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_avatar_sessions_total",
		Help: "Total number of avatar sessions started",
	}, []string{"status"}) // status: "ok", "degraded", "error"

	keepAliveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_keep_alive_failures_total",
		Help: "Total keep-alive failures by transport",
	}, []string{"transport"}) // transport: "channel" or "rest"

	// Audio tap metrics
	audioBytesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_audio_bytes_forwarded_total",
		Help: "Total audio bytes forwarded to the avatar channel",
	})

	audioBuffersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_audio_buffers_dropped_total",
		Help: "Audio buffers dropped because the tap queue was full",
	})

	audioSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_audio_segments_total",
		Help: "Speech segments completed, by outcome",
	}, []string{"outcome"}) // outcome: "finished" or "interrupted"

	// CRM metrics
	crmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_crm_requests_total",
		Help: "Total number of CRM requests",
	}, []string{"operation", "status"})

	crmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_bridge_crm_latency_seconds",
		Help:    "CRM request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"operation"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// Metrics tracks metrics for a single conversation
type Metrics struct {
	conversationID string
	startTime      time.Time
	crmStartTimes  map[string]time.Time
	mu             sync.Mutex
}

// NewConversationMetrics creates a new metrics tracker for a conversation
func NewConversationMetrics(conversationID string) *Metrics {
	return &Metrics{
		conversationID: conversationID,
		startTime:      time.Now(),
		crmStartTimes:  make(map[string]time.Time),
	}
}

// RecordConversationStart records the start of a conversation
func (m *Metrics) RecordConversationStart() {
	activeConversations.Inc()
	totalConversations.Inc()
}

// RecordConversationEnd records the end of a conversation
func (m *Metrics) RecordConversationEnd() {
	activeConversations.Dec()
	conversationDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAvatarSession records the outcome of an avatar session start
func (m *Metrics) RecordAvatarSession(status string) {
	avatarSessions.WithLabelValues(status).Inc()
}

// RecordKeepAliveFailure records a failed keep-alive ping
func (m *Metrics) RecordKeepAliveFailure(transport string) {
	keepAliveFailures.WithLabelValues(transport).Inc()
}

// RecordAudioForwarded records audio bytes sent to the avatar channel
func (m *Metrics) RecordAudioForwarded(bytes int64) {
	audioBytesForwarded.Add(float64(bytes))
}

// RecordAudioDropped records a dropped audio buffer
func (m *Metrics) RecordAudioDropped() {
	audioBuffersDropped.Inc()
}

// RecordSegment records a completed speech segment
func (m *Metrics) RecordSegment(interrupted bool) {
	outcome := "finished"
	if interrupted {
		outcome = "interrupted"
	}
	audioSegments.WithLabelValues(outcome).Inc()
}

// RecordCRMStart records the start of a CRM operation
func (m *Metrics) RecordCRMStart(operation string) {
	m.mu.Lock()
	m.crmStartTimes[operation] = time.Now()
	m.mu.Unlock()
}

// RecordCRMEnd records the end of a CRM operation
func (m *Metrics) RecordCRMEnd(operation string, success bool) {
	m.mu.Lock()
	start, ok := m.crmStartTimes[operation]
	delete(m.crmStartTimes, operation)
	m.mu.Unlock()

	if ok {
		crmLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	crmRequests.WithLabelValues(operation, status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
