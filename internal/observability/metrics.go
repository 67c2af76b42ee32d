package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Question outcomes
const (
	OutcomeFull      = "full"      // Text and audio delivered
	OutcomeTextOnly  = "text_only" // Speech or decode failed, text delivered
	OutcomeFallback  = "fallback"  // Text stage failed, fallback message delivered
	OutcomeCancelled = "cancelled" // Conversation abandoned, nothing delivered
	OutcomeRejected  = "rejected"  // Empty question or busy session
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialogue_gateway_active_sessions",
		Help: "Number of open conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_gateway_sessions_total",
		Help: "Total number of conversation sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialogue_gateway_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Question metrics
	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_gateway_questions_total",
		Help: "Total number of questions by outcome",
	}, []string{"outcome"})

	questionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialogue_gateway_question_latency_seconds",
		Help:    "Time from accepted question to delivery in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 40.0},
	})

	// Stage metrics
	stageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_gateway_stage_requests_total",
		Help: "Total number of pipeline stage executions",
	}, []string{"stage", "status"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dialogue_gateway_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "stage"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dialogue_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	decodedAudioSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_gateway_decoded_audio_seconds_total",
		Help: "Total seconds of decoded speech delivered",
	})

	audioBytesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_gateway_audio_bytes_total",
		Help: "Total PCM bytes decoded from speech payloads",
	})
)

// RecordSessionStart records a newly opened session
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records a closed session and how long it was open
func RecordSessionEnd(openedAt time.Time) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(openedAt).Seconds())
}

// RecordRejected records a question rejected before any work started
func RecordRejected() {
	questionsTotal.WithLabelValues(OutcomeRejected).Inc()
}

// Metrics tracks metrics for a single question
type Metrics struct {
	sessionID   string
	startTime   time.Time
	stageStarts map[string]time.Time
	mu          sync.Mutex
}

// NewQuestionMetrics creates a new metrics tracker for a question
func NewQuestionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID:   sessionID,
		startTime:   time.Now(),
		stageStarts: make(map[string]time.Time),
	}
}

// RecordStageStart records the start of a pipeline stage
func (m *Metrics) RecordStageStart(stage string) {
	m.mu.Lock()
	m.stageStarts[stage] = time.Now()
	m.mu.Unlock()
}

// RecordStageEnd records the end of a pipeline stage
func (m *Metrics) RecordStageEnd(stage string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if started, ok := m.stageStarts[stage]; ok {
		stageLatency.WithLabelValues(stage).Observe(time.Since(started).Seconds())
		delete(m.stageStarts, stage)
	}

	status := "success"
	if !success {
		status = "error"
	}
	stageRequests.WithLabelValues(stage, status).Inc()
}

// RecordOutcome records how the question ended
func (m *Metrics) RecordOutcome(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCancelled {
		questionLatency.Observe(time.Since(m.startTime).Seconds())
	}
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, stage string) {
	errorsTotal.WithLabelValues(errorType, stage).Inc()
}

// RecordAudio records decoded audio delivered to the player
func (m *Metrics) RecordAudio(duration time.Duration, pcmBytes int) {
	decodedAudioSeconds.Add(duration.Seconds())
	audioBytesDecoded.Add(float64(pcmBytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
