// Package metrics provides Prometheus metrics for the patpat haptics service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultNamespace = "patpat"
	defaultSubsystem = "solver"
)

// tickBuckets cover 0.1ms to ~100ms which spans every sane tick budget (10..200 tps).
var tickBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100} //nolint:gochecknoglobals // bucket layout

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Scheduler
	ticks         prometheus.Counter
	ticksSkipped  prometheus.Counter
	tickOverruns  prometheus.Counter
	tickDuration  prometheus.Histogram
	observedTPS   prometheus.Gauge
	configuredTPS prometheus.Gauge

	// Solvers and groups
	solveOutcomes *prometheus.CounterVec
	solveErrors   *prometheus.CounterVec
	activeGroups  prometheus.Gauge
	motorPWM      *prometheus.GaugeVec
	configReloads *prometheus.CounterVec

	// Ingestion
	samplesRecorded   prometheus.Counter
	samplesUnrouted   prometheus.Counter
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueueError *prometheus.CounterVec

	// Devices
	deviceFrames      *prometheus.CounterVec
	deviceErrors      *prometheus.CounterVec
	deviceTransmitOff prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		subsystem:        defaultSubsystem,
		histogramBuckets: tickBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.ticks = m.counter("ticks_total", "Ticks that ran the solvers")
	m.ticksSkipped = m.counter("ticks_skipped_total", "Ticks skipped because the previous tick overran its budget")
	m.tickOverruns = m.counter("tick_overruns_total", "Ticks whose processing time reached the tick budget")
	m.tickDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tick_duration_milliseconds",
		Help:        "Time spent solving all contact groups in one tick",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
	m.observedTPS = m.gauge("observed_tps", "Ticks counted during the last one second window")
	m.configuredTPS = m.gauge("configured_tps", "Configured tick rate setpoint")

	m.solveOutcomes = m.counterVec("solve_outcomes_total", "Solver results by contact group and outcome", "group", "outcome")
	m.solveErrors = m.counterVec("solve_errors_total", "Solver failures caught by the scheduler", "group")
	m.activeGroups = m.gauge("active_groups", "Contact groups currently solved every tick")
	m.motorPWM = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "motor_pwm",
		Help:        "Last PWM value written to a motor",
		ConstLabels: m.customLabels,
	}, []string{"group", "motor"})
	m.configReloads = m.counterVec("config_reloads_total", "Contact group rebuilds triggered by configuration", "result")

	m.samplesRecorded = m.counter("samples_recorded_total", "Contact samples written to at least one contact point")
	m.samplesUnrouted = m.counter("samples_unrouted_total", "Contact samples whose receiver id matched no contact point")
	m.queueSize = m.gauge("ingest_queue_size", "Contact samples waiting in the ingestion queue")
	m.queueCapacity = m.gauge("ingest_queue_capacity", "Capacity of the ingestion queue")
	m.queueEnqueueError = m.counterVec("ingest_enqueue_errors_total", "Rejected ingestion enqueues", "reason")

	m.deviceFrames = m.counterVec("device_frames_total", "Pin frames handed to a device transport", "device")
	m.deviceErrors = m.counterVec("device_errors_total", "Device transport write failures", "device")
	m.deviceTransmitOff = m.gauge("device_transmit_disabled", "1 when device transmission is disabled by the control topic")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// Scheduler Metrics Functions.

// RecordTick records one solving tick and how long it took.
func RecordTick(d time.Duration) {
	globalManager.ticks.Inc()
	globalManager.tickDuration.Observe(float64(d) / float64(time.Millisecond))
}

// RecordTickSkipped increments the skipped tick counter.
func RecordTickSkipped() {
	globalManager.ticksSkipped.Inc()
}

// RecordTickOverrun increments the overrun counter.
func RecordTickOverrun() {
	globalManager.tickOverruns.Inc()
}

// UpdateObservedTPS sets the ticks counted in the last window.
func UpdateObservedTPS(tps int) {
	globalManager.observedTPS.Set(float64(tps))
}

// UpdateConfiguredTPS sets the tick rate setpoint.
func UpdateConfiguredTPS(tps int) {
	globalManager.configuredTPS.Set(float64(tps))
}

// Solver Metrics Functions.

// RecordSolveOutcome counts a solver result for a group.
func RecordSolveOutcome(group, outcome string) {
	globalManager.solveOutcomes.WithLabelValues(group, outcome).Inc()
}

// RecordSolveError counts a solver failure caught by the scheduler.
func RecordSolveError(group string) {
	globalManager.solveErrors.WithLabelValues(group).Inc()
}

// UpdateActiveGroups sets the number of active contact groups.
func UpdateActiveGroups(n int) {
	globalManager.activeGroups.Set(float64(n))
}

// UpdateMotorPWM sets the last PWM value of a motor.
func UpdateMotorPWM(group, motor string, pwm int) {
	globalManager.motorPWM.WithLabelValues(group, motor).Set(float64(pwm))
}

// RemoveMotorPWM drops the series of a motor that no longer exists.
func RemoveMotorPWM(group, motor string) {
	globalManager.motorPWM.DeleteLabelValues(group, motor)
}

// RecordConfigReload counts a group rebuild; result is "ok" or "error".
func RecordConfigReload(result string) {
	globalManager.configReloads.WithLabelValues(result).Inc()
}

// Ingestion Metrics Functions.

// RecordSampleRecorded counts a routed contact sample.
func RecordSampleRecorded() {
	globalManager.samplesRecorded.Inc()
}

// RecordSampleUnrouted counts a contact sample with an unknown receiver id.
func RecordSampleUnrouted() {
	globalManager.samplesUnrouted.Inc()
}

// UpdateQueueSize sets the ingestion queue length.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the ingestion queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueError.WithLabelValues(reason).Inc()
}

// Device Metrics Functions.

// RecordDeviceFrame counts a frame written by a device transport.
func RecordDeviceFrame(device string) {
	globalManager.deviceFrames.WithLabelValues(device).Inc()
}

// RecordDeviceError counts a failed device write.
func RecordDeviceError(device string) {
	globalManager.deviceErrors.WithLabelValues(device).Inc()
}

// UpdateDeviceTransmitEnabled mirrors the transmit enable toggle.
func UpdateDeviceTransmitEnabled(enabled bool) {
	v := 1.0
	if enabled {
		v = 0
	}
	globalManager.deviceTransmitOff.Set(v)
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
