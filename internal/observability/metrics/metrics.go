package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuditMetrics exposes counters/gauges for the audit pipeline.
type AuditMetrics struct {
	enqueuedTotal *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	flushTotal    *prometheus.CounterVec
	flushedEvents prometheus.Counter
	droppedTotal  prometheus.Counter
	queueDepth    prometheus.Gauge
}

func NewAuditMetrics(reg prometheus.Registerer) *AuditMetrics {
	m := &AuditMetrics{
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "audit",
			Name:      "enqueued_total",
			Help:      "Audit events accepted by the pipeline",
		}, []string{"severity"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "audit",
			Name:      "sync_fallback_total",
			Help:      "Events persisted synchronously instead of queued",
		}, []string{"reason"}),
		flushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "audit",
			Name:      "flush_total",
			Help:      "Batch flush attempts",
		}, []string{"status"}),
		flushedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "audit",
			Name:      "flushed_events_total",
			Help:      "Events persisted through successful batch flushes",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Events dropped after an irrecoverable shutdown flush failure",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hospital",
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Events currently buffered in the pipeline queue",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.enqueuedTotal, m.fallbackTotal, m.flushTotal, m.flushedEvents, m.droppedTotal, m.queueDepth)
	return m
}

func (m *AuditMetrics) ObserveEnqueued(severity string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(severity).Inc()
}

func (m *AuditMetrics) ObserveSyncFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(reason).Inc()
}

func (m *AuditMetrics) ObserveFlush(status string, events int) {
	if m == nil {
		return
	}
	m.flushTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.flushedEvents.Add(float64(events))
	}
}

func (m *AuditMetrics) ObserveDropped(events int) {
	if m == nil {
		return
	}
	m.droppedTotal.Add(float64(events))
}

func (m *AuditMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SchedulingMetrics exposes counters for turn allocation outcomes.
type SchedulingMetrics struct {
	mutationsTotal *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "scheduling",
			Name:      "mutations_total",
			Help:      "Turn mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.mutationsTotal)
	return m
}

func (m *SchedulingMetrics) ObserveMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// PaymentMetrics exposes counters for payment lifecycle activity.
type PaymentMetrics struct {
	transitionsTotal *prometheus.CounterVec
	checkoutTotal    *prometheus.CounterVec
	webhookTotal     *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Payment status transition attempts",
		}, []string{"from", "to", "status"}),
		checkoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "payments",
			Name:      "checkout_sessions_total",
			Help:      "Checkout session creation attempts against the gateway",
		}, []string{"status"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events by type and handling result",
		}, []string{"event_type", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.checkoutTotal, m.webhookTotal)
	return m
}

func (m *PaymentMetrics) ObserveTransition(from, to, status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to, status).Inc()
}

func (m *PaymentMetrics) ObserveCheckout(status string) {
	if m == nil {
		return
	}
	m.checkoutTotal.WithLabelValues(status).Inc()
}

func (m *PaymentMetrics) ObserveWebhook(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, result).Inc()
}
