package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAuditMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAuditMetrics(reg)

	m.ObserveEnqueued("info")
	m.ObserveEnqueued("info")
	m.ObserveSyncFallback("queue_full")
	m.ObserveFlush("ok", 3)
	m.ObserveFlush("error", 2)
	m.ObserveDropped(2)
	m.SetQueueDepth(7)

	if got := testutil.ToFloat64(m.enqueuedTotal.WithLabelValues("info")); got != 2 {
		t.Fatalf("enqueued_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.flushedEvents); got != 3 {
		t.Fatalf("flushed_events_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.droppedTotal); got != 2 {
		t.Fatalf("dropped_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Fatalf("queue_depth = %v, want 7", got)
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	var am *AuditMetrics
	am.ObserveEnqueued("info")
	am.ObserveFlush("ok", 1)
	am.SetQueueDepth(1)

	var sm *SchedulingMetrics
	sm.ObserveMutation("create", "ok")

	var pm *PaymentMetrics
	pm.ObserveTransition("pending", "succeeded", "ok")
	pm.ObserveWebhook("checkout.session.completed", "applied")
}

func TestPaymentMetricsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)
	m.ObserveTransition("pending", "succeeded", "ok")
	m.ObserveCheckout("error")
	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("pending", "succeeded", "ok")); got != 1 {
		t.Fatalf("transitions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.checkoutTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("checkout_sessions_total = %v, want 1", got)
	}
}
