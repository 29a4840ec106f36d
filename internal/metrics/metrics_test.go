package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	// Vec collectors only appear after first use; touch them.
	RecordDelivery("success", 10*time.Millisecond)
	RecordRetry("http_5xx")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	want := map[string]bool{
		"eventr_events_outboxed_total":            false,
		"eventr_events_dispatched_total":          false,
		"eventr_dispatch_fanout":                  false,
		"eventr_deliveries_total":                 false,
		"eventr_retries_total":                    false,
		"eventr_exhausted_total":                  false,
		"eventr_subscription_deactivations_total": false,
		"eventr_delivery_latency_seconds":         false,
		"eventr_outbox_backlog":                   false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("failed"))
	RecordDelivery("failed", 5*time.Millisecond)
	after := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("failed"))
	if after != before+1 {
		t.Errorf("DeliveriesTotal{failed} = %v, want %v", after, before+1)
	}
}

func TestRecordRetry(t *testing.T) {
	before := testutil.ToFloat64(RetriesTotal.WithLabelValues("timeout"))
	RecordRetry("timeout")
	after := testutil.ToFloat64(RetriesTotal.WithLabelValues("timeout"))
	if after != before+1 {
		t.Errorf("RetriesTotal{timeout} = %v, want %v", after, before+1)
	}
}
