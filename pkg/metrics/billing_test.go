package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPaymentMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPaymentMetrics(reg)

	metrics.IncRenewalAttempt("monthly")
	metrics.IncVerificationSuccess()
	metrics.IncVerificationDuplicate()
	metrics.IncVerificationFailure("signature_mismatch")
	metrics.IncVerificationFailure("signature_mismatch")
	metrics.IncReconcileOutcome("timeout_unpaid")
	metrics.IncWebhookEvent("payment.captured", "applied")
	metrics.IncOrphanedLock()
	metrics.SetDependencyUp("redis", true)
	metrics.SetDependencyUp("razorpay", false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "renewal_attempts_total", "cycle", "monthly"); err != nil {
		t.Fatalf("fetch renewal attempts: %v", err)
	} else if got != 1 {
		t.Fatalf("expected renewal_attempts_total=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "payment_verifications_total", "result", "success"); err != nil {
		t.Fatalf("fetch verifications: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "payment_verifications_total", "result", "duplicate"); err != nil {
		t.Fatalf("fetch duplicate verifications: %v", err)
	} else if got != 1 {
		t.Fatalf("expected duplicate=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "payment_verification_failures_total", "category", "signature_mismatch"); err != nil {
		t.Fatalf("fetch verification failures: %v", err)
	} else if got != 2 {
		t.Fatalf("expected signature_mismatch=2, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "reconcile_outcomes_total", "outcome", "timeout_unpaid"); err != nil {
		t.Fatalf("fetch reconcile outcomes: %v", err)
	} else if got != 1 {
		t.Fatalf("expected timeout_unpaid=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "webhook_events_total", "outcome", "applied"); err != nil {
		t.Fatalf("fetch webhook events: %v", err)
	} else if got != 1 {
		t.Fatalf("expected applied=1, got %f", got)
	}

	if got, err := fetchGaugeValue(mfs, "dependency_up", "dependency", "redis"); err != nil {
		t.Fatalf("fetch dependency gauge: %v", err)
	} else if got != 1 {
		t.Fatalf("expected redis up=1, got %f", got)
	}

	if got, err := fetchGaugeValue(mfs, "dependency_up", "dependency", "razorpay"); err != nil {
		t.Fatalf("fetch dependency gauge: %v", err)
	} else if got != 0 {
		t.Fatalf("expected razorpay up=0, got %f", got)
	}
}

func TestPaymentMetricsNilSinkIsSafe(t *testing.T) {
	var metrics *PaymentMetrics
	metrics.IncRenewalAttempt("yearly")
	metrics.IncVerificationSuccess()
	metrics.IncVerificationFailure("amount_mismatch")
	metrics.IncReconcileOutcome("recovered_paid")
	metrics.IncWebhookEvent("payment.failed", "recorded")
	metrics.IncOrphanedLock()
	metrics.SetDependencyUp("postgres", true)
}

func fetchGaugeValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("gauge %q missing label %s=%s", name, label, value)
}
