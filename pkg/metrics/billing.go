package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records the renewal and verification pipeline outcomes.
// All methods are safe on a nil receiver so services can run without a sink.
type PaymentMetrics struct {
	renewalAttempts      *prometheus.CounterVec
	verifications        *prometheus.CounterVec
	verificationFailures *prometheus.CounterVec
	reconcileOutcomes    *prometheus.CounterVec
	webhookEvents        *prometheus.CounterVec
	orphanedLocks        prometheus.Counter
	dependencyUp         *prometheus.GaugeVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	renewalAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_attempts_total",
		Help: "Renewal attempts that reached order creation, by billing cycle.",
	}, []string{"cycle"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Payment verification outcomes.",
	}, []string{"result"})
	verificationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verification_failures_total",
		Help: "Payment verification failures by category.",
	}, []string{"category"})
	reconcileOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Stale renewal reconciliation outcomes.",
	}, []string{"outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound gateway webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})
	orphanedLocks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orphaned_locks_total",
		Help: "Locks found without an expiry and clamped by the sweeper.",
	})
	dependencyUp := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dependency_up",
		Help: "Dependency health as seen by the cron worker (1 up, 0 down).",
	}, []string{"dependency"})
	reg.MustRegister(renewalAttempts, verifications, verificationFailures, reconcileOutcomes, webhookEvents, orphanedLocks, dependencyUp)
	return &PaymentMetrics{
		renewalAttempts:      renewalAttempts,
		verifications:        verifications,
		verificationFailures: verificationFailures,
		reconcileOutcomes:    reconcileOutcomes,
		webhookEvents:        webhookEvents,
		orphanedLocks:        orphanedLocks,
		dependencyUp:         dependencyUp,
	}
}

// IncRenewalAttempt counts an order successfully registered for a cycle.
func (p *PaymentMetrics) IncRenewalAttempt(cycle string) {
	if p == nil || p.renewalAttempts == nil {
		return
	}
	p.renewalAttempts.WithLabelValues(normalizeLabel(cycle)).Inc()
}

// IncVerificationSuccess counts a verification that activated a subscription.
func (p *PaymentMetrics) IncVerificationSuccess() {
	if p == nil || p.verifications == nil {
		return
	}
	p.verifications.WithLabelValues("success").Inc()
}

// IncVerificationDuplicate counts a callback replay resolved idempotently.
func (p *PaymentMetrics) IncVerificationDuplicate() {
	if p == nil || p.verifications == nil {
		return
	}
	p.verifications.WithLabelValues("duplicate").Inc()
}

// IncVerificationFailure counts a failed verification by category.
func (p *PaymentMetrics) IncVerificationFailure(category string) {
	if p == nil || p.verificationFailures == nil {
		return
	}
	p.verificationFailures.WithLabelValues(normalizeLabel(category)).Inc()
}

// IncReconcileOutcome counts one stale attempt resolved by the sweeper.
func (p *PaymentMetrics) IncReconcileOutcome(outcome string) {
	if p == nil || p.reconcileOutcomes == nil {
		return
	}
	p.reconcileOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncWebhookEvent counts an inbound gateway webhook delivery by outcome.
func (p *PaymentMetrics) IncWebhookEvent(event, outcome string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// IncOrphanedLock counts a no-expiry lock clamped by the sweeper.
func (p *PaymentMetrics) IncOrphanedLock() {
	if p == nil || p.orphanedLocks == nil {
		return
	}
	p.orphanedLocks.Inc()
}

// SetDependencyUp records the health of a named dependency.
func (p *PaymentMetrics) SetDependencyUp(dependency string, up bool) {
	if p == nil || p.dependencyUp == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	p.dependencyUp.WithLabelValues(normalizeLabel(dependency)).Set(value)
}
