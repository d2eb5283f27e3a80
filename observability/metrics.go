package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "refnet"

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogramVec(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	referralMetricsOnce sync.Once
	referralRegistry    *referralMetrics
)

// ModuleMetrics returns the process-wide registry recording JSON-RPC handler
// activity. Construction is deferred to first use so importing the package has
// no side effects.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		m := &moduleMetrics{
			requests:  counterVec("module", "requests_total", "JSON-RPC requests by module, method and outcome.", "module", "method", "outcome"),
			errors:    counterVec("module", "errors_total", "JSON-RPC handler errors by module, method and status code.", "module", "method", "status"),
			latency:   histogramVec("module", "request_duration_seconds", "JSON-RPC handler latency by module and method.", "module", "method"),
			throttles: counterVec("module", "throttles_total", "Requests rejected by a throttle policy.", "module", "reason"),
		}
		prometheus.MustRegister(m.requests, m.errors, m.latency, m.throttles)
		moduleRegistry = m
	})
	return moduleRegistry
}

// Observe records one handled request. Status is the HTTP status that was
// ultimately written to the response.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = orUnknown(module)
	method = orUnknown(method)

	failed := status >= 400
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
	if failed {
		m.errors.WithLabelValues(module, method, strconv.Itoa(status)).Inc()
	}
}

// RecordThrottle counts a request rejected by a throttle policy. Reasons
// should be stable strings such as "rate_limit" or "quota_exceeded" so
// dashboards keep working.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(orUnknown(module), reason).Inc()
}

type referralMetrics struct {
	claims      *prometheus.CounterVec
	payouts     *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
	deposits    prometheus.Counter
}

// Referral returns the registry tracking referral settlement activity.
func Referral() *referralMetrics {
	referralMetricsOnce.Do(func() {
		m := &referralMetrics{
			claims:      counterVec("referral", "claims_total", "Referral claims by outcome.", "outcome"),
			payouts:     counterVec("referral", "payouts_total", "Reward legs paid out, by currency.", "currency"),
			withdrawals: counterVec("referral", "withdrawals_total", "Owner withdrawals from the reward pool, by currency.", "currency"),
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "referral",
				Name:      "deposits_total",
				Help:      "Deposits into the shared reward pool.",
			}),
		}
		prometheus.MustRegister(m.claims, m.payouts, m.withdrawals, m.deposits)
		referralRegistry = m
	})
	return referralRegistry
}

// RecordClaim tracks a settled or rejected claim. Outcomes should be stable
// strings such as "settled", "already_referred" or "paused".
func (m *referralMetrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordPayout tracks one reward leg paid to a participant.
func (m *referralMetrics) RecordPayout(currency string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(orUnknown(currency)).Inc()
}

// RecordWithdrawal tracks an owner withdrawal from the pool.
func (m *referralMetrics) RecordWithdrawal(currency string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(orUnknown(currency)).Inc()
}

// RecordDeposit tracks a deposit into the pool.
func (m *referralMetrics) RecordDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}
