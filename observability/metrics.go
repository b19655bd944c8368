package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels. Rejections are business-rule failures reported by the
// engine; errors are everything else.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type protocolMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	pending    prometheus.Counter
	pendingAmt prometheus.Counter
	http       *prometheus.HistogramVec
	classify   func(error) string
}

var (
	protocolMetricsOnce sync.Once
	protocolRegistry    *protocolMetrics
)

// ProtocolMetrics returns the lazily-initialised registry for lending market
// activity. It satisfies the engine's metrics hook.
func ProtocolMetrics() *protocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &protocolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "p2pnfts",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Market operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2pnfts",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for market operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			pending: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "p2pnfts",
				Subsystem: "market",
				Name:      "pending_transfers_total",
				Help:      "Payouts that were rejected by the recipient and queued.",
			}),
			pendingAmt: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "p2pnfts",
				Subsystem: "market",
				Name:      "pending_transfer_amount_total",
				Help:      "Sum of queued payout amounts in base units. Precision is lost above 2^53.",
			}),
			http: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "p2pnfts",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency of API requests segmented by route and status class.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method", "status"}),
			classify: defaultClassify,
		}
		prometheus.MustRegister(
			protocolRegistry.operations,
			protocolRegistry.latency,
			protocolRegistry.pending,
			protocolRegistry.pendingAmt,
			protocolRegistry.http,
		)
	})
	return protocolRegistry
}

// SetClassifier installs the function that tells rejections apart from
// internal errors. The daemon installs one that knows the engine's sentinels.
func (m *protocolMetrics) SetClassifier(fn func(error) string) {
	if m == nil || fn == nil {
		return
	}
	m.classify = fn
}

func (m *protocolMetrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = m.classify(err)
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *protocolMetrics) ObservePendingTransfer(amount *big.Int) {
	if m == nil {
		return
	}
	m.pending.Inc()
	if amount != nil && amount.Sign() > 0 {
		f, _ := new(big.Float).SetInt(amount).Float64()
		m.pendingAmt.Add(f)
	}
}

// ObserveRequest records one API request.
func (m *protocolMetrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.http.WithLabelValues(route, method, statusClass(status)).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func defaultClassify(error) string { return OutcomeError }
