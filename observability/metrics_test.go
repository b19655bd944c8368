package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"p2pnfts/core/events"
)

func TestProtocolMetricsOutcomes(t *testing.T) {
	m := ProtocolMetrics()
	require.Same(t, m, ProtocolMetrics())

	rejected := errors.New("offer expired")
	m.SetClassifier(func(err error) string {
		if errors.Is(err, rejected) {
			return OutcomeRejected
		}
		return OutcomeError
	})

	m.ObserveOperation("create_loan", nil, time.Millisecond)
	m.ObserveOperation("create_loan", rejected, time.Millisecond)
	m.ObserveOperation("create_loan", errors.New("disk"), time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create_loan", OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create_loan", OutcomeRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create_loan", OutcomeError)))
}

func TestProtocolMetricsPendingTransfers(t *testing.T) {
	m := ProtocolMetrics()
	before := testutil.ToFloat64(m.pending)
	beforeAmt := testutil.ToFloat64(m.pendingAmt)
	m.ObservePendingTransfer(big.NewInt(1100))
	require.Equal(t, before+1, testutil.ToFloat64(m.pending))
	require.Equal(t, beforeAmt+1100, testutil.ToFloat64(m.pendingAmt))
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", statusClass(200))
	require.Equal(t, "4xx", statusClass(409))
	require.Equal(t, "5xx", statusClass(503))
}

func TestEventsCountsByType(t *testing.T) {
	counter := Events()
	before := testutil.ToFloat64(counter.emitted.WithLabelValues(events.TypeLoanPaid))
	counter.Emit(events.LoanPaid{})
	counter.Emit(nil)
	require.Equal(t, before+1, testutil.ToFloat64(counter.emitted.WithLabelValues(events.TypeLoanPaid)))
}
