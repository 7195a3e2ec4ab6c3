package lending

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments ledger operations on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	accruals   prometheus.Counter
}

// NewMetrics creates and registers the ledger metric set.
func NewMetrics(namespace string) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations committed, by operation",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Ledger operations rejected, by operation and reason",
		}, []string{"op", "reason"}),
		accruals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interest_accruals_total",
			Help:      "Bank interest accrual steps performed",
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.failures, m.accruals} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Gatherer exposes the registry for a promhttp handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// observe records the outcome of one operation. Safe on a nil receiver so
// the ledger can run without metrics.
func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.operations.WithLabelValues(op).Inc()
		return
	}
	m.failures.WithLabelValues(op, failureReason(err)).Inc()
}

func (m *Metrics) observeAccrual() {
	if m == nil {
		return
	}
	m.accruals.Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrRepayExceedsDebt):
		return "repay_exceeds_debt"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ErrUnknownBank):
		return "unknown_bank"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNotUndercollateralized):
		return "not_undercollateralized"
	default:
		return "internal"
	}
}
