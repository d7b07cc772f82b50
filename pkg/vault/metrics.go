package vault

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation for the protocol.
type Metrics struct {
	actionsInitiated *prometheus.CounterVec
	actionsValidated *prometheus.CounterVec
	staleActions     prometheus.Counter
	ticksLiquidated  prometheus.Counter
	sweepTicks       prometheus.Histogram
	fundingPortion   prometheus.Gauge
	balanceLong      prometheus.Gauge
	balanceVault     prometheus.Gauge
	totalExpo        prometheus.Gauge
	pendingBalance   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		actionsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickvault",
			Name:      "actions_initiated_total",
			Help:      "Pending actions initiated, by kind",
		}, []string{"kind"}),
		actionsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickvault",
			Name:      "actions_validated_total",
			Help:      "Pending actions validated, by kind",
		}, []string{"kind"}),
		staleActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickvault",
			Name:      "stale_actions_total",
			Help:      "Pending actions purged because their tick was liquidated first",
		}),
		ticksLiquidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickvault",
			Name:      "ticks_liquidated_total",
			Help:      "Ticks ejected by the liquidation sweep",
		}),
		sweepTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tickvault",
			Name:      "sweep_ticks",
			Help:      "Ticks liquidated per sweep pass",
			Buckets:   prometheus.LinearBuckets(0, 2, 8),
		}),
		fundingPortion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickvault",
			Name:      "funding_portion",
			Help:      "Last applied funding portion, 1e18 scale",
		}),
		balanceLong: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickvault",
			Name:      "balance_long",
			Help:      "Long side balance",
		}),
		balanceVault: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickvault",
			Name:      "balance_vault",
			Help:      "Vault side balance",
		}),
		totalExpo: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickvault",
			Name:      "total_expo",
			Help:      "Total long exposure",
		}),
		pendingBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickvault",
			Name:      "pending_balance",
			Help:      "Balance escrowed for unvalidated actions",
		}),
	}
}

// NewMetrics creates the instrumentation and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.actionsInitiated,
		m.actionsValidated,
		m.staleActions,
		m.ticksLiquidated,
		m.sweepTicks,
		m.fundingPortion,
		m.balanceLong,
		m.balanceVault,
		m.totalExpo,
		m.pendingBalance,
	)
	return m
}

// noopMetrics returns unregistered collectors so the protocol can
// record unconditionally.
func noopMetrics() *Metrics {
	return newMetrics()
}

func (m *Metrics) incInitiated(kind ActionKind) {
	m.actionsInitiated.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) incValidated(kind ActionKind) {
	m.actionsValidated.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) incStale() {
	m.staleActions.Inc()
}

func (m *Metrics) observeSweep(ticks int) {
	m.ticksLiquidated.Add(float64(ticks))
	m.sweepTicks.Observe(float64(ticks))
}

func (m *Metrics) observeFunding(portion *big.Int) {
	m.fundingPortion.Set(bigGauge(portion))
}

func (m *Metrics) observeBalances(s *State) {
	m.balanceLong.Set(bigGauge(s.BalanceLong))
	m.balanceVault.Set(bigGauge(s.BalanceVault))
	m.totalExpo.Set(bigGauge(s.TotalExpo))
	m.pendingBalance.Set(bigGauge(s.PendingBalance))
}

func bigGauge(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
