package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	idempotencyCounter        *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
	balanceReadFailureCounter *prometheus.CounterVec
	broadcastCounter          *prometheus.CounterVec
	gasTopUpCounter           *prometheus.CounterVec
	sweepOutcomeCounter       *prometheus.CounterVec
	runningSweepsGauge        prometheus.Gauge
	settlementCounter         *prometheus.CounterVec
	ledgerInvariantCounter    *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		balanceReadFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_balance_read_failures_total",
			Help: "Balance reads that failed and were treated as zero",
		}, []string{"kind"})

		broadcastCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_broadcasts_total",
			Help: "Raw transaction broadcasts by node response",
		}, []string{"result"})

		gasTopUpCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_gas_topups_total",
			Help: "Gas pre-funding transfers to deposit addresses",
		}, []string{"result"})

		sweepOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_outcomes_total",
			Help: "Terminal deposit sweep outcomes",
		}, []string{"result", "reason"})

		runningSweepsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweeps_running",
			Help: "Deposit sweeps currently in flight",
		})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_settlements_total",
			Help: "Withdrawal settlement attempts",
		}, []string{"result"})

		ledgerInvariantCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Ledger entries found violating an invariant during reconciliation",
		}, []string{"check"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			workerRunCounter,
			balanceReadFailureCounter,
			broadcastCounter,
			gasTopUpCounter,
			sweepOutcomeCounter,
			runningSweepsGauge,
			settlementCounter,
			ledgerInvariantCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementBalanceReadFailure(kind string) {
	if balanceReadFailureCounter == nil {
		return
	}
	balanceReadFailureCounter.WithLabelValues(kind).Inc()
}

func IncrementBroadcast(result string) {
	if broadcastCounter == nil {
		return
	}
	broadcastCounter.WithLabelValues(result).Inc()
}

func IncrementGasTopUp(result string) {
	if gasTopUpCounter == nil {
		return
	}
	gasTopUpCounter.WithLabelValues(result).Inc()
}

func IncrementSweepOutcome(result, reason string) {
	if sweepOutcomeCounter == nil {
		return
	}
	sweepOutcomeCounter.WithLabelValues(result, reason).Inc()
}

func AddRunningSweeps(delta float64) {
	if runningSweepsGauge == nil {
		return
	}
	runningSweepsGauge.Add(delta)
}

func IncrementSettlement(result string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(result).Inc()
}

func IncrementLedgerInvariantViolation(check string) {
	if ledgerInvariantCounter == nil {
		return
	}
	ledgerInvariantCounter.WithLabelValues(check).Inc()
}
