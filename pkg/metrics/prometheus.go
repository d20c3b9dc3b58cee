package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"Backtest/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	eventsTotal *prometheus.CounterVec
	ordersTotal *prometheus.CounterVec
	fillsTotal  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	equity      *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_events_processed_total",
				Help: "Total number of queue events processed per portfolio",
			},
			[]string{"portfolio", "kind"},
		),
		ordersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_orders_total",
				Help: "Total number of orders generated",
			},
			[]string{"portfolio", "direction"},
		),
		fillsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_fills_total",
				Help: "Total number of fills applied",
			},
			[]string{"portfolio", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		equity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backtest_portfolio_equity",
				Help: "Mark-to-market equity at the last market close",
			},
			[]string{"portfolio"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvent(portfolio, kind string) {
	r.eventsTotal.WithLabelValues(portfolio, kind).Inc()
}

func (r *Recorder) RecordOrder(portfolio string, direction models.Direction) {
	r.ordersTotal.WithLabelValues(portfolio, string(direction)).Inc()
}

func (r *Recorder) RecordFill(portfolio, symbol string) {
	r.fillsTotal.WithLabelValues(portfolio, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordEquity(portfolio string, total float64) {
	r.equity.WithLabelValues(portfolio).Set(total)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordEvent(string, string)           {}
func (Nop) RecordOrder(string, models.Direction) {}
func (Nop) RecordFill(string, string)            {}
func (Nop) RecordError(string)                   {}
func (Nop) RecordEquity(string, float64)         {}
func (Nop) RecordLatency(string, float64)        {}
