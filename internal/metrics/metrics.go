// Package metrics exposes engine counters and gauges over Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the engine records into.
type Metrics struct {
	registry *prometheus.Registry

	PlansCreated  prometheus.Counter
	PlanOutcomes  *prometheus.CounterVec
	OrdersPlaced  *prometheus.CounterVec
	OrdersFailed  *prometheus.CounterVec
	TradesClosed  *prometheus.CounterVec
	DCARounds     prometheus.Counter
	PartialExits  prometheus.Counter
	LocksCreated  *prometheus.CounterVec
	SignalsTotal  *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	OpenPositions  prometheus.Gauge
	PortfolioValue prometheus.Gauge
	DailyPnLPct    prometheus.Gauge
	SizeMultiplier prometheus.Gauge
	EnginePaused   prometheus.Gauge
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PlansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_plans_created_total",
			Help: "Trade plans created.",
		}),
		PlanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_plan_outcomes_total",
			Help: "Plan lifecycle outcomes by terminal status.",
		}, []string{"outcome"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Broker orders placed, by tag.",
		}, []string{"tag"}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_failed_total",
			Help: "Broker orders rejected or partially filled, by tag.",
		}, []string{"tag"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Closed trades, by exit reason.",
		}, []string{"reason"}),
		DCARounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_dca_rounds_total",
			Help: "Dollar-cost-averaging rounds executed.",
		}),
		PartialExits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_partial_exits_total",
			Help: "Partial profit-taking exits executed.",
		}),
		LocksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_locks_created_total",
			Help: "Protective pair locks created, by reason.",
		}, []string{"reason"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals processed, by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Wall time of one engine cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Currently open positions.",
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_portfolio_value",
			Help: "Portfolio value at last snapshot.",
		}),
		DailyPnLPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_daily_pnl_percent",
			Help: "Today's realized plus unrealized P&L percent.",
		}),
		SizeMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_size_multiplier",
			Help: "Current position sizing factor.",
		}),
		EnginePaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_paused",
			Help: "1 when the engine is paused.",
		}),
	}

	registry.MustRegister(
		m.PlansCreated, m.PlanOutcomes,
		m.OrdersPlaced, m.OrdersFailed, m.TradesClosed,
		m.DCARounds, m.PartialExits, m.LocksCreated, m.SignalsTotal,
		m.CycleDuration,
		m.OpenPositions, m.PortfolioValue, m.DailyPnLPct,
		m.SizeMultiplier, m.EnginePaused,
	)
	return m
}

// Serve exposes /metrics on the given address until the context ends.
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	if m == nil || listen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ObserveCycle records one cycle duration.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}
