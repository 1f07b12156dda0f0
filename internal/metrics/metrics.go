// Package metrics holds the Prometheus collectors for the engine.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScanPasses counts scanner passes by outcome (analyzed, skipped, locked, error).
	ScanPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbengine_scan_passes_total",
			Help: "Scanner passes per symbol by outcome",
		},
		[]string{"symbol", "outcome"},
	)

	SpreadPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbengine_spread_percent",
			Help: "Latest fee-naive spread per symbol",
		},
		[]string{"symbol"},
	)

	FeeLookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbengine_fee_lookup_failures_total",
			Help: "Fee enrichment lookups that degraded to zero",
		},
		[]string{"exchange", "kind"},
	)

	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbengine_operations_total",
			Help: "Operation status transitions",
		},
		[]string{"mode", "status"},
	)

	ReservationDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbengine_reservation_denied_total",
			Help: "Reservations rejected for insufficient balance",
		},
		[]string{"mode", "exchange"},
	)

	AdapterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbengine_adapter_errors_total",
			Help: "Failed exchange adapter calls",
		},
		[]string{"exchange", "call"},
	)

	QuotesPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbengine_quotes_polled_total",
			Help: "Quote poll attempts per exchange by outcome",
		},
		[]string{"exchange", "outcome"},
	)

	LegDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbengine_leg_duration_seconds",
			Help:    "Operation leg execution latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode", "leg"},
	)

	ProfitLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbengine_total_profit_loss",
			Help: "Ledger total profit and loss per exchange",
		},
		[]string{"mode", "exchange"},
	)
)

// ObserveLeg records how long a leg took.
func ObserveLeg(mode, leg string, started time.Time) {
	LegDuration.WithLabelValues(mode, leg).Observe(time.Since(started).Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
