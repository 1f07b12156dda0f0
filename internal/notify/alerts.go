package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// AlertConfig tunes an Alerter.
type AlertConfig struct {
	// MinSpreadPercent is the spread at or above which an opportunity is announced.
	// Zero disables opportunity alerts.
	MinSpreadPercent float64
	// Cooldown suppresses repeat opportunity alerts for the same symbol and venue pair.
	Cooldown time.Duration
	// QueueSize bounds pending alerts. Alerts beyond it are dropped.
	QueueSize int
}

type alert struct {
	event, title, message string
}

// Alerter turns settled operations and large spreads into notifications. It
// implements the operation observer and the scanner publisher; delivery runs
// on Run's goroutine so slow chat APIs never block a state transition.
type Alerter struct {
	notifier *Notifier
	cfg      AlertConfig
	queue    chan alert
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewAlerter creates an Alerter. Call Run to start delivery.
func NewAlerter(n *Notifier, cfg AlertConfig, logger *slog.Logger) *Alerter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	return &Alerter{
		notifier: n,
		cfg:      cfg,
		queue:    make(chan alert, cfg.QueueSize),
		logger:   logger.With(slog.String("component", "alerter")),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case al := <-a.queue:
			if err := a.notifier.Notify(ctx, al.event, al.title, al.message); err != nil {
				a.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", al.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// OperationUpdated alerts on completed and failed operations.
func (a *Alerter) OperationUpdated(ctx context.Context, op domain.Operation, _ string) {
	switch op.Status {
	case domain.StatusCompleted:
		a.enqueue(ctx, alert{
			event: EventOperationCompleted,
			title: fmt.Sprintf("[%s] %s completed", op.Mode, op.Symbol),
			message: fmt.Sprintf("%s -> %s\ninvested %s USDT, received %s USDT\nP&L %s USDT (fees %s)\nop %s",
				op.AcquireExchange, op.DisposeExchange,
				op.ActualInvestedAmount.StringFixed(2), op.FinalUSDTReceived.StringFixed(2),
				op.ProfitLoss.StringFixed(4), op.TotalFees().StringFixed(4), op.ID),
		})
	case domain.StatusFailed:
		a.enqueue(ctx, alert{
			event: EventOperationFailed,
			title: fmt.Sprintf("[%s] %s failed", op.Mode, op.Symbol),
			message: fmt.Sprintf("%s -> %s\n%s\nreservation %s\nop %s",
				op.AcquireExchange, op.DisposeExchange, op.ErrorMessage, op.Reservation, op.ID),
		})
	}
}

// AnalysisUpdated alerts when a cross-exchange spread reaches the threshold,
// at most once per cooldown for the same venue pair.
func (a *Alerter) AnalysisUpdated(ctx context.Context, an domain.Analysis) {
	if a.cfg.MinSpreadPercent <= 0 || an.SpreadPercent < a.cfg.MinSpreadPercent || !an.CrossExchange() {
		return
	}
	key := an.Symbol + "|" + an.AcquireExchange + "|" + an.DisposeExchange
	a.mu.Lock()
	now := a.now()
	if last, ok := a.lastSent[key]; ok && now.Sub(last) < a.cfg.Cooldown {
		a.mu.Unlock()
		return
	}
	a.lastSent[key] = now
	a.mu.Unlock()

	msg := fmt.Sprintf("buy %s @ %g, sell %s @ %g\nspread %.3f%%",
		an.AcquireExchange, an.AcquirePrice, an.DisposeExchange, an.DisposePrice, an.SpreadPercent)
	if an.WithdrawalNetwork != "" {
		msg += fmt.Sprintf("\nwithdraw via %s, fee %g", an.WithdrawalNetwork, an.WithdrawalFee)
	}
	a.enqueue(ctx, alert{
		event:   EventOpportunity,
		title:   "Opportunity " + an.Symbol,
		message: msg,
	})
}

func (a *Alerter) enqueue(ctx context.Context, al alert) {
	if !a.notifier.Enabled() || !a.notifier.Allows(al.event) {
		return
	}
	select {
	case a.queue <- al:
	default:
		a.logger.WarnContext(ctx, "alert queue full, dropping", slog.String("event", al.event))
	}
}
