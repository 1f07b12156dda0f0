// Package event pushes operation progress and analysis updates to external
// consumers over the SignalBus.
package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

const (
	ChannelOperations = "operations"
	ChannelAnalysis   = "analysis"
	StreamOperations  = "operations:stream"
)

// OperationUpdate is the payload published on every operation transition.
type OperationUpdate struct {
	Event        string    `json:"event"`
	OperationID  string    `json:"operation_id"`
	Mode         string    `json:"mode"`
	Symbol       string    `json:"symbol"`
	Status       string    `json:"status"`
	ProgressHint string    `json:"progress_hint,omitempty"`
	Error        string    `json:"error,omitempty"`
	ProfitLoss   string    `json:"profit_loss,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Exchanges names the two venues of an opportunity.
type Exchanges struct {
	Acquire string `json:"acquire"`
	Dispose string `json:"dispose"`
}

// AnalysisUpdate is the payload published for every persisted Analysis.
type AnalysisUpdate struct {
	Event         string    `json:"event"`
	Symbol        string    `json:"symbol"`
	SpreadPercent float64   `json:"spread_percent"`
	Exchanges     Exchanges `json:"exchanges"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Publisher never fails its caller; bus errors are logged.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger.With(slog.String("component", "event_publisher"))}
}

// OperationUpdated publishes to the operations channel and appends to its stream.
func (p *Publisher) OperationUpdated(ctx context.Context, op domain.Operation, hint string) {
	evt := OperationUpdate{
		Event:        "operation_update",
		OperationID:  op.ID,
		Mode:         string(op.Mode),
		Symbol:       op.Symbol,
		Status:       string(op.Status),
		ProgressHint: hint,
		Error:        op.ErrorMessage,
		UpdatedAt:    op.UpdatedAt,
	}
	if op.Status == domain.StatusCompleted {
		evt.ProfitLoss = op.ProfitLoss.String()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal operation update", slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, ChannelOperations, payload); err != nil {
		p.logger.WarnContext(ctx, "publish operation update failed",
			slog.String("operation_id", op.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, StreamOperations, payload); err != nil {
		p.logger.WarnContext(ctx, "append operation stream failed",
			slog.String("operation_id", op.ID),
			slog.String("error", err.Error()),
		)
	}
}

// AnalysisUpdated publishes to the analysis channel.
func (p *Publisher) AnalysisUpdated(ctx context.Context, a domain.Analysis) {
	payload, err := json.Marshal(AnalysisUpdate{
		Event:         "analysis_update",
		Symbol:        a.Symbol,
		SpreadPercent: a.SpreadPercent,
		Exchanges:     Exchanges{Acquire: a.AcquireExchange, Dispose: a.DisposeExchange},
		ComputedAt:    a.ComputedAt,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal analysis update", slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, ChannelAnalysis, payload); err != nil {
		p.logger.WarnContext(ctx, "publish analysis update failed",
			slog.String("symbol", a.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
