// Package operation drives one arbitrage trade through its legs and keeps the
// balance ledger in step with it.
package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/keymutex"
	"github.com/alanyoungcy/arbengine/internal/ledger"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Machine owns every Operation record. All transitions go through it.
type Machine struct {
	ops        domain.OperationStore
	ledger     *ledger.Ledger
	executors  map[domain.Mode]LegExecutor
	observers  []Observer
	audit      domain.AuditStore
	locks      *keymutex.Map
	legTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger

	runMu   sync.Mutex
	running map[string]struct{}
}

// Config tunes a Machine.
type Config struct {
	LegTimeout time.Duration
}

// Deps groups the collaborators of a Machine. Audit and Observers are optional.
type Deps struct {
	Operations domain.OperationStore
	Ledger     *ledger.Ledger
	Executors  map[domain.Mode]LegExecutor
	Observers  []Observer
	Audit      domain.AuditStore
}

func NewMachine(deps Deps, cfg Config, logger *slog.Logger) *Machine {
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = 30 * time.Second
	}
	return &Machine{
		ops:        deps.Operations,
		ledger:     deps.Ledger,
		executors:  deps.Executors,
		observers:  deps.Observers,
		audit:      deps.Audit,
		locks:      keymutex.New(),
		legTimeout: cfg.LegTimeout,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "operation_machine")),
		running:    make(map[string]struct{}),
	}
}

func reserveRef(id string) string { return "op:" + id + ":reserve" }
func releaseRef(id string) string { return "op:" + id + ":release" }

// Initiate reserves the invested amount on the acquire exchange and records a
// pending operation. When the reservation is denied no operation is created
// and the error wraps domain.ErrInsufficientBalance.
func (m *Machine) Initiate(ctx context.Context, req InitiateRequest) (domain.Operation, error) {
	if err := req.Validate(); err != nil {
		return domain.Operation{}, err
	}
	if _, ok := m.executors[req.Mode]; !ok {
		return domain.Operation{}, domain.Invalid("mode", "no executor for "+string(req.Mode))
	}

	id := uuid.NewString()
	if _, err := m.ledger.Reserve(ctx, req.Mode, req.AcquireExchange, req.InvestedAmount, reserveRef(id)); err != nil {
		return domain.Operation{}, fmt.Errorf("operation: initiate: %w", err)
	}

	now := m.now()
	op := domain.Operation{
		ID:                   id,
		Mode:                 req.Mode,
		Symbol:               req.Symbol,
		AcquireExchange:      req.AcquireExchange,
		DisposeExchange:      req.DisposeExchange,
		ExpectedAcquirePrice: req.ExpectedAcquirePrice,
		ExpectedDisposePrice: req.ExpectedDisposePrice,
		InvestedAmount:       req.InvestedAmount,
		Status:               domain.StatusPending,
		Reservation:          domain.ReservationHeld,
		AIConfidence:         req.AIConfidence,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.ops.Create(ctx, op); err != nil {
		if _, rerr := m.ledger.Release(ctx, req.Mode, req.AcquireExchange, req.InvestedAmount, releaseRef(id)); rerr != nil {
			m.logger.ErrorContext(ctx, "release after failed create",
				slog.String("operation_id", id),
				slog.String("error", rerr.Error()),
			)
		}
		return domain.Operation{}, fmt.Errorf("operation: create %s: %w", id, err)
	}

	m.logger.InfoContext(ctx, "operation initiated",
		slog.String("operation_id", id),
		slog.String("mode", string(op.Mode)),
		slog.String("symbol", op.Symbol),
		slog.String("acquire", op.AcquireExchange),
		slog.String("dispose", op.DisposeExchange),
		slog.String("invested", op.InvestedAmount.String()),
	)
	m.transitioned(ctx, op, "funds reserved")
	return op, nil
}

// Get returns the current operation record.
func (m *Machine) Get(ctx context.Context, id string) (domain.Operation, error) {
	op, err := m.ops.GetByID(ctx, id)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("operation: get %s: %w", id, err)
	}
	return op, nil
}

// List returns operations matching the filter.
func (m *Machine) List(ctx context.Context, f domain.OperationFilter, opts domain.ListOpts) ([]domain.Operation, error) {
	ops, err := m.ops.List(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("operation: list: %w", err)
	}
	return ops, nil
}

// errUnchanged signals a replayed leg; the stored record is returned as is.
var errUnchanged = errors.New("unchanged")

// update serializes fn against other updates of the same operation and
// persists the result.
func (m *Machine) update(ctx context.Context, id, hint string, fn func(op *domain.Operation) error) (domain.Operation, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	op, err := m.ops.GetByID(ctx, id)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("operation: get %s: %w", id, err)
	}
	from := op.Status
	if err := fn(&op); err != nil {
		if errors.Is(err, errUnchanged) {
			return op, nil
		}
		return domain.Operation{}, err
	}
	if from.Terminal() || (!op.Status.Terminal() && op.Status.Rank() <= from.Rank()) {
		return domain.Operation{}, fmt.Errorf("operation: %s %s -> %s: %w", id, from, op.Status, domain.ErrInvalidTransition)
	}
	op.UpdatedAt = m.now()
	if op.Status.Terminal() {
		completed := op.UpdatedAt
		op.CompletedAt = &completed
	}
	if err := m.ops.Update(ctx, op); err != nil {
		return domain.Operation{}, fmt.Errorf("operation: update %s: %w", id, err)
	}
	m.logger.InfoContext(ctx, "operation transitioned",
		slog.String("operation_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(op.Status)),
	)
	m.transitioned(ctx, op, hint)
	return op, nil
}

func (m *Machine) transitioned(ctx context.Context, op domain.Operation, hint string) {
	metrics.Operations.WithLabelValues(string(op.Mode), string(op.Status)).Inc()
	if m.audit != nil {
		detail := map[string]any{
			"operation_id": op.ID,
			"mode":         string(op.Mode),
			"status":       string(op.Status),
			"hint":         hint,
		}
		if op.ErrorMessage != "" {
			detail["error"] = op.ErrorMessage
		}
		if err := m.audit.Log(ctx, "operation."+string(op.Status), detail); err != nil {
			m.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	for _, o := range m.observers {
		o.OperationUpdated(ctx, op, hint)
	}
}

// checkLeg returns errUnchanged when the leg was already recorded with txID
// and ErrLegConflict when it was recorded with a different one.
func checkLeg(op *domain.Operation, kind domain.LegKind, txID string) error {
	if txID == "" {
		return domain.Invalid("transaction_id", "required")
	}
	if leg, ok := op.Leg(kind); ok {
		if leg.TransactionID == txID {
			return errUnchanged
		}
		return fmt.Errorf("operation: %s %s already recorded as %s: %w", op.ID, kind, leg.TransactionID, domain.ErrLegConflict)
	}
	return nil
}

func expectStatus(op *domain.Operation, want domain.OperationStatus, kind domain.LegKind) error {
	if op.Status != want {
		return fmt.Errorf("operation: %s cannot record %s while %s: %w", op.ID, kind, op.Status, domain.ErrInvalidTransition)
	}
	return nil
}

// RecordTransferIn moves a pending operation to usdt_transfer_initiated.
func (m *Machine) RecordTransferIn(ctx context.Context, id string, res TransferInResult) (domain.Operation, error) {
	return m.update(ctx, id, "usdt transfer recorded", func(op *domain.Operation) error {
		if err := checkLeg(op, domain.LegTransferIn, res.TransactionID); err != nil {
			return err
		}
		if err := expectStatus(op, domain.StatusPending, domain.LegTransferIn); err != nil {
			return err
		}
		if !res.Amount.IsPositive() {
			return domain.Invalid("amount", "must be positive")
		}
		op.ActualInvestedAmount = res.Amount
		op.TransactionID = res.TransactionID
		op.Legs = append(op.Legs, domain.LegRecord{
			Kind:          domain.LegTransferIn,
			TransactionID: res.TransactionID,
			AmountIn:      op.InvestedAmount,
			AmountOut:     res.Amount,
			Fee:           op.InvestedAmount.Sub(res.Amount),
			RecordedAt:    m.now(),
		})
		op.Status = domain.StatusUSDTTransferInitiated
		return nil
	})
}

// RecordAcquire books the purchase. The asset received is gross minus the
// trading fee converted at the fill price.
func (m *Machine) RecordAcquire(ctx context.Context, id string, res AcquireResult) (domain.Operation, error) {
	return m.update(ctx, id, "asset purchased", func(op *domain.Operation) error {
		if err := checkLeg(op, domain.LegAcquire, res.TransactionID); err != nil {
			return err
		}
		if err := expectStatus(op, domain.StatusUSDTTransferInitiated, domain.LegAcquire); err != nil {
			return err
		}
		if res.Price <= 0 || !res.GrossAmount.IsPositive() || res.Fee.IsNegative() {
			return domain.Invalid("acquire", "price and amount must be positive, fee non-negative")
		}
		received := res.GrossAmount.Sub(res.Fee.Div(decimal.NewFromFloat(res.Price)))
		if !received.IsPositive() {
			return domain.Invalid("acquire", "fee exceeds filled amount")
		}
		base, _ := domain.SplitSymbol(op.Symbol)
		if _, err := m.ledger.AdjustAsset(ctx, op.Mode, op.AcquireExchange, base, received,
			"op:"+op.ID+":acquire:"+res.TransactionID); err != nil {
			return fmt.Errorf("operation: %s acquire: %w", op.ID, err)
		}
		op.RealAcquirePrice = res.Price
		op.AssetAmount = received
		op.AcquireFee = res.Fee
		op.TransactionID = res.TransactionID
		op.Legs = append(op.Legs, domain.LegRecord{
			Kind:          domain.LegAcquire,
			TransactionID: res.TransactionID,
			Price:         res.Price,
			AmountIn:      op.ActualInvestedAmount,
			AmountOut:     received,
			Fee:           res.Fee,
			RecordedAt:    m.now(),
		})
		op.Status = domain.StatusAssetPurchased
		return nil
	})
}

// RecordAssetTransfer books the move of the asset to the dispose exchange.
// It is only valid for cross-exchange operations.
func (m *Machine) RecordAssetTransfer(ctx context.Context, id string, res TransferAssetResult) (domain.Operation, error) {
	return m.update(ctx, id, "asset transferred", func(op *domain.Operation) error {
		if err := checkLeg(op, domain.LegTransferAsset, res.TransactionID); err != nil {
			return err
		}
		if !op.CrossExchange() {
			return fmt.Errorf("operation: %s has no transfer leg: %w", op.ID, domain.ErrInvalidTransition)
		}
		if err := expectStatus(op, domain.StatusAssetPurchased, domain.LegTransferAsset); err != nil {
			return err
		}
		if !res.AmountSent.IsPositive() || res.Fee.IsNegative() {
			return domain.Invalid("transfer", "amount must be positive, fee non-negative")
		}
		received := res.AmountReceived
		if received.IsZero() {
			received = res.AmountSent.Sub(res.Fee)
		}
		if !received.IsPositive() {
			return domain.Invalid("transfer", "fee exceeds amount sent")
		}
		base, _ := domain.SplitSymbol(op.Symbol)
		if _, err := m.ledger.AdjustAsset(ctx, op.Mode, op.AcquireExchange, base, res.AmountSent.Neg(),
			"op:"+op.ID+":transfer_out:"+res.TransactionID); err != nil {
			return fmt.Errorf("operation: %s transfer out: %w", op.ID, err)
		}
		if _, err := m.ledger.AdjustAsset(ctx, op.Mode, op.DisposeExchange, base, received,
			"op:"+op.ID+":transfer_in:"+res.TransactionID); err != nil {
			return fmt.Errorf("operation: %s transfer in: %w", op.ID, err)
		}
		op.TransferFee = res.Fee.Mul(decimal.NewFromFloat(op.RealAcquirePrice))
		op.AssetAmount = received
		op.TransactionID = res.TransactionID
		op.Legs = append(op.Legs, domain.LegRecord{
			Kind:          domain.LegTransferAsset,
			TransactionID: res.TransactionID,
			Network:       res.Network,
			AmountIn:      res.AmountSent,
			AmountOut:     received,
			Fee:           res.Fee,
			RecordedAt:    m.now(),
		})
		op.Status = domain.StatusAssetTransferred
		return nil
	})
}

// RecordDispose books the sale, settles the reservation and credits proceeds
// to the dispose exchange.
func (m *Machine) RecordDispose(ctx context.Context, id string, res DisposeResult) (domain.Operation, error) {
	return m.update(ctx, id, "completed", func(op *domain.Operation) error {
		if err := checkLeg(op, domain.LegDispose, res.TransactionID); err != nil {
			return err
		}
		want := domain.StatusAssetPurchased
		if op.CrossExchange() {
			want = domain.StatusAssetTransferred
		}
		if err := expectStatus(op, want, domain.LegDispose); err != nil {
			return err
		}
		if res.Price <= 0 || !res.GrossProceeds.IsPositive() || res.Fee.IsNegative() {
			return domain.Invalid("dispose", "price and proceeds must be positive, fee non-negative")
		}
		sold := res.AmountSold
		if sold.IsZero() {
			sold = op.AssetAmount
		}

		op.RealDisposePrice = res.Price
		op.DisposeFee = res.Fee
		op.FinalUSDTReceived = res.GrossProceeds.Sub(res.Fee)
		op.ProfitLoss = op.FinalUSDTReceived.Sub(op.ActualInvestedAmount).Sub(op.TotalFees())

		base, _ := domain.SplitSymbol(op.Symbol)
		if _, err := m.ledger.AdjustAsset(ctx, op.Mode, op.DisposeExchange, base, sold.Neg(),
			"op:"+op.ID+":dispose:"+res.TransactionID); err != nil {
			return fmt.Errorf("operation: %s dispose asset: %w", op.ID, err)
		}
		if op.Reservation == domain.ReservationHeld {
			if _, err := m.ledger.Consume(ctx, op.Mode, op.AcquireExchange, op.InvestedAmount,
				"op:"+op.ID+":consume"); err != nil {
				return fmt.Errorf("operation: %s settle reservation: %w", op.ID, err)
			}
			op.Reservation = domain.ReservationConsumed
		}
		if _, err := m.ledger.Credit(ctx, op.Mode, op.DisposeExchange, op.FinalUSDTReceived, op.ProfitLoss,
			"op:"+op.ID+":credit"); err != nil {
			return fmt.Errorf("operation: %s credit proceeds: %w", op.ID, err)
		}

		op.TransactionID = res.TransactionID
		op.Legs = append(op.Legs, domain.LegRecord{
			Kind:          domain.LegDispose,
			TransactionID: res.TransactionID,
			Price:         res.Price,
			AmountIn:      sold,
			AmountOut:     op.FinalUSDTReceived,
			Fee:           res.Fee,
			RecordedAt:    m.now(),
		})
		op.Status = domain.StatusCompleted
		return nil
	})
}

// Fail marks the operation failed. The reservation is released only when the
// failure happens before funds leave the ledger (pending or
// usdt_transfer_initiated). Later failures leave it reserved for manual
// reconciliation.
func (m *Machine) Fail(ctx context.Context, id, reason string) (domain.Operation, error) {
	if reason == "" {
		reason = "unspecified failure"
	}
	return m.update(ctx, id, "failed", func(op *domain.Operation) error {
		if op.Status == domain.StatusFailed && op.ErrorMessage == reason {
			return errUnchanged
		}
		if op.Status.Terminal() {
			return fmt.Errorf("operation: %s already %s: %w", op.ID, op.Status, domain.ErrInvalidTransition)
		}
		if op.Status.ReleasesReservation() && op.Reservation == domain.ReservationHeld {
			if _, err := m.ledger.Release(ctx, op.Mode, op.AcquireExchange, op.InvestedAmount, releaseRef(op.ID)); err != nil {
				return fmt.Errorf("operation: %s release on failure: %w", op.ID, err)
			}
			op.Reservation = domain.ReservationReleased
		}
		op.ErrorMessage = reason
		op.Status = domain.StatusFailed
		return nil
	})
}

// Cancel aborts a pending operation and releases its reservation.
func (m *Machine) Cancel(ctx context.Context, id string) (domain.Operation, error) {
	return m.update(ctx, id, "cancelled", func(op *domain.Operation) error {
		if op.Status == domain.StatusCancelled {
			return errUnchanged
		}
		if op.Status != domain.StatusPending {
			return fmt.Errorf("operation: %s is %s: %w", op.ID, op.Status, domain.ErrNotCancellable)
		}
		if op.Reservation == domain.ReservationHeld {
			if _, err := m.ledger.Release(ctx, op.Mode, op.AcquireExchange, op.InvestedAmount, releaseRef(op.ID)); err != nil {
				return fmt.Errorf("operation: %s release on cancel: %w", op.ID, err)
			}
			op.Reservation = domain.ReservationReleased
		}
		op.Status = domain.StatusCancelled
		return nil
	})
}
