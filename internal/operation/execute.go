package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Execute drives the operation through its remaining legs with the executor
// of its mode. The first leg error fails the operation; legs are never
// retried here. A terminal operation is returned unchanged.
func (m *Machine) Execute(ctx context.Context, id string) (domain.Operation, error) {
	m.runMu.Lock()
	if _, busy := m.running[id]; busy {
		m.runMu.Unlock()
		return domain.Operation{}, fmt.Errorf("operation: execute %s: %w", id, domain.ErrLockHeld)
	}
	m.running[id] = struct{}{}
	m.runMu.Unlock()
	defer func() {
		m.runMu.Lock()
		delete(m.running, id)
		m.runMu.Unlock()
	}()

	for {
		op, err := m.Get(ctx, id)
		if err != nil {
			return domain.Operation{}, err
		}
		if op.Status.Terminal() {
			return op, nil
		}
		exec, ok := m.executors[op.Mode]
		if !ok {
			return m.failWith(ctx, op, "", fmt.Errorf("no executor for mode %s", op.Mode))
		}

		// Record* returns a zero operation on rejection, so failures are
		// reported against op as it was before the leg.
		kind := nextLeg(op)
		if _, err := m.step(ctx, exec, op, kind); err != nil {
			if errors.Is(err, domain.ErrLegConflict) || errors.Is(err, domain.ErrInvalidTransition) {
				return op, err
			}
			return m.failWith(ctx, op, kind, err)
		}
	}
}

func nextLeg(op domain.Operation) domain.LegKind {
	switch op.Status {
	case domain.StatusPending:
		return domain.LegTransferIn
	case domain.StatusUSDTTransferInitiated:
		return domain.LegAcquire
	case domain.StatusAssetPurchased:
		if op.CrossExchange() {
			return domain.LegTransferAsset
		}
		return domain.LegDispose
	default:
		return domain.LegDispose
	}
}

func (m *Machine) step(ctx context.Context, exec LegExecutor, op domain.Operation, kind domain.LegKind) (domain.Operation, error) {
	legCtx, cancel := context.WithTimeout(ctx, m.legTimeout)
	defer cancel()
	started := time.Now()
	defer metrics.ObserveLeg(string(op.Mode), string(kind), started)

	m.logger.DebugContext(ctx, "running leg", slog.String("operation_id", op.ID), slog.String("leg", string(kind)))
	switch kind {
	case domain.LegTransferIn:
		res, err := exec.TransferIn(legCtx, op)
		if err != nil {
			return op, err
		}
		return m.RecordTransferIn(ctx, op.ID, res)
	case domain.LegAcquire:
		res, err := exec.Acquire(legCtx, op)
		if err != nil {
			return op, err
		}
		return m.RecordAcquire(ctx, op.ID, res)
	case domain.LegTransferAsset:
		res, err := exec.TransferAsset(legCtx, op)
		if err != nil {
			return op, err
		}
		return m.RecordAssetTransfer(ctx, op.ID, res)
	default:
		res, err := exec.Dispose(legCtx, op)
		if err != nil {
			return op, err
		}
		return m.RecordDispose(ctx, op.ID, res)
	}
}

func (m *Machine) failWith(ctx context.Context, op domain.Operation, kind domain.LegKind, cause error) (domain.Operation, error) {
	reason := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "adapter timeout: " + reason
	}
	if kind != "" {
		reason = string(kind) + ": " + reason
	}
	m.logger.WarnContext(ctx, "operation leg failed",
		slog.String("operation_id", op.ID),
		slog.String("leg", string(kind)),
		slog.String("error", cause.Error()),
	)
	failed, err := m.Fail(context.WithoutCancel(ctx), op.ID, reason)
	if err != nil {
		return op, fmt.Errorf("operation: fail %s after %v: %w", op.ID, cause, err)
	}
	return failed, fmt.Errorf("operation: %s %s leg: %w", op.ID, kind, cause)
}
