package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// OperationStore implements domain.OperationStore using PostgreSQL.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates a new OperationStore.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

const operationColumns = `id, mode, symbol, acquire_exchange, dispose_exchange,
	expected_acquire_price, expected_dispose_price, real_acquire_price, real_dispose_price,
	invested_amount, actual_invested_amount, asset_amount, acquire_fee, dispose_fee, transfer_fee,
	final_usdt_received, profit_loss, status, reservation, ai_confidence, transaction_id, legs,
	error_message, created_at, updated_at, completed_at`

// Create inserts op. A duplicate ID is domain.ErrAlreadyExists.
func (s *OperationStore) Create(ctx context.Context, op domain.Operation) error {
	legs, err := marshalLegs(op.Legs)
	if err != nil {
		return err
	}
	const query = `INSERT INTO operations (` + operationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`
	_, err = s.pool.Exec(ctx, query,
		op.ID, string(op.Mode), op.Symbol, op.AcquireExchange, op.DisposeExchange,
		op.ExpectedAcquirePrice, op.ExpectedDisposePrice, op.RealAcquirePrice, op.RealDisposePrice,
		op.InvestedAmount, op.ActualInvestedAmount, op.AssetAmount, op.AcquireFee, op.DisposeFee, op.TransferFee,
		op.FinalUSDTReceived, op.ProfitLoss, string(op.Status), string(op.Reservation), op.AIConfidence,
		op.TransactionID, legs, op.ErrorMessage, op.CreatedAt, op.UpdatedAt, op.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create operation %s: %w", op.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create operation %s: %w", op.ID, err)
	}
	return nil
}

// Update overwrites every mutable column of op.
func (s *OperationStore) Update(ctx context.Context, op domain.Operation) error {
	legs, err := marshalLegs(op.Legs)
	if err != nil {
		return err
	}
	const query = `
		UPDATE operations SET
			real_acquire_price     = $2,
			real_dispose_price     = $3,
			actual_invested_amount = $4,
			asset_amount           = $5,
			acquire_fee            = $6,
			dispose_fee            = $7,
			transfer_fee           = $8,
			final_usdt_received    = $9,
			profit_loss            = $10,
			status                 = $11,
			reservation            = $12,
			ai_confidence          = $13,
			transaction_id         = $14,
			legs                   = $15,
			error_message          = $16,
			updated_at             = $17,
			completed_at           = $18
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		op.ID, op.RealAcquirePrice, op.RealDisposePrice, op.ActualInvestedAmount, op.AssetAmount,
		op.AcquireFee, op.DisposeFee, op.TransferFee, op.FinalUSDTReceived, op.ProfitLoss,
		string(op.Status), string(op.Reservation), op.AIConfidence, op.TransactionID, legs,
		op.ErrorMessage, op.UpdatedAt, op.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update operation %s: %w", op.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update operation %s: %w", op.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the operation with id.
func (s *OperationStore) GetByID(ctx context.Context, id string) (domain.Operation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = $1`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Operation{}, domain.ErrNotFound
		}
		return domain.Operation{}, fmt.Errorf("postgres: get operation %s: %w", id, err)
	}
	return op, nil
}

// List returns matching operations newest first. Since and Until bound
// updated_at, Until exclusive.
func (s *OperationStore) List(ctx context.Context, f domain.OperationFilter, opts domain.ListOpts) ([]domain.Operation, error) {
	q := newQuery(`SELECT ` + operationColumns + ` FROM operations WHERE 1=1`)
	if f.Mode != "" {
		q.where("mode =", string(f.Mode))
	}
	if f.Status != "" {
		q.where("status =", string(f.Status))
	}
	if f.Symbol != "" {
		q.where("symbol =", f.Symbol)
	}
	if opts.Since != nil {
		q.where("updated_at >=", *opts.Since)
	}
	if opts.Until != nil {
		q.where("updated_at <", *opts.Until)
	}
	q.add(" ORDER BY created_at DESC")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations: %w", err)
	}
	defer rows.Close()

	var out []domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan operation: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list operations rows: %w", err)
	}
	return out, nil
}

func marshalLegs(legs []domain.LegRecord) ([]byte, error) {
	if legs == nil {
		legs = []domain.LegRecord{}
	}
	b, err := json.Marshal(legs)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal legs: %w", err)
	}
	return b, nil
}

func scanOperation(row pgx.Row) (domain.Operation, error) {
	var (
		op                        domain.Operation
		mode, status, reservation string
		legs                      []byte
	)
	err := row.Scan(
		&op.ID, &mode, &op.Symbol, &op.AcquireExchange, &op.DisposeExchange,
		&op.ExpectedAcquirePrice, &op.ExpectedDisposePrice, &op.RealAcquirePrice, &op.RealDisposePrice,
		&op.InvestedAmount, &op.ActualInvestedAmount, &op.AssetAmount, &op.AcquireFee, &op.DisposeFee, &op.TransferFee,
		&op.FinalUSDTReceived, &op.ProfitLoss, &status, &reservation, &op.AIConfidence, &op.TransactionID, &legs,
		&op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt, &op.CompletedAt,
	)
	if err != nil {
		return domain.Operation{}, err
	}
	op.Mode = domain.Mode(mode)
	op.Status = domain.OperationStatus(status)
	op.Reservation = domain.ReservationState(reservation)
	if len(legs) > 0 {
		if err := json.Unmarshal(legs, &op.Legs); err != nil {
			return domain.Operation{}, fmt.Errorf("unmarshal legs: %w", err)
		}
	}
	if len(op.Legs) == 0 {
		op.Legs = nil
	}
	return op, nil
}
