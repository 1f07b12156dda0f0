package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// AnalysisStore implements domain.AnalysisStore using PostgreSQL.
type AnalysisStore struct {
	pool *pgxpool.Pool
}

// NewAnalysisStore creates a new AnalysisStore.
func NewAnalysisStore(pool *pgxpool.Pool) *AnalysisStore {
	return &AnalysisStore{pool: pool}
}

const analysisColumns = `symbol, acquire_exchange, dispose_exchange, acquire_price, dispose_price,
	spread_percent, taker_fee_acquire, maker_fee_acquire, taker_fee_dispose, maker_fee_dispose,
	withdrawal_fee, withdrawal_network, exchanges_considered, computed_at`

// Upsert replaces the row for a.Symbol.
func (s *AnalysisStore) Upsert(ctx context.Context, a domain.Analysis) error {
	const query = `
		INSERT INTO analyses (` + analysisColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (symbol) DO UPDATE SET
			acquire_exchange     = EXCLUDED.acquire_exchange,
			dispose_exchange     = EXCLUDED.dispose_exchange,
			acquire_price        = EXCLUDED.acquire_price,
			dispose_price        = EXCLUDED.dispose_price,
			spread_percent       = EXCLUDED.spread_percent,
			taker_fee_acquire    = EXCLUDED.taker_fee_acquire,
			maker_fee_acquire    = EXCLUDED.maker_fee_acquire,
			taker_fee_dispose    = EXCLUDED.taker_fee_dispose,
			maker_fee_dispose    = EXCLUDED.maker_fee_dispose,
			withdrawal_fee       = EXCLUDED.withdrawal_fee,
			withdrawal_network   = EXCLUDED.withdrawal_network,
			exchanges_considered = EXCLUDED.exchanges_considered,
			computed_at          = EXCLUDED.computed_at`
	_, err := s.pool.Exec(ctx, query,
		a.Symbol, a.AcquireExchange, a.DisposeExchange, a.AcquirePrice, a.DisposePrice,
		a.SpreadPercent, a.TakerFeeAcquire, a.MakerFeeAcquire, a.TakerFeeDispose, a.MakerFeeDispose,
		a.WithdrawalFee, a.WithdrawalNetwork, a.ExchangesConsidered, a.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert analysis %s: %w", a.Symbol, err)
	}
	return nil
}

// Get returns the analysis for symbol.
func (s *AnalysisStore) Get(ctx context.Context, symbol string) (domain.Analysis, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE symbol = $1`, symbol)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Analysis{}, domain.ErrNotFound
		}
		return domain.Analysis{}, fmt.Errorf("postgres: get analysis %s: %w", symbol, err)
	}
	return a, nil
}

// ListTop orders by spread descending, newest first on ties.
func (s *AnalysisStore) ListTop(ctx context.Context, limit int) ([]domain.Analysis, error) {
	q := newQuery(`SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1`)
	q.add(" ORDER BY spread_percent DESC, computed_at DESC")
	q.page(domain.ListOpts{Limit: limit})
	return s.list(ctx, "list top analyses", q)
}

// ListBefore returns analyses computed strictly before the cutoff.
func (s *AnalysisStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Analysis, error) {
	q := newQuery(`SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1`)
	q.where("computed_at <", before)
	q.add(" ORDER BY symbol")
	return s.list(ctx, "list analyses before", q)
}

func (s *AnalysisStore) list(ctx context.Context, what string, q *query) ([]domain.Analysis, error) {
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", what, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", what, err)
	}
	return out, nil
}

func scanAnalysis(row pgx.Row) (domain.Analysis, error) {
	var a domain.Analysis
	err := row.Scan(
		&a.Symbol, &a.AcquireExchange, &a.DisposeExchange, &a.AcquirePrice, &a.DisposePrice,
		&a.SpreadPercent, &a.TakerFeeAcquire, &a.MakerFeeAcquire, &a.TakerFeeDispose, &a.MakerFeeDispose,
		&a.WithdrawalFee, &a.WithdrawalNetwork, &a.ExchangesConsidered, &a.ComputedAt,
	)
	return a, err
}
