package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Every Apply
// runs in one transaction: the ledger_journal insert, the row lock and the
// entry write commit or roll back together.
type BalanceStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool, now: time.Now}
}

const balanceColumns = `mode, exchange_id, usdt_balance, reserved_balance, total_profit_loss,
	total_operations, assets, is_active, is_primary, updated_at`

// Apply performs m atomically. A Ref already present in ledger_journal makes
// the call a no-op that returns the current entry.
func (s *BalanceStore) Apply(ctx context.Context, m domain.BalanceMutation) (domain.BalanceEntry, error) {
	if err := m.Validate(); err != nil {
		return domain.BalanceEntry{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.BalanceEntry{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serializes writers of this entry, including its first creation.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		"balance:"+string(m.Mode)+"/"+m.ExchangeID); err != nil {
		return domain.BalanceEntry{}, fmt.Errorf("postgres: lock balance %s/%s: %w", m.Mode, m.ExchangeID, err)
	}

	if m.Ref != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger_journal (ref, mode, exchange_id, kind, amount, profit_loss, asset)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (ref) DO NOTHING`,
			m.Ref, string(m.Mode), m.ExchangeID, string(m.Kind), m.Amount, m.ProfitLoss, m.Asset,
		)
		if err != nil {
			return domain.BalanceEntry{}, fmt.Errorf("postgres: journal %s: %w", m.Ref, err)
		}
		if tag.RowsAffected() == 0 {
			entry, err := getEntry(ctx, tx, m.Mode, m.ExchangeID, false)
			if err != nil {
				return domain.BalanceEntry{}, err
			}
			return entry, nil
		}
	}

	entry, err := getEntry(ctx, tx, m.Mode, m.ExchangeID, true)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if !m.Kind.CreatesEntry() {
			if m.Kind == domain.MutationReserve {
				return domain.BalanceEntry{}, domain.ErrInsufficientBalance
			}
			return domain.BalanceEntry{}, fmt.Errorf("postgres: %s %s/%s: %w", m.Kind, m.Mode, m.ExchangeID, domain.ErrNotFound)
		}
		entry = domain.NewBalanceEntry(m.Mode, m.ExchangeID)
		if m.Kind == domain.MutationFund {
			if entry.IsPrimary, err = s.claimPrimary(ctx, tx, m.Mode); err != nil {
				return domain.BalanceEntry{}, err
			}
		}
	case err != nil:
		return domain.BalanceEntry{}, err
	}

	next, err := entry.Apply(m)
	if err != nil {
		return domain.BalanceEntry{}, err
	}
	next.UpdatedAt = s.now()
	if err := putEntry(ctx, tx, next); err != nil {
		return domain.BalanceEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.BalanceEntry{}, fmt.Errorf("postgres: commit balance %s/%s: %w", m.Mode, m.ExchangeID, err)
	}
	return next, nil
}

// claimPrimary reports whether mode has no primary entry yet, holding a
// mode-wide lock until the transaction ends.
func (s *BalanceStore) claimPrimary(ctx context.Context, tx pgx.Tx, mode domain.Mode) (bool, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "primary:"+string(mode)); err != nil {
		return false, fmt.Errorf("postgres: lock primary %s: %w", mode, err)
	}
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM balance_entries WHERE mode = $1 AND is_primary)`, string(mode),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: check primary %s: %w", mode, err)
	}
	return !exists, nil
}

// Get returns the entry for (mode, exchangeID).
func (s *BalanceStore) Get(ctx context.Context, mode domain.Mode, exchangeID string) (domain.BalanceEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM balance_entries WHERE mode = $1 AND exchange_id = $2`,
		string(mode), exchangeID,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BalanceEntry{}, domain.ErrNotFound
		}
		return domain.BalanceEntry{}, fmt.Errorf("postgres: get balance %s/%s: %w", mode, exchangeID, err)
	}
	return e, nil
}

// List returns the entries of mode ordered by exchange.
func (s *BalanceStore) List(ctx context.Context, mode domain.Mode) ([]domain.BalanceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+balanceColumns+` FROM balance_entries WHERE mode = $1 ORDER BY exchange_id`, string(mode))
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances %s: %w", mode, err)
	}
	defer rows.Close()

	var out []domain.BalanceEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return out, nil
}

// SetPrimary moves the primary flag within mode to exchangeID.
func (s *BalanceStore) SetPrimary(ctx context.Context, mode domain.Mode, exchangeID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := getEntry(ctx, tx, mode, exchangeID, true); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE balance_entries SET is_primary = FALSE WHERE mode = $1 AND is_primary`, string(mode),
	); err != nil {
		return fmt.Errorf("postgres: clear primary %s: %w", mode, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE balance_entries SET is_primary = TRUE, updated_at = $3 WHERE mode = $1 AND exchange_id = $2`,
		string(mode), exchangeID, s.now(),
	); err != nil {
		return fmt.Errorf("postgres: set primary %s/%s: %w", mode, exchangeID, err)
	}
	return tx.Commit(ctx)
}

// Deactivate marks the entry inactive so further reservations fail.
func (s *BalanceStore) Deactivate(ctx context.Context, mode domain.Mode, exchangeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE balance_entries SET is_active = FALSE, updated_at = $3 WHERE mode = $1 AND exchange_id = $2`,
		string(mode), exchangeID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("postgres: deactivate %s/%s: %w", mode, exchangeID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func getEntry(ctx context.Context, tx pgx.Tx, mode domain.Mode, exchangeID string, forUpdate bool) (domain.BalanceEntry, error) {
	query := `SELECT ` + balanceColumns + ` FROM balance_entries WHERE mode = $1 AND exchange_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(tx.QueryRow(ctx, query, string(mode), exchangeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BalanceEntry{}, domain.ErrNotFound
		}
		return domain.BalanceEntry{}, fmt.Errorf("postgres: get balance %s/%s: %w", mode, exchangeID, err)
	}
	return e, nil
}

func putEntry(ctx context.Context, tx pgx.Tx, e domain.BalanceEntry) error {
	assets, err := json.Marshal(e.Assets)
	if err != nil {
		return fmt.Errorf("postgres: marshal assets: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO balance_entries (`+balanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (mode, exchange_id) DO UPDATE SET
			usdt_balance      = EXCLUDED.usdt_balance,
			reserved_balance  = EXCLUDED.reserved_balance,
			total_profit_loss = EXCLUDED.total_profit_loss,
			total_operations  = EXCLUDED.total_operations,
			assets            = EXCLUDED.assets,
			is_active         = EXCLUDED.is_active,
			is_primary        = EXCLUDED.is_primary,
			updated_at        = EXCLUDED.updated_at`,
		string(e.Mode), e.ExchangeID, e.USDTBalance, e.ReservedBalance, e.TotalProfitLoss,
		e.TotalOperations, assets, e.IsActive, e.IsPrimary, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: write balance %s/%s: %w", e.Mode, e.ExchangeID, err)
	}
	return nil
}

func scanEntry(row pgx.Row) (domain.BalanceEntry, error) {
	var (
		e      domain.BalanceEntry
		mode   string
		assets []byte
	)
	err := row.Scan(&mode, &e.ExchangeID, &e.USDTBalance, &e.ReservedBalance, &e.TotalProfitLoss,
		&e.TotalOperations, &assets, &e.IsActive, &e.IsPrimary, &e.UpdatedAt)
	if err != nil {
		return domain.BalanceEntry{}, err
	}
	e.Mode = domain.Mode(mode)
	e.Assets = map[string]decimal.Decimal{}
	if len(assets) > 0 {
		if err := json.Unmarshal(assets, &e.Assets); err != nil {
			return domain.BalanceEntry{}, fmt.Errorf("unmarshal assets: %w", err)
		}
	}
	return e, nil
}
