package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxpay/fluxpay/internal/platform/db"
)

// ErrVersionConflict signals that an account row changed between read and
// save. The transactional unit must be aborted and retried from a fresh read.
var ErrVersionConflict = errors.New("transfer: optimistic version conflict")

// ErrAccountExists indicates a duplicate account id on creation.
var ErrAccountExists = errors.New("transfer: account already exists")

// TxRepository is the data access surface available inside one atomic unit.
type TxRepository interface {
	FindAccount(ctx context.Context, id string) (*Account, error)
	// SaveAccount persists the mutated account. It returns ErrVersionConflict
	// when the stored version no longer matches the version the account was
	// read with.
	SaveAccount(ctx context.Context, account *Account) error
	// AppendEntry writes one immutable ledger entry. Append-only.
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
}

// Repository defines transfer persistence. WithTx runs fn inside a single
// transaction; either everything fn wrote commits, or nothing does.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListEntries(ctx context.Context, accountID string) ([]LedgerEntry, error)
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

func (r *pgRepository) CreateAccount(ctx context.Context, account *Account) error {
	query := `
		INSERT INTO accounts (id, balance, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())`
	_, err := r.pool.Exec(ctx, query, account.ID, account.Balance, account.Currency)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAccountExists
		}
		return fmt.Errorf("transfer: create account: %w", err)
	}
	account.Version = 1
	return nil
}

func (r *pgRepository) GetAccount(ctx context.Context, id string) (*Account, error) {
	return scanAccount(ctx, r.pool, id)
}

func (r *pgRepository) ListEntries(ctx context.Context, accountID string) ([]LedgerEntry, error) {
	query := `
		SELECT id, account_id, event_id, currency, amount, balance_after,
		       type, status, operation_date, processed_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY processed_at DESC`
	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("transfer: list entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EventID, &e.Currency, &e.Amount,
			&e.BalanceAfter, &e.Type, &e.Status, &e.OperationDate, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("transfer: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) FindAccount(ctx context.Context, id string) (*Account, error) {
	return scanAccount(ctx, r.tx, id)
}

func (r *pgTxRepository) SaveAccount(ctx context.Context, account *Account) error {
	query := `
		UPDATE accounts
		SET balance = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3`
	tag, err := r.tx.Exec(ctx, query, account.ID, account.Balance, account.Version)
	if err != nil {
		return fmt.Errorf("transfer: save account %s: %w", account.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// The account existed at read time, so a zero-row update means the
		// version moved underneath us.
		return ErrVersionConflict
	}
	account.Version++
	return nil
}

func (r *pgTxRepository) AppendEntry(ctx context.Context, entry *LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			id, account_id, event_id, currency, amount, balance_after,
			type, status, operation_date, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.tx.Exec(ctx, query, entry.ID, entry.AccountID, entry.EventID,
		entry.Currency, entry.Amount, entry.BalanceAfter, entry.Type, entry.Status,
		entry.OperationDate, entry.ProcessedAt)
	if err != nil {
		return fmt.Errorf("transfer: append entry: %w", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanAccount(ctx context.Context, q rowQuerier, id string) (*Account, error) {
	query := `SELECT id, balance, currency, version FROM accounts WHERE id = $1`
	var a Account
	err := q.QueryRow(ctx, query, id).Scan(&a.ID, &a.Balance, &a.Currency, &a.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &AccountNotFoundError{AccountID: id}
		}
		return nil, fmt.Errorf("transfer: find account %s: %w", id, err)
	}
	return &a, nil
}
