package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/wallet-core/internal/ledger"
	"github.com/congo-pay/wallet-core/internal/money"
)

const (
	walletColumns      = `id::text, owner_type, owner_id, currency, available_ore::text, reserved_ore::text, created_at, updated_at`
	reservationColumns = `id::text, wallet_id::text, campaign_id, amount_ore::text, status, created_at, updated_at`
	entryColumns       = `id::text, wallet_id::text, entry_type, amount_ore::text, currency, reference_type, reference_id, metadata, created_at`

	ownerCurrencyConstraint = "wallets_owner_currency_key"
)

var _ Store = (*PostgresStore)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists wallet state in PostgreSQL. Mutations run at READ
// COMMITTED and serialise on the wallet row via SELECT ... FOR UPDATE.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore builds a store. A positive lockTimeout bounds how long a
// transaction waits for a wallet row lock.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("wallet id: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO wallets (id, owner_type, owner_id, currency, available_ore, reserved_ore, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)`,
		id, w.OwnerType, w.OwnerID, w.Currency, w.Available.String(), w.Reserved.String(), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == ownerCurrencyConstraint {
			return ErrWalletExists
		}
		return classify("insert wallet", err)
	}
	return nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return getWallet(ctx, s.db, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
}

func (s *PostgresStore) ListEntries(ctx context.Context, walletID string, limit int) ([]ledger.Entry, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return []ledger.Entry{}, nil
	}
	return queryEntries(ctx, s.db, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`, id, limit)
}

func (s *PostgresStore) ActiveReservations(ctx context.Context, campaignID string) ([]Reservation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+reservationColumns+` FROM reservations
        WHERE campaign_id = $1 AND status = $2 ORDER BY created_at, id`, campaignID, string(StatusActive))
	if err != nil {
		return nil, classify("query active reservations", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate active reservations", err)
	}
	return out, nil
}

func (s *PostgresStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists); err != nil {
		return false, classify("lookup processed event", err)
	}
	return exists, nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev ProcessedEvent) error {
	return recordEvent(ctx, s.db, ev)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify("set lock timeout", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return getWallet(ctx, t.tx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
}

func (t *pgTx) UpdateBalances(ctx context.Context, id string, available, reserved money.Amount, now time.Time) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return getWallet(ctx, t.tx, `UPDATE wallets
        SET available_ore = $2::text::numeric, reserved_ore = $3::text::numeric, updated_at = $4
        WHERE id = $1
        RETURNING `+walletColumns, walletID, available.String(), reserved.String(), now)
}

func (t *pgTx) GetReservation(ctx context.Context, id string) (Reservation, error) {
	reservationID, err := uuid.Parse(id)
	if err != nil {
		return Reservation{}, ErrReservationNotFound
	}
	r, err := scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, reservationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return r, err
}

func (t *pgTx) InsertReservation(ctx context.Context, r Reservation) error {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return fmt.Errorf("reservation id: %w", err)
	}
	walletID, err := uuid.Parse(r.WalletID)
	if err != nil {
		return ErrWalletNotFound
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO reservations (id, wallet_id, campaign_id, amount_ore, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7)`,
		id, walletID, r.CampaignID, r.Amount.String(), string(r.Status), r.CreatedAt, r.UpdatedAt)
	return classify("insert reservation", err)
}

func (t *pgTx) UpdateReservationStatus(ctx context.Context, id string, status Status, now time.Time) error {
	reservationID, err := uuid.Parse(id)
	if err != nil {
		return ErrReservationNotFound
	}
	tag, err := t.tx.Exec(ctx, `UPDATE reservations SET status = $2, updated_at = $3 WHERE id = $1`, reservationID, string(status), now)
	if err != nil {
		return classify("update reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	walletID, err := uuid.Parse(e.WalletID)
	if err != nil {
		return ErrWalletNotFound
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO ledger_entries (id, wallet_id, entry_type, amount_ore, currency, reference_type, reference_id, metadata, created_at)
        VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9)`,
		id, walletID, string(e.Type), e.Amount.String(), e.Currency, string(e.ReferenceType), e.ReferenceID, e.Metadata, e.CreatedAt)
	return classify("insert ledger entry", err)
}

func (t *pgTx) Entries(ctx context.Context, walletID string) ([]ledger.Entry, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	return queryEntries(ctx, t.tx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE wallet_id = $1 ORDER BY created_at, seq`, id)
}

func (t *pgTx) RecordEvent(ctx context.Context, ev ProcessedEvent) error {
	return recordEvent(ctx, t.tx, ev)
}

func recordEvent(ctx context.Context, q querier, ev ProcessedEvent) error {
	_, err := q.Exec(ctx, `INSERT INTO processed_events (event_id, event_type, processed_at) VALUES ($1, $2, $3)`,
		ev.EventID, ev.EventType, ev.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEventAlreadyProcessed
		}
		return classify("insert processed event", err)
	}
	return nil
}

func getWallet(ctx context.Context, q querier, query string, args ...any) (Wallet, error) {
	var (
		w                   Wallet
		available, reserved string
	)
	err := q.QueryRow(ctx, query, args...).Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Currency, &available, &reserved, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, classify("query wallet", err)
	}
	if w.Available, err = money.Parse(available); err != nil {
		return Wallet{}, fmt.Errorf("parse available balance: %w", err)
	}
	if w.Reserved, err = money.Parse(reserved); err != nil {
		return Wallet{}, fmt.Errorf("parse reserved balance: %w", err)
	}
	return w, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		r      Reservation
		amount string
		status string
	)
	if err := row.Scan(&r.ID, &r.WalletID, &r.CampaignID, &amount, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, err
		}
		return Reservation{}, classify("scan reservation", err)
	}
	var err error
	if r.Amount, err = money.Parse(amount); err != nil {
		return Reservation{}, fmt.Errorf("parse reservation amount: %w", err)
	}
	r.Status = Status(status)
	return r, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("query ledger entries", err)
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		var (
			e                        ledger.Entry
			entryType, referenceType string
			amount                   string
		)
		if err := rows.Scan(&e.ID, &e.WalletID, &entryType, &amount, &e.Currency, &referenceType, &e.ReferenceID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, classify("scan ledger entry", err)
		}
		if e.Amount, err = money.Parse(amount); err != nil {
			return nil, fmt.Errorf("parse entry amount: %w", err)
		}
		e.Type = ledger.EntryType(entryType)
		e.ReferenceType = ledger.ReferenceType(referenceType)
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate ledger entries", err)
	}
	return entries, nil
}

// classify maps lock and serialization failures to ErrStoreContention, data
// exceptions (class 22) to ErrStoreRejected and integrity violations (class 23)
// to ErrStoreConstraint. Everything else is wrapped with the failed operation.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return ErrStoreContention.WithCause(err).With("sqlstate", pgErr.Code)
		}
		switch {
		case strings.HasPrefix(pgErr.Code, "22"):
			return ErrStoreRejected.WithCause(err).With("sqlstate", pgErr.Code).With("op", op)
		case strings.HasPrefix(pgErr.Code, "23"):
			return ErrStoreConstraint.WithCause(err).With("sqlstate", pgErr.Code).With("op", op)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStoreContention.WithCause(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
