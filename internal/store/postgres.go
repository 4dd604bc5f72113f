package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id  TEXT PRIMARY KEY,
	dept        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	account_id    TEXT NOT NULL REFERENCES accounts(account_id),
	roll_number   TEXT NOT NULL,
	count         INTEGER NOT NULL DEFAULT 0,
	fine          INTEGER NOT NULL DEFAULT 0,
	status        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TEXT NOT NULL DEFAULT '',
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (account_id, roll_number)
);

CREATE TABLE IF NOT EXISTS late_comers (
	id      TEXT PRIMARY KEY,
	fields  JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS archive (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	roll_number    TEXT NOT NULL,
	dept           TEXT NOT NULL DEFAULT '',
	count          INTEGER NOT NULL,
	fine           INTEGER NOT NULL,
	total_amount   BIGINT NOT NULL,
	status         BOOLEAN NOT NULL,
	created_at     TEXT NOT NULL,
	archived_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	settlement_id  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_period ON archive(created_at, roll_number);
`

// Postgres implements Store on Postgres using pgx. The account row lock
// stands in for the per-document write serialization of a document store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Postgres connection with sane defaults and applies the schema.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Account returns the account row and all of its ledger entries.
func (p *Postgres) Account(ctx context.Context, accountID string) (Account, error) {
	acc := Account{ID: accountID, Entries: map[string]LedgerEntry{}}
	err := p.db.QueryRowContext(ctx, `SELECT dept FROM accounts WHERE account_id = $1`, accountID).Scan(&acc.Dept)
	if errors.Is(err, sql.ErrNoRows) {
		return acc, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("postgres: get account %s: %w", accountID, err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT roll_number, count, fine, status, created_at, last_updated
		FROM ledger_entries
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return Account{}, fmt.Errorf("postgres: list entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.RollNumber, &e.Count, &e.Fine, &e.Status, &e.CreatedAt, &e.LastUpdated); err != nil {
			return Account{}, err
		}
		acc.Entries[e.RollNumber] = e
	}
	return acc, rows.Err()
}

// RegisterAccount creates the account or updates its department.
func (p *Postgres) RegisterAccount(ctx context.Context, accountID, dept string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, dept)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET dept = EXCLUDED.dept
	`, accountID, dept)
	if err != nil {
		return fmt.Errorf("postgres: register account %s: %w", accountID, err)
	}
	return nil
}

// UpdateEntry locks the account row, hands the entry to fn and writes the
// mutation before committing.
func (p *Postgres) UpdateEntry(ctx context.Context, accountID, rollNumber string, fn EntryFunc) (Mutation, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Mutation{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (account_id) VALUES ($1)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID); err != nil {
		return Mutation{}, fmt.Errorf("postgres: ensure account: %w", err)
	}

	cur := Snapshot{AccountID: accountID}
	if err := tx.QueryRowContext(ctx, `SELECT dept FROM accounts WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&cur.Dept); err != nil {
		return Mutation{}, fmt.Errorf("postgres: lock account: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&cur.Entries); err != nil {
		return Mutation{}, fmt.Errorf("postgres: count entries: %w", err)
	}
	err = tx.QueryRowContext(ctx, `
		SELECT count, fine, status, created_at, last_updated
		FROM ledger_entries WHERE account_id = $1 AND roll_number = $2
	`, accountID, rollNumber).Scan(&cur.Entry.Count, &cur.Entry.Fine, &cur.Entry.Status, &cur.Entry.CreatedAt, &cur.Entry.LastUpdated)
	switch {
	case err == nil:
		cur.Exists = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Mutation{}, fmt.Errorf("postgres: get entry: %w", err)
	}
	cur.Entry.RollNumber = rollNumber

	mut, err := fn(cur)
	if err != nil {
		return Mutation{}, err
	}

	mut.Entry.RollNumber = rollNumber
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, roll_number, count, fine, status, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (account_id, roll_number) DO UPDATE SET
			count = EXCLUDED.count,
			fine = EXCLUDED.fine,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			last_updated = EXCLUDED.last_updated
		RETURNING last_updated
	`, accountID, rollNumber, mut.Entry.Count, mut.Entry.Fine, mut.Entry.Status, mut.Entry.CreatedAt).Scan(&mut.Entry.LastUpdated)
	if err != nil {
		return Mutation{}, fmt.Errorf("postgres: write entry: %w", err)
	}

	if mut.Archive != nil {
		rec := *mut.Archive
		err = tx.QueryRowContext(ctx, `
			INSERT INTO archive (id, account_id, roll_number, dept, count, fine, total_amount, status, created_at, archived_at, settlement_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10)
			ON CONFLICT (id) DO UPDATE SET
				account_id = EXCLUDED.account_id,
				roll_number = EXCLUDED.roll_number,
				dept = EXCLUDED.dept,
				count = EXCLUDED.count,
				fine = EXCLUDED.fine,
				total_amount = EXCLUDED.total_amount,
				status = EXCLUDED.status,
				created_at = EXCLUDED.created_at,
				archived_at = EXCLUDED.archived_at,
				settlement_id = EXCLUDED.settlement_id
			RETURNING archived_at
		`, rec.ID, rec.AccountID, rec.RollNumber, rec.Dept, rec.Count, rec.Fine, rec.TotalAmount, rec.Status, rec.CreatedAt, rec.SettlementID).Scan(&rec.ArchivedAt)
		if err != nil {
			return Mutation{}, fmt.Errorf("postgres: write archive: %w", err)
		}
		mut.Archive = &rec
	}

	if err := tx.Commit(); err != nil {
		return Mutation{}, fmt.Errorf("postgres: commit: %w", err)
	}
	return mut, nil
}

// LateComerIDs lists every late-comers id.
func (p *Postgres) LateComerIDs(ctx context.Context) ([]string, error) {
	return p.queryIDs(ctx, `SELECT id FROM late_comers ORDER BY id`)
}

// LateComerPage lists up to limit ids after the cursor.
func (p *Postgres) LateComerPage(ctx context.Context, after string, limit int) ([]string, error) {
	return p.queryIDs(ctx, `SELECT id FROM late_comers WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
}

func (p *Postgres) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list late_comers: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceLateComers empties the listed documents in one transaction.
func (p *Postgres) ReplaceLateComers(ctx context.Context, ids []string) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	return p.batch(ctx, ids, `UPDATE late_comers SET fields = '{}'::jsonb WHERE id = $1`)
}

// UpdateLateComers merges fields into the listed documents in one transaction.
func (p *Postgres) UpdateLateComers(ctx context.Context, ids []string, fields map[string]any) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres: encode fields: %w", err)
	}
	return p.batch(ctx, ids, `UPDATE late_comers SET fields = fields || $2::jsonb WHERE id = $1`, string(patch))
}

func (p *Postgres) batch(ctx context.Context, ids []string, stmt string, args ...any) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, stmt, append([]any{id}, args...)...); err != nil {
			return fmt.Errorf("postgres: batch write %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	return nil
}

// ArchiveByPeriod returns archive rows for a period tag ordered by roll number.
func (p *Postgres) ArchiveByPeriod(ctx context.Context, period string) ([]ArchiveRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, roll_number, dept, count, fine, total_amount, status, created_at, archived_at, settlement_id
		FROM archive
		WHERE created_at = $1
		ORDER BY roll_number ASC
	`, period)
	if err != nil {
		return nil, fmt.Errorf("postgres: query archive: %w", err)
	}
	defer rows.Close()
	var out []ArchiveRecord
	for rows.Next() {
		var r ArchiveRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.RollNumber, &r.Dept, &r.Count, &r.Fine, &r.TotalAmount, &r.Status, &r.CreatedAt, &r.ArchivedAt, &r.SettlementID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Healthy pings the database.
func (p *Postgres) Healthy(ctx context.Context) bool {
	return p.db.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
