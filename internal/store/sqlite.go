package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id  TEXT PRIMARY KEY,
	dept        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	account_id    TEXT NOT NULL,
	roll_number   TEXT NOT NULL,
	count         INTEGER NOT NULL DEFAULT 0,
	fine          INTEGER NOT NULL DEFAULT 0,
	status        BOOLEAN NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL DEFAULT '',
	last_updated  DATETIME NOT NULL,
	PRIMARY KEY (account_id, roll_number)
);

CREATE TABLE IF NOT EXISTS late_comers (
	id      TEXT PRIMARY KEY,
	fields  TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS archive (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	roll_number    TEXT NOT NULL,
	dept           TEXT NOT NULL DEFAULT '',
	count          INTEGER NOT NULL,
	fine           INTEGER NOT NULL,
	total_amount   INTEGER NOT NULL,
	status         BOOLEAN NOT NULL,
	created_at     TEXT NOT NULL,
	archived_at    DATETIME NOT NULL,
	settlement_id  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_period ON archive(created_at, roll_number);
`

// SQLite implements Store on a local SQLite file for single-node stations.
// Writers are serialized by a single connection and immediate transactions.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating when missing) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Account returns the account row and all of its ledger entries.
func (s *SQLite) Account(ctx context.Context, accountID string) (Account, error) {
	acc := Account{ID: accountID, Entries: map[string]LedgerEntry{}}
	err := s.db.QueryRowContext(ctx, `SELECT dept FROM accounts WHERE account_id = ?`, accountID).Scan(&acc.Dept)
	if errors.Is(err, sql.ErrNoRows) {
		return acc, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("sqlite: get account %s: %w", accountID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT roll_number, count, fine, status, created_at, last_updated
		FROM ledger_entries WHERE account_id = ?
	`, accountID)
	if err != nil {
		return Account{}, fmt.Errorf("sqlite: list entries: %w", err)
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
func (s *SQLite) RegisterAccount(ctx context.Context, accountID, dept string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, dept) VALUES (?, ?)
		ON CONFLICT (account_id) DO UPDATE SET dept = excluded.dept
	`, accountID, dept)
	if err != nil {
		return fmt.Errorf("sqlite: register account %s: %w", accountID, err)
	}
	return nil
}

// UpdateEntry reads the entry, hands it to fn and writes the mutation in one
// immediate transaction.
func (s *SQLite) UpdateEntry(ctx context.Context, accountID, rollNumber string, fn EntryFunc) (Mutation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mutation{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur := Snapshot{AccountID: accountID}
	err = tx.QueryRowContext(ctx, `SELECT dept FROM accounts WHERE account_id = ?`, accountID).Scan(&cur.Dept)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Mutation{}, fmt.Errorf("sqlite: get account: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE account_id = ?`, accountID).Scan(&cur.Entries); err != nil {
		return Mutation{}, fmt.Errorf("sqlite: count entries: %w", err)
	}
	err = tx.QueryRowContext(ctx, `
		SELECT count, fine, status, created_at, last_updated
		FROM ledger_entries WHERE account_id = ? AND roll_number = ?
	`, accountID, rollNumber).Scan(&cur.Entry.Count, &cur.Entry.Fine, &cur.Entry.Status, &cur.Entry.CreatedAt, &cur.Entry.LastUpdated)
	switch {
	case err == nil:
		cur.Exists = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Mutation{}, fmt.Errorf("sqlite: get entry: %w", err)
	}
	cur.Entry.RollNumber = rollNumber

	mut, err := fn(cur)
	if err != nil {
		return Mutation{}, err
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (account_id) VALUES (?) ON CONFLICT (account_id) DO NOTHING`, accountID); err != nil {
		return Mutation{}, fmt.Errorf("sqlite: ensure account: %w", err)
	}
	mut.Entry.RollNumber = rollNumber
	mut.Entry.LastUpdated = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (account_id, roll_number, count, fine, status, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, roll_number) DO UPDATE SET
			count = excluded.count,
			fine = excluded.fine,
			status = excluded.status,
			created_at = excluded.created_at,
			last_updated = excluded.last_updated
	`, accountID, rollNumber, mut.Entry.Count, mut.Entry.Fine, mut.Entry.Status, mut.Entry.CreatedAt, now); err != nil {
		return Mutation{}, fmt.Errorf("sqlite: write entry: %w", err)
	}

	if mut.Archive != nil {
		rec := *mut.Archive
		rec.ArchivedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO archive (id, account_id, roll_number, dept, count, fine, total_amount, status, created_at, archived_at, settlement_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.AccountID, rec.RollNumber, rec.Dept, rec.Count, rec.Fine, rec.TotalAmount, rec.Status, rec.CreatedAt, rec.ArchivedAt, rec.SettlementID); err != nil {
			return Mutation{}, fmt.Errorf("sqlite: write archive: %w", err)
		}
		mut.Archive = &rec
	}

	if err := tx.Commit(); err != nil {
		return Mutation{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return mut, nil
}

// LateComerIDs lists every late-comers id.
func (s *SQLite) LateComerIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM late_comers ORDER BY id`)
}

// LateComerPage lists up to limit ids after the cursor.
func (s *SQLite) LateComerPage(ctx context.Context, after string, limit int) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM late_comers WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
}

func (s *SQLite) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list late_comers: %w", err)
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

// PutLateComer inserts or replaces one late-comers document.
func (s *SQLite) PutLateComer(ctx context.Context, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO late_comers (id, fields) VALUES (?, ?)`, id, string(raw))
	return err
}

// LateComer returns the fields of one late-comers document.
func (s *SQLite) LateComer(ctx context.Context, id string) (map[string]any, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT fields FROM late_comers WHERE id = ?`, id).Scan(&raw); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	return fields, json.Unmarshal([]byte(raw), &fields)
}

// ReplaceLateComers empties the listed documents in one transaction.
func (s *SQLite) ReplaceLateComers(ctx context.Context, ids []string) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE late_comers SET fields = '{}' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("sqlite: reset %s: %w", id, err)
			}
		}
		return nil
	})
}

// UpdateLateComers merges fields into the listed documents in one
// transaction. Nil values are stored as JSON null, not removed.
func (s *SQLite) UpdateLateComers(ctx context.Context, ids []string, fields map[string]any) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var raw string
			if err := tx.QueryRowContext(ctx, `SELECT fields FROM late_comers WHERE id = ?`, id).Scan(&raw); err != nil {
				return fmt.Errorf("sqlite: read %s: %w", id, err)
			}
			doc := map[string]any{}
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return fmt.Errorf("sqlite: decode %s: %w", id, err)
			}
			for k, v := range fields {
				doc[k] = v
			}
			merged, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE late_comers SET fields = ? WHERE id = ?`, string(merged), id); err != nil {
				return fmt.Errorf("sqlite: update %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit batch: %w", err)
	}
	return nil
}

// ArchiveByPeriod returns archive rows for a period tag ordered by roll number.
func (s *SQLite) ArchiveByPeriod(ctx context.Context, period string) ([]ArchiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, roll_number, dept, count, fine, total_amount, status, created_at, archived_at, settlement_id
		FROM archive WHERE created_at = ? ORDER BY roll_number ASC
	`, period)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query archive: %w", err)
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
func (s *SQLite) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
