// Package store holds the record store collaborators of the late-comers ledger:
// per-account ledger documents, the legacy late-comers collection and the
// append-only settlement archive. Firestore, Postgres and in-memory backends
// implement the same Store interface.
package store

import (
	"context"
	"errors"
	"time"
)

// Collection names shared by every backend.
const (
	UsersCollection      = "users"
	LateComersCollection = "late-comers"
	ArchiveCollection    = "archive"
)

// MaxBatchSize is the largest number of writes committed atomically in one batch.
const MaxBatchSize = 500

var (
	// ErrBatchTooLarge is returned when a single atomic batch would exceed MaxBatchSize.
	ErrBatchTooLarge = errors.New("store: batch exceeds maximum size")
	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// LedgerEntry is one roll number's late record inside an account document.
type LedgerEntry struct {
	RollNumber  string    `json:"roll_number" firestore:"-"`
	Count       int       `json:"count" firestore:"count"`
	Fine        int       `json:"fine" firestore:"fine"`
	Status      bool      `json:"status" firestore:"status"`
	CreatedAt   string    `json:"created_at" firestore:"createdAt"`
	LastUpdated time.Time `json:"last_updated" firestore:"lastUpdated"`
}

// ArchiveRecord is the snapshot written when a fine is settled.
type ArchiveRecord struct {
	ID           string    `json:"id" firestore:"-"`
	AccountID    string    `json:"account_id" firestore:"accountId"`
	RollNumber   string    `json:"roll_number" firestore:"rollNumber"`
	Dept         string    `json:"dept" firestore:"dept"`
	Count        int       `json:"count" firestore:"count"`
	Fine         int       `json:"fine" firestore:"fine"`
	TotalAmount  int64     `json:"total_amount" firestore:"totalAmount"`
	Status       bool      `json:"status" firestore:"status"`
	CreatedAt    string    `json:"created_at" firestore:"createdAt"`
	ArchivedAt   time.Time `json:"archived_at" firestore:"archivedAt,serverTimestamp"`
	SettlementID string    `json:"settlement_id" firestore:"settlementId"`
}

// Account is a scanning-station account document and its keyed ledger.
type Account struct {
	ID      string
	Dept    string
	Entries map[string]LedgerEntry
}

// ArchiveKey builds the archive document id for an account's roll number.
func ArchiveKey(accountID, rollNumber string) string {
	return accountID + "_" + rollNumber
}

// Snapshot is the transactional view handed to an EntryFunc.
type Snapshot struct {
	AccountID string
	Dept      string
	Entry     LedgerEntry
	Exists    bool
	// Entries is the number of roll numbers currently held by the account.
	Entries int
}

// Mutation is what an EntryFunc asks the store to write. Entry replaces the
// ledger fields of the roll number; Archive, when set, is written in the same
// transaction. LastUpdated and ArchivedAt are assigned by the store.
type Mutation struct {
	Entry   LedgerEntry
	Archive *ArchiveRecord
}

// EntryFunc decides a mutation from the current state of one ledger entry.
// It may run more than once when the store retries a contended transaction
// and must not have side effects.
type EntryFunc func(Snapshot) (Mutation, error)

// Ledgers stores per-account ledger documents.
type Ledgers interface {
	Account(ctx context.Context, accountID string) (Account, error)
	RegisterAccount(ctx context.Context, accountID, dept string) error
	// UpdateEntry runs fn inside one transaction on the account document and
	// applies the returned mutation atomically. The written mutation is returned.
	UpdateEntry(ctx context.Context, accountID, rollNumber string, fn EntryFunc) (Mutation, error)
}

// LateComers stores the legacy late-comers collection.
type LateComers interface {
	// LateComerIDs lists every document id in ascending order.
	LateComerIDs(ctx context.Context) ([]string, error)
	// LateComerPage lists up to limit document ids greater than after, ascending.
	LateComerPage(ctx context.Context, after string, limit int) ([]string, error)
	// ReplaceLateComers overwrites every listed document with an empty one in a single batch.
	ReplaceLateComers(ctx context.Context, ids []string) error
	// UpdateLateComers sets fields on every listed document in a single batch.
	UpdateLateComers(ctx context.Context, ids []string, fields map[string]any) error
}

// Archive reads settlement records.
type Archive interface {
	ArchiveByPeriod(ctx context.Context, period string) ([]ArchiveRecord, error)
}

// Store is the full record store.
type Store interface {
	Ledgers
	LateComers
	Archive
	Healthy(ctx context.Context) bool
	Close() error
}

func checkBatch(ids []string) error {
	if len(ids) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	return nil
}
