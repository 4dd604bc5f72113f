package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded store for tests and local development.
type Memory struct {
	mu         sync.Mutex
	accounts   map[string]*Account
	lateComers map[string]map[string]any
	archive    map[string]ArchiveRecord
	now        func() time.Time
	commitErr  error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:   make(map[string]*Account),
		lateComers: make(map[string]map[string]any),
		archive:    make(map[string]ArchiveRecord),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for store-assigned timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailCommits makes every following write fail with err until called with nil.
func (m *Memory) FailCommits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// PutLateComer stores a late-comers document, replacing any existing one.
func (m *Memory) PutLateComer(id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lateComers[id] = maps.Clone(fields)
}

// LateComer returns a copy of a late-comers document.
func (m *Memory) LateComer(id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.lateComers[id]
	return maps.Clone(doc), ok
}

// ArchiveRecord returns an archive record by document id.
func (m *Memory) ArchiveRecord(id string) (ArchiveRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.archive[id]
	return rec, ok
}

// PutArchive stores an archive record as-is.
func (m *Memory) PutArchive(rec ArchiveRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archive[rec.ID] = rec
}

func (m *Memory) account(accountID string) *Account {
	acc, ok := m.accounts[accountID]
	if !ok {
		acc = &Account{ID: accountID, Entries: make(map[string]LedgerEntry)}
		m.accounts[accountID] = acc
	}
	return acc
}

// Account returns a copy of the account document; unknown accounts are empty.
func (m *Memory) Account(_ context.Context, accountID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return Account{ID: accountID, Entries: map[string]LedgerEntry{}}, nil
	}
	return Account{ID: acc.ID, Dept: acc.Dept, Entries: maps.Clone(acc.Entries)}, nil
}

// RegisterAccount creates the account or updates its department.
func (m *Memory) RegisterAccount(_ context.Context, accountID, dept string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.account(accountID).Dept = dept
	return nil
}

// UpdateEntry applies fn under the store lock.
func (m *Memory) UpdateEntry(_ context.Context, accountID, rollNumber string, fn EntryFunc) (Mutation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountID]
	snap := Snapshot{AccountID: accountID}
	if ok {
		snap.Dept = acc.Dept
		snap.Entries = len(acc.Entries)
		snap.Entry, snap.Exists = acc.Entries[rollNumber]
	}
	snap.Entry.RollNumber = rollNumber

	mut, err := fn(snap)
	if err != nil {
		return Mutation{}, err
	}
	if m.commitErr != nil {
		return Mutation{}, m.commitErr
	}

	now := m.now()
	mut.Entry.RollNumber = rollNumber
	mut.Entry.LastUpdated = now
	m.account(accountID).Entries[rollNumber] = mut.Entry
	if mut.Archive != nil {
		rec := *mut.Archive
		rec.ArchivedAt = now
		m.archive[rec.ID] = rec
		mut.Archive = &rec
	}
	return mut, nil
}

// LateComerIDs lists every late-comers document id.
func (m *Memory) LateComerIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIDs(), nil
}

// LateComerPage lists ids after the cursor.
func (m *Memory) LateComerPage(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page []string
	for _, id := range m.sortedIDs() {
		if id <= after {
			continue
		}
		if len(page) == limit {
			break
		}
		page = append(page, id)
	}
	return page, nil
}

func (m *Memory) sortedIDs() []string {
	ids := make([]string, 0, len(m.lateComers))
	for id := range m.lateComers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReplaceLateComers empties the listed documents, all or nothing.
func (m *Memory) ReplaceLateComers(_ context.Context, ids []string) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, id := range ids {
		m.lateComers[id] = map[string]any{}
	}
	return nil
}

// UpdateLateComers merges fields into the listed documents, all or nothing.
func (m *Memory) UpdateLateComers(_ context.Context, ids []string, fields map[string]any) error {
	if err := checkBatch(ids); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, id := range ids {
		doc, ok := m.lateComers[id]
		if !ok {
			doc = map[string]any{}
			m.lateComers[id] = doc
		}
		maps.Copy(doc, fields)
	}
	return nil
}

// ArchiveByPeriod returns archive records for a period tag ordered by roll number.
func (m *Memory) ArchiveByPeriod(_ context.Context, period string) ([]ArchiveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ArchiveRecord
	for _, rec := range m.archive {
		if rec.CreatedAt == period {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RollNumber < out[j].RollNumber })
	return out, nil
}

// Healthy always reports true.
func (m *Memory) Healthy(context.Context) bool { return true }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
